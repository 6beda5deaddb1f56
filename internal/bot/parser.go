package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	COMMAND_STATS = iota
	COMMAND_TOP
	COMMAND_ACHIEVEMENTS
	COMMAND_STATUS
	COMMAND_HELP
	COMMAND_CHANNEL
	COMMAND_TIMEOUT
	COMMAND_ANNOUNCE
	COMMAND_ENABLE
	COMMAND_DISABLE
	COMMAND_EXEMPT
	COMMAND_NOTIFY
)

var commandNames = map[int]string{
	COMMAND_STATS:        "stats",
	COMMAND_TOP:          "top",
	COMMAND_ACHIEVEMENTS: "achievements",
	COMMAND_STATUS:       "status",
	COMMAND_HELP:         "help",
	COMMAND_CHANNEL:      "channel",
	COMMAND_TIMEOUT:      "timeout",
	COMMAND_ANNOUNCE:     "announce",
	COMMAND_ENABLE:       "enable",
	COMMAND_DISABLE:      "disable",
	COMMAND_EXEMPT:       "exempt",
	COMMAND_NOTIFY:       "notify",
}

const (
	PARSEID_OK = iota
	PARSEID_NO_BOT_PREFIX
	PARSEID_NO_COMMAND
	PARSEID_COMMAND_NOT_RECOGNISED
	PARSEID_NO_INPUT
	PARSEID_NOT_A_USER
	PARSEID_NOT_A_NUMBER
	PARSEID_OUT_OF_RANGE
	PARSEID_NOT_A_NOTIFICATION
)

var errorMessages map[int]string = map[int]string{
	PARSEID_NO_COMMAND:             "No command provided",
	PARSEID_COMMAND_NOT_RECOGNISED: "Command `%s` not recognised",
	PARSEID_NO_INPUT:               "Command `%s` requires an argument",
	PARSEID_NOT_A_USER:             "Input `%s` is not a user mention",
	PARSEID_NOT_A_NUMBER:           "Input `%s` is not a number",
	PARSEID_OUT_OF_RANGE:           "Timeout must be between %d and %d minutes",
	PARSEID_NOT_A_NOTIFICATION:     "Notification `%s` is not one of `afk`, `achievements`",
}

const (
	MIN_TIMEOUT_MINUTES = 1
	MAX_TIMEOUT_MINUTES = 24 * 60
)

// Notification kinds that can be toggled with the notify command
const (
	NOTIFY_AFK          = "afk"
	NOTIFY_ACHIEVEMENTS = "achievements"
)

var mention = regexp.MustCompile(`^<@!?(\d+)>$`)
var snowflake = regexp.MustCompile(`^\d{5,20}$`)

type ParseResult struct {
	command      int
	parseid      int
	errorMessage string
	arguments    interface{}
}

type Parser struct {
	prefix string
}

func NewParser(prefix string) Parser {
	return Parser{prefix: strings.TrimSpace(prefix)}
}

func (parser Parser) Parse(message string) ParseResult {

	noInput := func(command int, commandString string) ParseResult {
		parseid := PARSEID_NO_INPUT
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}

	// The message has to start with the bot prefix as a word of its own
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, parser.prefix) {
		return ParseResult{parseid: PARSEID_NO_BOT_PREFIX}
	}
	rest := message[len(parser.prefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\n' && rest[0] != '\t' {
		return ParseResult{parseid: PARSEID_NO_BOT_PREFIX}
	}

	// Get the command if valid
	words := strings.Fields(rest)
	if len(words) == 0 {
		parseid := PARSEID_NO_COMMAND
		return ParseResult{parseid: parseid, errorMessage: errorMessages[parseid]}
	}
	commandString := strings.ToLower(words[0])
	words = words[1:]
	log.Debug().Str("command", commandString).Msg("Parsing command")

	// Match the command
	switch commandString {
	case "stats":
		// !afk stats [@user]
		return parseOptionalUser(COMMAND_STATS, words)
	case "achievements":
		// !afk achievements [@user]
		return parseOptionalUser(COMMAND_ACHIEVEMENTS, words)
	case "top":
		return ParseResult{command: COMMAND_TOP, parseid: PARSEID_OK}
	case "status":
		return ParseResult{command: COMMAND_STATUS, parseid: PARSEID_OK}
	case "help":
		return ParseResult{command: COMMAND_HELP, parseid: PARSEID_OK}
	case "enable":
		return ParseResult{command: COMMAND_ENABLE, parseid: PARSEID_OK}
	case "disable":
		return ParseResult{command: COMMAND_DISABLE, parseid: PARSEID_OK}
	case "channel":
		// !afk channel <voice_channel_name>
		if len(words) == 0 {
			return noInput(COMMAND_CHANNEL, commandString)
		}
		return ParseResult{command: COMMAND_CHANNEL, parseid: PARSEID_OK, arguments: strings.Join(words, " ")}
	case "announce":
		// !afk announce <text_channel_name|off>
		if len(words) == 0 {
			return noInput(COMMAND_ANNOUNCE, commandString)
		}
		return ParseResult{command: COMMAND_ANNOUNCE, parseid: PARSEID_OK, arguments: strings.TrimPrefix(strings.Join(words, " "), "#")}
	case "timeout":
		// !afk timeout <minutes>
		if len(words) == 0 {
			return noInput(COMMAND_TIMEOUT, commandString)
		}
		return parseTimeout(words[0])
	case "exempt":
		// !afk exempt <@user>
		if len(words) == 0 {
			return noInput(COMMAND_EXEMPT, commandString)
		}
		return parseUser(COMMAND_EXEMPT, words[0])
	case "notify":
		// !afk notify <afk|achievements>
		if len(words) == 0 {
			return noInput(COMMAND_NOTIFY, commandString)
		}
		kind := strings.ToLower(words[0])
		if kind != NOTIFY_AFK && kind != NOTIFY_ACHIEVEMENTS {
			parseid := PARSEID_NOT_A_NOTIFICATION
			return ParseResult{command: COMMAND_NOTIFY, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], words[0])}
		}
		return ParseResult{command: COMMAND_NOTIFY, parseid: PARSEID_OK, arguments: kind}
	default:
		parseid := PARSEID_COMMAND_NOT_RECOGNISED
		return ParseResult{parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}
}

func parseOptionalUser(command int, words []string) ParseResult {
	if len(words) == 0 {
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: ""}
	}
	return parseUser(command, words[0])
}

// Accept mentions and raw ids
func parseUser(command int, word string) ParseResult {

	if match := mention.FindStringSubmatch(word); match != nil {
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: match[1]}
	}
	if snowflake.MatchString(word) {
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: word}
	}
	parseid := PARSEID_NOT_A_USER
	return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], word)}
}

func parseTimeout(word string) ParseResult {

	minutes, err := strconv.Atoi(word)
	if err != nil {
		parseid := PARSEID_NOT_A_NUMBER
		return ParseResult{command: COMMAND_TIMEOUT, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], word)}
	}
	if minutes < MIN_TIMEOUT_MINUTES || minutes > MAX_TIMEOUT_MINUTES {
		parseid := PARSEID_OUT_OF_RANGE
		return ParseResult{command: COMMAND_TIMEOUT, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], MIN_TIMEOUT_MINUTES, MAX_TIMEOUT_MINUTES)}
	}
	return ParseResult{command: COMMAND_TIMEOUT, parseid: PARSEID_OK, arguments: minutes}
}

// adminCommand tells if the command changes the guild settings
func adminCommand(command int) bool {
	switch command {
	case COMMAND_CHANNEL, COMMAND_TIMEOUT, COMMAND_ANNOUNCE, COMMAND_ENABLE, COMMAND_DISABLE, COMMAND_EXEMPT, COMMAND_NOTIFY:
		return true
	default:
		return false
	}
}
