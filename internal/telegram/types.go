package telegram

import (
	"encoding/json"
	"fmt"
	"time"
)

type ChatId string

// What every Bot API method answers with
type apiResponse struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter      int   `json:"retry_after"`
		MigrateToChatId int64 `json:"migrate_to_chat_id"`
	} `json:"parameters"`
}

type sendMessageRequest struct {
	ChatId                ChatId `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
}

type Message struct {
	MessageId int64     `json:"message_id"`
	Date      time.Time `json:"-"`
	Text      string    `json:"text"`
}

type User struct {
	Id        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// APIError is a failure reported by the Bot API itself
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Temporary tells if sending again later may work
func (e *APIError) Temporary() bool {
	return e.Code == 429 || e.Code >= 500
}
