// Package telegram sends administrator notifications through the
// Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/rs/zerolog/log"

	"afkwatch/internal/common"
)

const DEFAULT_API_URL = "https://api.telegram.org"

// Routes inside the bot API
const ROUTE_METHOD = "/bot%s/%s"

// ErrDisabled is returned when no bot token was configured
var ErrDisabled = errors.New("telegram notifications are disabled")

type Client struct {
	apiURL     string
	token      string
	proxy      *common.Proxy
	maxElapsed time.Duration
}

type ClientOptions struct {
	APIURL string
	Token  string
	// Requests allowed towards the API
	RatePerSecond int
	RatePerMinute int
	HTTPClient    *http.Client
	Clock         quartz.Clock
	// Upper bound for retrying a single message
	MaxElapsed time.Duration
}

func NewClient(opts ClientOptions) *Client {

	if opts.APIURL == "" {
		opts.APIURL = DEFAULT_API_URL
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 60
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = time.Minute
	}
	restrictions := []common.Restriction{
		{Requests: opts.RatePerSecond, Duration: time.Second},
		{Requests: opts.RatePerMinute, Duration: time.Minute},
	}
	header := map[string]string{"Content-Type": "application/json"}
	rateLimiter := common.NewRateLimiter(opts.Clock, restrictions)

	return &Client{
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		token:      opts.Token,
		proxy:      common.NewProxy(header, opts.HTTPClient, rateLimiter),
		maxElapsed: opts.MaxElapsed,
	}
}

func (client *Client) Enabled() bool {
	return client != nil && client.token != ""
}

// GetMe returns the bot account, useful to check the token
func (client *Client) GetMe(ctx context.Context) (User, error) {

	result, err := client.call(ctx, "getMe", nil, false)
	if err != nil {
		return User{}, err
	}
	return DecodeUser(result)
}

// SendMessage sends an HTML formatted message to the chat, retrying
// temporary failures with exponential back off
func (client *Client) SendMessage(ctx context.Context, chatId ChatId, text string) (Message, error) {

	if !client.Enabled() {
		return Message{}, ErrDisabled
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatId:                chatId,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return Message{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.maxElapsed

	var message Message
	operation := func() error {
		result, err := client.call(ctx, "sendMessage", body, true)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("chat_id", string(chatId)).Msg("Telegram message failed, retrying")
			return err
		}
		message, err = DecodeMessage(result)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return Message{}, fmt.Errorf("send telegram message to %s: %w", chatId, err)
	}
	log.Debug().Str("chat_id", string(chatId)).Int64("message_id", message.MessageId).Msg("Telegram message sent")
	return message, nil
}

func (client *Client) call(ctx context.Context, method string, body []byte, vital bool) (json.RawMessage, error) {

	if !client.Enabled() {
		return nil, ErrDisabled
	}

	httpMethod := http.MethodGet
	if body != nil {
		httpMethod = http.MethodPost
	}
	url := client.apiURL + fmt.Sprintf(ROUTE_METHOD, client.token, method)
	response, err := client.proxy.Request(ctx, httpMethod, url, body, vital)
	if err != nil {
		// Never log the url, it carries the token
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}

	result, err := decodeResponse(response.Status, response.Body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			client.proxy.Throttle(apiErr.RetryAfter)
		}
		return nil, err
	}
	return result, nil
}
