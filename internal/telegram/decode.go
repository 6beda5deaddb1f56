package telegram

import (
	"encoding/json"
	"fmt"
	"time"
)

// decodeResponse unwraps the result of a Bot API answer. Answers that are
// not ok become an *APIError
func decodeResponse(status int, data []byte) (json.RawMessage, error) {

	var response apiResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("decode telegram response (status %d): %w", status, err)
	}
	if response.Ok {
		return response.Result, nil
	}

	apiErr := &APIError{Code: response.ErrorCode, Description: response.Description}
	if apiErr.Code == 0 {
		apiErr.Code = status
	}
	if response.Parameters != nil && response.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(response.Parameters.RetryAfter) * time.Second
	}
	return nil, apiErr
}

func DecodeMessage(data []byte) (Message, error) {

	var raw struct {
		MessageId int64  `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}
	return Message{MessageId: raw.MessageId, Date: time.Unix(raw.Date, 0).UTC(), Text: raw.Text}, nil
}

func DecodeUser(data []byte) (User, error) {

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return User{}, err
	}
	return user, nil
}
