package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afkwatch/internal/metrics"
)

type fakeAPI struct {
	mu       sync.Mutex
	received []sendMessageRequest
	flaky    int
}

func (api *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/botTOKEN/getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"afkwatch","username":"afkwatch_bot"}}`))
		return
	case "/botTOKEN/sendMessage":
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	switch req.ChatId {
	case "missing":
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	case "flaky":
		if api.flaky == 0 {
			api.flaky++
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
	}
	api.received = append(api.received, req)
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1700000000,"text":"` + req.Text + `"}}`))
}

func newTestClient(t *testing.T, api http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{APIURL: srv.URL + "/", Token: token, HTTPClient: srv.Client(), MaxElapsed: 5 * time.Second})
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := &fakeAPI{}
	client := newTestClient(t, api, "TOKEN")

	message, err := client.SendMessage(ctx, "100", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(7), message.MessageId)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), message.Date)

	api.mu.Lock()
	require.Len(t, api.received, 1)
	assert.Equal(t, "HTML", api.received[0].ParseMode)
	assert.True(t, api.received[0].DisableWebPagePreview)
	api.mu.Unlock()

	user, err := client.GetMe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "afkwatch_bot", user.Username)
}

func TestSendMessageErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := &fakeAPI{}
	client := newTestClient(t, api, "TOKEN")

	_, err := client.SendMessage(ctx, "missing", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, apiErr.Temporary())

	_, err = client.SendMessage(ctx, "flaky", "retried")
	require.NoError(t, err, "server errors are retried")

	disabled := NewClient(ClientOptions{})
	_, err = disabled.SendMessage(ctx, "1", "x")
	assert.ErrorIs(t, err, ErrDisabled)

	wrongToken := newTestClient(t, api, "OTHER")
	_, err = wrongToken.SendMessage(ctx, "1", "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "OTHER", "the token never shows in errors")
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	result, err := decodeResponse(200, []byte(`{"ok":true,"result":{"a":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(result))

	_, err = decodeResponse(429, []byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":12}}`))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 12*time.Second, apiErr.RetryAfter)
	assert.True(t, apiErr.Temporary())

	_, err = decodeResponse(502, []byte(`<html>bad gateway</html>`))
	require.Error(t, err)
	assert.False(t, errors.As(err, &apiErr))
}

func TestNotifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := &fakeAPI{}
	client := newTestClient(t, api, "TOKEN")
	m := metrics.New(prometheus.NewRegistry())

	notifier := NewNotifier(client, []ChatId{"1", "missing", "2"}, m)
	require.True(t, notifier.Enabled())
	err := notifier.Notify(ctx, "hi")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "chat not found"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TelegramMessages.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelegramMessages.WithLabelValues("failed")))

	notifier.NotifyAsync("async")
	notifier.Wait()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TelegramMessages.WithLabelValues("sent")))

	notifier.Close()
	notifier.NotifyAsync("after close")
	notifier.Wait()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TelegramMessages.WithLabelValues("sent")), "closed notifier drops messages")

	assert.False(t, NewNotifier(client, nil, m).Enabled())
	assert.False(t, NewNotifier(NewClient(ClientOptions{}), []ChatId{"1"}, m).Enabled())
}
