package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"afkwatch/internal/metrics"
)

// Notifier delivers messages to every administrator chat
type Notifier struct {
	client  *Client
	chatIds []ChatId
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

func NewNotifier(client *Client, chatIds []ChatId, m *metrics.Metrics) *Notifier {
	return &Notifier{client: client, chatIds: chatIds, metrics: m, timeout: 2 * time.Minute}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.client.Enabled() && len(n.chatIds) > 0
}

// Notify sends the text to every chat and reports all the failures
func (n *Notifier) Notify(ctx context.Context, text string) error {

	if !n.Enabled() {
		return ErrDisabled
	}

	var errs []error
	for _, chatId := range n.chatIds {
		if _, err := n.client.SendMessage(ctx, chatId, text); err != nil {
			n.metrics.TelegramMessages.WithLabelValues("failed").Inc()
			errs = append(errs, err)
			continue
		}
		n.metrics.TelegramMessages.WithLabelValues("sent").Inc()
	}
	return errors.Join(errs...)
}

// NotifyAsync sends in the background so discord handlers never wait on
// Telegram. Does nothing when disabled
func (n *Notifier) NotifyAsync(text string) {

	if !n.Enabled() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		log.Warn().Msg("Notifier closed, dropping notification")
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.Notify(ctx, text); err != nil {
			log.Error().Err(err).Msg("Could not notify administrators")
		}
	}()
}

// Wait blocks until the background notifications are done
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

// Close drops every later notification and waits for the pending ones
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
