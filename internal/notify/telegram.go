// Package notify delivers rendered text to chat channels. Telegram is the
// production transport; Log is a stand-in for local runs without a bot token.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTelegramBase is the public Bot API endpoint.
const DefaultTelegramBase = "https://api.telegram.org"

// ErrRejected is returned when the Bot API answers ok=false.
var ErrRejected = errors.New("telegram: message rejected")

// Telegram sends messages through the Bot API sendMessage method with HTML
// parse mode. Channel ids are chat ids.
type Telegram struct {
	base       string
	token      string
	httpClient *http.Client
}

// NewTelegram builds a client. An empty base uses DefaultTelegramBase.
// timeout caps each HTTP exchange in addition to the caller's ctx.
func NewTelegram(base, token string, timeout time.Duration) *Telegram {
	if base == "" {
		base = DefaultTelegramBase
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{
		base:       strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements services.Notifier.
func (t *Telegram) Send(ctx context.Context, channelID, text string) error {
	b, err := json.Marshal(sendMessageRequest{ChatID: channelID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error text.
		var uerr interface{ Unwrap() error }
		if errors.As(err, &uerr) && uerr.Unwrap() != nil {
			return fmt.Errorf("telegram: %w", uerr.Unwrap())
		}
		return errors.New("telegram: request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, out.Description)
	}
	if !out.OK {
		return fmt.Errorf("%w: %s", ErrRejected, out.Description)
	}
	return nil
}

// Log writes messages to the structured log instead of sending them.
type Log struct{}

// Send implements services.Notifier.
func (Log) Send(_ context.Context, channelID, text string) error {
	log.Info().Str("channel_id", channelID).Int("bytes", len(text)).Msg("notification (log transport)")
	return nil
}
