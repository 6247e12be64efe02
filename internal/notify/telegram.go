package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Notifier = (*Telegram)(nil)

const sendTimeout = 10 * time.Second

// Telegram delivers notifications through the Telegram bot API. Sends run on
// their own goroutine with a bounded timeout so a slow or down API never
// backs up into the engine.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: sendTimeout},
		log:    slog.Default().With("component", "notify"),
	}
}

// TradeOpened reports a new entry.
func (t *Telegram) TradeOpened(ctx context.Context, order *domain.Order) {
	t.send(ctx, fmt.Sprintf(
		"📈 Trade opened\n%s %s %.2f lots @ %.5f\nSL %.5f | TP %.5f",
		order.Symbol, order.Side, order.Volume, order.FilledAvgPrice,
		order.StopLoss, order.TakeProfit,
	))
}

// TradeClosed reports a realized close.
func (t *Telegram) TradeClosed(ctx context.Context, fill domain.Fill, realizedPnL float64) {
	emoji := "✅"
	if realizedPnL < 0 {
		emoji = "❌"
	}
	t.send(ctx, fmt.Sprintf(
		"%s Trade closed\n%s %.2f lots @ %.5f\nPnL %.2f",
		emoji, fill.Symbol, fill.Volume, fill.Price, realizedPnL,
	))
}

// SignalDetected reports a tradeable signal.
func (t *Telegram) SignalDetected(ctx context.Context, sig *domain.Signal) {
	t.send(ctx, fmt.Sprintf(
		"🔔 Signal\n%s %s (%s, confidence %.2f)",
		sig.Symbol, sig.Direction, sig.Strategy, sig.Confidence,
	))
}

// Alert reports a system condition.
func (t *Telegram) Alert(ctx context.Context, level, message string) {
	t.send(ctx, fmt.Sprintf("⚠️ [%s] %s", level, message))
}

// send posts the message asynchronously. ctx cancellation stops an in-flight
// send; errors are logged only.
func (t *Telegram) send(ctx context.Context, text string) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()

		body, err := json.Marshal(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		})
		if err != nil {
			t.log.Warn("marshalling message", "err", err)
			return
		}

		url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
		req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			t.log.Warn("building request", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			t.log.Warn("sending notification", "err", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.log.Warn("notification rejected", "status", resp.StatusCode)
		}
	}()
}
