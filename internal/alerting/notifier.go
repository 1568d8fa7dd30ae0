package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bond-screener/internal/bonds"
)

// Report describes one finished batch refresh.
type Report struct {
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    bonds.Summary
	Err        error
}

// Failed reports whether the run aborted or had per-instrument errors.
func (r Report) Failed() bool {
	return r.Err != nil || r.Summary.Errors > 0
}

// Notifier delivers refresh reports.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// TelegramNotifier posts reports through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered report.
func (n *TelegramNotifier) Notify(ctx context.Context, report Report) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(report),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("kind", report.Kind).
		Bool("failed", report.Failed()).
		Msg("refresh report sent")
	return nil
}

func renderMessage(r Report) string {
	var b strings.Builder
	status := "OK"
	if r.Failed() {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "[bond-screener] %s refresh %s\n", r.Kind, status)
	fmt.Fprintf(&b, "Started: %s UTC\n", r.StartedAt.UTC().Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Took: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "Total %d, updated %d, errors %d, skipped %d\n",
		r.Summary.Total, r.Summary.Updated, r.Summary.Errors, r.Summary.Skipped)
	if r.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", r.Err)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
