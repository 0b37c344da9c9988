package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bybit-funding-bot/internal/signals"
)

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, sig *signals.Signal) error
	Name() string
	IsEnabled() bool
}

// Manager fans a signal out to all enabled providers. Delivery counts as
// successful when at least one provider accepts it.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{notifiers: make([]Notifier, 0)}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Deliver sends the signal card to every enabled provider.
func (m *Manager) Deliver(ctx context.Context, sig *signals.Signal) error {
	var lastErr error
	delivered := false
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, sig); err != nil {
			lastErr = fmt.Errorf("%s: %w", n.Name(), err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.New("no notification providers enabled")
}

// biasGlyph returns the colored circle for a directional lean.
func biasGlyph(bias signals.Bias) string {
	if bias == signals.BiasShort {
		return "🔴"
	}
	return "🟢"
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends signal cards via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, sig *signals.Signal) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00 // Green for LONG
	if sig.Bias == signals.BiasShort {
		color = 0xFF0000 // Red for SHORT
	}

	rsiText := "n/a"
	if sig.RSI != nil {
		// Single evaluation timeframe; the triplet repeats it.
		rsiText = fmt.Sprintf("15m: %.1f | 5m: %.1f | 1m: %.1f", *sig.RSI, *sig.RSI, *sig.RSI)
	}

	fundingSign := ""
	if sig.FundingRate > 0 {
		fundingSign = "+"
	}

	fields := []map[string]interface{}{
		{"name": "Symbol", "value": sig.Symbol, "inline": true},
		{"name": "Timeframe", "value": sig.Timeframe, "inline": true},
		{"name": "Score", "value": fmt.Sprintf("%.1f / 100", sig.Score), "inline": true},
		{"name": "Expected Movement", "value": fmt.Sprintf("↑ %.2f%% / ↓ %.2f%%", sig.Movement.UpPercent, sig.Movement.DownPercent), "inline": true},
		{"name": "RSI", "value": rsiText, "inline": true},
		{"name": "Momentum", "value": string(sig.MomentumLabel), "inline": true},
		{"name": "Funding Rate", "value": fmt.Sprintf("%s%.4f%%", fundingSign, sig.FundingRate), "inline": true},
		{"name": "Bias", "value": fmt.Sprintf("%s %s — %s", biasGlyph(sig.Bias), sig.Bias, sig.FundingBias), "inline": true},
		{"name": "Price", "value": fmt.Sprintf("%.6g", sig.Price), "inline": true},
		{"name": "Context", "value": sig.Context, "inline": false},
		{"name": "Charts", "value": fmt.Sprintf("[TradingView](https://www.tradingview.com/chart/?symbol=BYBIT:%s.P) | [Bybit](https://www.bybit.com/trade/usdt/%s)", sig.Symbol, sig.Symbol), "inline": false},
	}

	embed := map[string]interface{}{
		"title":       "🎯 DYNASTY FUNDING RATE ALERTS",
		"description": fmt.Sprintf("**%s %s** — %s", sig.Type, sig.Bias, sig.Symbol),
		"color":       color,
		"fields":      fields,
		"timestamp":   sig.CreatedAt.Format(time.RFC3339),
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends signal cards via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, sig *signals.Signal) error {
	if !t.enabled {
		return nil
	}

	fundingSign := ""
	if sig.FundingRate > 0 {
		fundingSign = "+"
	}
	message := fmt.Sprintf("*%s %s %s*\nScore: %.1f\nFunding: %s%.4f%%\nBias: %s %s\n%s",
		biasGlyph(sig.Bias), sig.Type, sig.Symbol,
		sig.Score, fundingSign, sig.FundingRate,
		sig.Bias, sig.FundingBias, sig.Context)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
