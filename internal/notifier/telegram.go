package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const TelegramBaseURL = "https://api.telegram.org"

type TelegramNotifier struct {
	Token      string
	ChatID     string
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewTelegramNotifier builds a notifier for the bot token. proxyURL may be
// empty.
func NewTelegramNotifier(token, chatID, proxyURL string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*TelegramNotifier, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		baseURL:    TelegramBaseURL,
		client:     &http.Client{Timeout: 15 * time.Second, Transport: transport},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.Token)
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send with a fixed delay between attempts.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, message string) error {
	var err error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if err = t.Send(ctx, message); err == nil {
			return nil
		}
		t.logger.Warn("TelegramNotifier | send failed",
			zap.Int("attempt", attempt), zap.Int("attempts", t.maxRetries), zap.Error(err))
		if attempt == t.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelay):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, err)
}
