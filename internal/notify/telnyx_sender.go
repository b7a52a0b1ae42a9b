package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

const (
	telnyxBaseURL   = "https://api.telnyx.com/v2"
	telnyxUserAgent = "frontdesk-notify/0.1"
)

// TelnyxConfig controls the Telnyx SMS sender.
type TelnyxConfig struct {
	BaseURL    string
	APIKey     string
	FromNumber string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// TelnyxSender delivers SMS through the Telnyx /messages endpoint.
type TelnyxSender struct {
	apiKey     string
	baseURL    string
	fromNumber string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// NewTelnyxSender creates a configured sender with sane defaults.
func NewTelnyxSender(cfg TelnyxConfig) (*TelnyxSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("notify: telnyx API key is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("notify: telnyx from number is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = telnyxBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		fromNumber: cfg.FromNumber,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger.Component("notify.telnyx"),
	}, nil
}

// SendSMS posts one outbound message, retrying transient failures.
func (s *TelnyxSender) SendSMS(ctx context.Context, to, body string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("notify: destination number required")
	}
	payload, err := json.Marshal(struct {
		From string `json:"from"`
		To   string `json:"to"`
		Text string `json:"text"`
	}{
		From: s.fromNumber,
		To:   to,
		Text: body,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal send body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("notify: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", telnyxUserAgent)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !shouldRetrySend(0, err) || attempt == s.maxRetries {
				return fmt.Errorf("notify: http error: %w", err)
			}
			lastErr = err
			s.logRetry(attempt, 0, err)
			if sleepErr := s.sleep(ctx, attempt); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("notify: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		apiErr := fmt.Errorf("notify: telnyx status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if attempt < s.maxRetries && shouldRetrySend(resp.StatusCode, nil) {
			lastErr = apiErr
			s.logRetry(attempt, resp.StatusCode, apiErr)
			if sleepErr := s.sleep(ctx, attempt); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		return apiErr
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.New("notify: send failed without response")
}

func (s *TelnyxSender) sleep(ctx context.Context, attempt int) error {
	delay := s.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *TelnyxSender) logRetry(attempt int, status int, err error) {
	s.logger.Warn("telnyx send retry",
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetrySend(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
