package inference

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

	"github.com/answerdesk/answerdesk-back/internal/telemetry"
)

var ErrInferenceUnavailable = errors.New("inference service is not configured")

type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	AppName    string
}

// Client talks to the inference service's invoke RPC over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	appName    string
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "http://localhost:9400"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(config.AppName) == "" {
		config.AppName = "AnswerDesk"
	}

	return &Client{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		appName:    strings.TrimSpace(config.AppName),
	}
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

func (c *Client) Invoke(ctx context.Context, request InvokeRequest) (InvokeResult, error) {
	if !c.Available() {
		return InvokeResult{}, ErrInferenceUnavailable
	}
	if strings.TrimSpace(request.CompositionID) == "" {
		return InvokeResult{}, errors.New("composition_id is required")
	}
	if request.ModelSpeed == "" {
		request.ModelSpeed = SpeedFast
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("marshal invoke payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callInvokeAPI(ctx, encoded)
		if callErr == nil {
			telemetry.RecordUsage(result.Usage.InputTokens, result.Usage.OutputTokens)
			return result, nil
		}
		lastErr = callErr

		if !isRetryableProviderError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(500*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return InvokeResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown inference error")
	}
	return InvokeResult{}, lastErr
}

func (c *Client) callInvokeAPI(ctx context.Context, payload []byte) (InvokeResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/v1/invoke",
		bytes.NewReader(payload),
	)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("create invoke request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.appName != "" {
		httpRequest.Header.Set("X-Title", c.appName)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return InvokeResult{}, fmt.Errorf("inference timeout: %w", err)
		}
		return InvokeResult{}, fmt.Errorf("inference transport error: %w", err)
	}
	defer httpResponse.Body.Close()
	telemetry.InferenceCalls.Observe(time.Since(started).Seconds())

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("read invoke body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return InvokeResult{}, &providerHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var result InvokeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return InvokeResult{}, fmt.Errorf("decode invoke response: %w", err)
	}
	if strings.TrimSpace(result.Answer) == "" {
		return InvokeResult{}, errors.New("inference response without answer text")
	}
	return result, nil
}

type providerHTTPError struct {
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("inference status %d: %s", e.StatusCode, e.Message)
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}
