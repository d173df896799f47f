// Package modelrouter implements the backend client against an
// OpenAI-compatible routing endpoint. Every model in the registry is
// addressed through the same chat completions surface; the router maps the
// vendor-prefixed model id to the right provider.
//
// The client performs exactly one upstream request per call. Recovery from
// failures is the stage executor's job, which advances the seat's fallback
// chain instead of re-calling the same model.
package modelrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/backend"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/observability"
	"github.com/roundtablehq/roundtable-backend/internal/pkg/httpx"
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	chatPath   string
	cfg        *config.Council
	httpClient *http.Client
}

func New(log *logger.Logger, cfg *config.Council) (backend.Client, error) {
	baseURL := strings.TrimRight(envutil.String("MODEL_ROUTER_BASE_URL", ""), "/")
	if baseURL == "" {
		return nil, errors.New("missing MODEL_ROUTER_BASE_URL")
	}
	if log == nil {
		return nil, errors.New("logger required")
	}

	chatPath := envutil.String("MODEL_ROUTER_CHAT_PATH", "/v1/chat/completions")
	if !strings.HasPrefix(chatPath, "/") {
		chatPath = "/" + chatPath
	}

	timeout := time.Duration(envutil.Int("MODEL_ROUTER_TIMEOUT_SECONDS", 60)) * time.Second

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &client{
		log:        log.With("service", "ModelRouterClient"),
		baseURL:    baseURL,
		apiKey:     envutil.String("MODEL_ROUTER_API_KEY", ""),
		chatPath:   chatPath,
		cfg:        cfg,
		httpClient: &http.Client{Transport: tr, Timeout: timeout},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using
// a custom RoundTripper.
func NewWithHTTPClient(log *logger.Logger, cfg *config.Council, httpClient *http.Client) (backend.Client, error) {
	c, err := New(log, cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.(*client).httpClient = httpClient
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type routerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *routerHTTPError) Error() string {
	return fmt.Sprintf("model router http %d: %s", e.StatusCode, e.Body)
}

func (e *routerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) Generate(ctx context.Context, in backend.CallInput) (backend.Result, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(in.SystemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: in.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: in.UserContent})

	reqBody := chatCompletionRequest{
		Model:       in.ModelID,
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}

	start := time.Now()
	resp, raw, err := c.doOnce(ctx, reqBody)
	latency := time.Since(start)

	if err != nil {
		kind := classify(err)
		if kind == councilerr.KindRateLimited {
			wait := httpx.RetryAfterDuration(resp, 0, 30*time.Second)
			c.log.Warn("model router rate limited", "model", in.ModelID, "retry_after", wait.String())
		}
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveModelCall(in.ModelID, string(kind), latency, 0, 0, 0)
		}
		return backend.Result{LatencyMS: latency.Milliseconds()},
			councilerr.NewBackendError(kind, in.ModelID, err)
	}

	var decoded chatCompletionResponse
	if uErr := json.Unmarshal(raw, &decoded); uErr != nil {
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveModelCall(in.ModelID, string(councilerr.KindInvalidResponse), latency, 0, 0, 0)
		}
		return backend.Result{LatencyMS: latency.Milliseconds()},
			councilerr.NewBackendError(councilerr.KindInvalidResponse, in.ModelID,
				fmt.Errorf("decode error: %w; raw=%s", uErr, snippet(raw)))
	}

	content := extractChatText(decoded)
	if strings.TrimSpace(content) == "" {
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveModelCall(in.ModelID, string(councilerr.KindInvalidResponse), latency, 0, 0, 0)
		}
		return backend.Result{LatencyMS: latency.Milliseconds()},
			councilerr.NewBackendError(councilerr.KindInvalidResponse, in.ModelID,
				errors.New("empty upstream completion"))
	}

	tokensIn := decoded.Usage.PromptTokens
	tokensOut := decoded.Usage.CompletionTokens
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = estimateTokens(in.SystemPrompt) + estimateTokens(in.UserContent)
		tokensOut = estimateTokens(content)
	}
	cost := c.costCents(in.ModelID, tokensIn, tokensOut)

	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveModelCall(in.ModelID, "ok", latency, tokensIn, tokensOut, cost)
	}

	return backend.Result{
		Content:   content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostCents: cost,
		LatencyMS: latency.Milliseconds(),
	}, nil
}

func (c *client) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.chatPath, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &routerHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) costCents(modelID string, tokensIn, tokensOut int) int64 {
	if c.cfg == nil {
		return 0
	}
	price, ok := c.cfg.PriceFor(modelID)
	if !ok {
		return 0
	}
	cents := float64(tokensIn)/1000.0*price.InputCentsPer1K + float64(tokensOut)/1000.0*price.OutputCentsPer1K
	return int64(math.Round(cents))
}

func classify(err error) councilerr.BackendKind {
	if httpx.IsTimeout(err) {
		return councilerr.KindTimeout
	}
	if code, ok := httpx.StatusCodeOf(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return councilerr.KindRateLimited
		case httpx.IsRetryableHTTPStatus(code):
			return councilerr.KindUpstreamUnavailable
		default:
			return councilerr.KindInvalidResponse
		}
	}
	return councilerr.KindUpstreamUnavailable
}

func extractChatText(resp chatCompletionResponse) string {
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content
		}
		if choice.Text != "" {
			return choice.Text
		}
	}
	return ""
}

func estimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	runes := []rune(text)
	return int(math.Ceil(float64(len(runes)) / 4.0))
}

func snippet(raw []byte) string {
	const max = 512
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
