package modelrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/roundtablehq/roundtable-backend/internal/config"
	"github.com/roundtablehq/roundtable-backend/internal/council/backend"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestRouter(t *testing.T, rt http.RoundTripper) backend.Client {
	t.Helper()
	t.Setenv("MODEL_ROUTER_BASE_URL", "http://router.internal")
	t.Setenv("MODEL_ROUTER_API_KEY", "rk-test")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	cfg := &config.Council{
		Prices: map[string]config.ModelPrice{
			"openai/gpt-test": {InputCentsPer1K: 1.0, OutputCentsPer1K: 3.0},
		},
	}

	c, err := NewWithHTTPClient(log, cfg, &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	return c
}

func jsonResponse(status int, body any) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}

func TestGenerateSuccess(t *testing.T) {
	var calls int32

	c := newTestRouter(t, roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)

		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer rk-test" {
			t.Fatalf("authorization=%q", got)
		}

		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if in.Model != "openai/gpt-test" {
			t.Fatalf("model=%q", in.Model)
		}
		if len(in.Messages) != 2 || in.Messages[0].Role != "system" || in.Messages[1].Role != "user" {
			t.Fatalf("messages=%+v", in.Messages)
		}
		if in.MaxTokens != 512 {
			t.Fatalf("max_tokens=%d", in.MaxTokens)
		}

		out := chatCompletionResponse{}
		out.Choices = append(out.Choices, struct {
			Message struct {
				Content string `json:"content,omitempty"`
			} `json:"message,omitempty"`
			Text string `json:"text,omitempty"`
		}{})
		out.Choices[0].Message.Content = "the verdict"
		out.Usage.PromptTokens = 2000
		out.Usage.CompletionTokens = 1000
		return jsonResponse(http.StatusOK, out), nil
	}))

	res, err := c.Generate(context.Background(), backend.CallInput{
		ModelID:      "openai/gpt-test",
		SystemPrompt: "you are an analyst",
		UserContent:  "evaluate this plan",
		Temperature:  0.3,
		MaxTokens:    512,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "the verdict" {
		t.Fatalf("content=%q", res.Content)
	}
	if res.TokensIn != 2000 || res.TokensOut != 1000 {
		t.Fatalf("tokens=%d/%d", res.TokensIn, res.TokensOut)
	}
	// 2000 in at 1.0c/1K plus 1000 out at 3.0c/1K.
	if res.CostCents != 5 {
		t.Fatalf("cost=%d", res.CostCents)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls=%d", got)
	}
}

func TestGenerateEstimatesTokensWithoutUsage(t *testing.T) {
	c := newTestRouter(t, roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		out := chatCompletionResponse{}
		out.Choices = append(out.Choices, struct {
			Message struct {
				Content string `json:"content,omitempty"`
			} `json:"message,omitempty"`
			Text string `json:"text,omitempty"`
		}{})
		out.Choices[0].Message.Content = "abcdefgh"
		return jsonResponse(http.StatusOK, out), nil
	}))

	res, err := c.Generate(context.Background(), backend.CallInput{
		ModelID:      "anthropic/unpriced",
		SystemPrompt: "sys",
		UserContent:  "hello world",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// ceil(3/4) + ceil(11/4) in, ceil(8/4) out.
	if res.TokensIn != 4 || res.TokensOut != 2 {
		t.Fatalf("tokens=%d/%d", res.TokensIn, res.TokensOut)
	}
	if res.CostCents != 0 {
		t.Fatalf("cost=%d for unpriced model", res.CostCents)
	}
}

func TestGenerateErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		rt   roundTripperFunc
		kind councilerr.BackendKind
	}{
		{
			name: "rate limited",
			rt: func(req *http.Request) (*http.Response, error) {
				resp := jsonResponse(http.StatusTooManyRequests, map[string]string{"error": "slow down"})
				resp.Header.Set("Retry-After", "7")
				return resp, nil
			},
			kind: councilerr.KindRateLimited,
		},
		{
			name: "upstream 5xx",
			rt: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, map[string]string{"error": "bad gateway"}), nil
			},
			kind: councilerr.KindUpstreamUnavailable,
		},
		{
			name: "rejected 4xx",
			rt: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadRequest, map[string]string{"error": "unknown model"}), nil
			},
			kind: councilerr.KindInvalidResponse,
		},
		{
			name: "transport failure",
			rt: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connect: connection refused")
			},
			kind: councilerr.KindUpstreamUnavailable,
		},
		{
			name: "deadline",
			rt: func(req *http.Request) (*http.Response, error) {
				return nil, context.DeadlineExceeded
			},
			kind: councilerr.KindTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			c := newTestRouter(t, roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return tc.rt(req)
			}))

			_, err := c.Generate(context.Background(), backend.CallInput{
				ModelID:     "openai/gpt-test",
				UserContent: "q",
			})
			if err == nil {
				t.Fatalf("expected error")
			}

			var be *councilerr.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("error type %T", err)
			}
			if be.Kind != tc.kind {
				t.Fatalf("kind=%s want=%s", be.Kind, tc.kind)
			}
			if be.ModelID != "openai/gpt-test" {
				t.Fatalf("model=%q", be.ModelID)
			}
			if got := atomic.LoadInt32(&calls); got != 1 {
				t.Fatalf("calls=%d, client must not retry", got)
			}
		})
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	c := newTestRouter(t, roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, chatCompletionResponse{}), nil
	}))

	_, err := c.Generate(context.Background(), backend.CallInput{ModelID: "openai/gpt-test", UserContent: "q"})
	var be *councilerr.BackendError
	if !errors.As(err, &be) || be.Kind != councilerr.KindInvalidResponse {
		t.Fatalf("err=%v", err)
	}
}

func TestGenerateMalformedBody(t *testing.T) {
	c := newTestRouter(t, roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader([]byte("not json"))),
		}, nil
	}))

	_, err := c.Generate(context.Background(), backend.CallInput{ModelID: "openai/gpt-test", UserContent: "q"})
	var be *councilerr.BackendError
	if !errors.As(err, &be) || be.Kind != councilerr.KindInvalidResponse {
		t.Fatalf("err=%v", err)
	}
}
