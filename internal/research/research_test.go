package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/cost"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
	"github.com/kcmetrolive/metro-agent/pkg/anthropic"
	"github.com/kcmetrolive/metro-agent/pkg/openai"
)

func chatServer(t *testing.T, status int, content string, check func(body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(content))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":    "chatcmpl-1",
			"model": "gpt-4o",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500},
		})
	}))
}

func newTestOpenAI(url string, sink ImageSink) *OpenAI {
	return NewOpenAI("sk-test", cost.NewCalculator(cost.DefaultRates()), sink, Config{}, openai.WithBaseURL(url))
}

func TestOpenAI_Research(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, http.StatusOK, `{"events":[{"event_name":"Blues Night"}]}`, func(body map[string]any) {
		assert.Equal(t, "gpt-4o", body["model"])
		assert.InDelta(t, 0.3, body["temperature"], 1e-9)
		assert.InDelta(t, 4000, body["max_tokens"], 1e-9)
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Contains(t, msgs[0].(map[string]any)["content"], "Return valid JSON only.")
		assert.Equal(t, "find events", msgs[1].(map[string]any)["content"])
	})
	defer srv.Close()

	res, err := newTestOpenAI(srv.URL, nil).Research(context.Background(), "find events", prompt.OpEvents, 5*time.Second)
	require.NoError(t, err)

	events := res.Data["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "Blues Night", events[0].(map[string]any)["event_name"])
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, 1500, res.Usage.Total())
	// 1000/1000*0.0025 + 500/1000*0.01
	assert.InDelta(t, 0.0075, res.Cost, 1e-9)
}

func TestOpenAI_Research_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		content string
		kind    resilience.Kind
		msg     string
	}{
		{name: "upstream message", status: http.StatusUnauthorized, content: `{"error":{"message":"Incorrect API key provided"}}`, kind: resilience.KindUpstream, msg: "Incorrect API key provided"},
		{name: "upstream no body", status: http.StatusBadGateway, content: ``, kind: resilience.KindUpstream, msg: "HTTP 502"},
		{name: "empty content", status: http.StatusOK, content: "", kind: resilience.KindMalformed, msg: "empty response content"},
		{name: "not json", status: http.StatusOK, content: "Sure! Here are some events.", kind: resilience.KindMalformed, msg: "Sure! Here are some events."},
		{name: "json array", status: http.StatusOK, content: `[1,2]`, kind: resilience.KindMalformed, msg: "not a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := chatServer(t, tt.status, tt.content, nil)
			defer srv.Close()

			_, err := newTestOpenAI(srv.URL, nil).Research(context.Background(), "p", prompt.OpEvents, 5*time.Second)
			require.Error(t, err)
			assert.Equal(t, tt.kind, resilience.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestOpenAI_Research_MalformedSnippetIsBounded(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, http.StatusOK, strings.Repeat("x", 2000), nil)
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, nil).Research(context.Background(), "p", prompt.OpEvents, 5*time.Second)
	require.Error(t, err)
	var rerr *resilience.Error
	require.ErrorAs(t, err, &rerr)
	assert.LessOrEqual(t, len(rerr.Snippet), 503)
}

func TestOpenAI_Research_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, nil).Research(context.Background(), "p", prompt.OpEvents, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransport, resilience.KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestOpenAI_Research_NoRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, nil).Research(context.Background(), "p", prompt.OpEvents, time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAI_MissingKey(t *testing.T) {
	t.Parallel()

	o := NewOpenAI("", cost.NewCalculator(cost.DefaultRates()), nil, Config{})
	_, err := o.Research(context.Background(), "p", prompt.OpEvents, time.Second)
	assert.Equal(t, resilience.KindConfig, resilience.KindOf(err))

	_, err = o.GenerateImage(context.Background(), "p", "alt", "")
	assert.Equal(t, resilience.KindConfig, resilience.KindOf(err))

	assert.Equal(t, resilience.KindConfig, resilience.KindOf(o.TestCredential(context.Background(), "")))
}

func TestOpenAI_TestCredential(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 50, body["max_tokens"], 1e-9)
		assert.InDelta(t, 0, body["temperature"], 1e-9)
		assert.Nil(t, body["response_format"])
		msgs := body["messages"].([]any)
		assert.Equal(t, ProbeMessage, msgs[0].(map[string]any)["content"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"test\": \"success\"}"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("", cost.NewCalculator(cost.DefaultRates()), nil, Config{}, openai.WithBaseURL(srv.URL))
	require.NoError(t, o.TestCredential(context.Background(), "sk-candidate"))
	assert.Equal(t, "Bearer sk-candidate", auth.Load())
}

type memorySink struct {
	path        string
	data        []byte
	contentType string
}

func (s *memorySink) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	s.path, s.data, s.contentType = path, data, contentType
	return "https://cdn.example.com/" + path, nil
}

func TestOpenAI_GenerateImage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dall-e-3", body["model"])
		assert.Equal(t, "1792x1024", body["size"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"data": []map[string]any{{"url": srvURL + "/file.png", "revised_prompt": "a jazz club"}},
		})
	})
	mux.HandleFunc("/file.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	sink := &memorySink{}
	o := newTestOpenAI(srv.URL, sink)
	o.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

	ref, err := o.GenerateImage(context.Background(), "jazz club", "The Blue Room", "1792x1024")
	require.NoError(t, err)
	assert.Equal(t, "The Blue Room", ref.AltText)
	assert.Equal(t, "a jazz club", ref.RevisedPrompt)
	assert.InDelta(t, 0.04, ref.Cost, 1e-9)
	assert.Equal(t, "images/2026/10/"+ref.ID+".png", sink.path)
	assert.Equal(t, "https://cdn.example.com/"+sink.path, ref.URL)
	assert.Equal(t, []byte("\x89PNG"), sink.data)
	assert.Equal(t, "image/png", sink.contentType)
}

func TestDecodeContent_Fenced(t *testing.T) {
	t.Parallel()

	out, err := decodeContent("```json\n{\"venues\": []}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, "venues")
}

func messagesServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 2000, "output_tokens": 1000},
		})
	}))
}

func TestAnthropic_Research(t *testing.T) {
	t.Parallel()

	srv := messagesServer(t, "```json\n{\"performers\": []}\n```")
	defer srv.Close()

	a := NewAnthropic("sk-ant", cost.NewCalculator(cost.DefaultRates()), Config{}, anthropic.WithBaseURL(srv.URL))
	res, err := a.Research(context.Background(), "p", prompt.OpPerformerResearch, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, res.Data, "performers")
	assert.Equal(t, "claude-sonnet-4-5-20250929", res.Model)
	// 2000/1000*0.003 + 1000/1000*0.015
	assert.InDelta(t, 0.021, res.Cost, 1e-9)
}

func TestAnthropic_Research_Malformed(t *testing.T) {
	t.Parallel()

	srv := messagesServer(t, "I could not find any events.")
	defer srv.Close()

	a := NewAnthropic("sk-ant", cost.NewCalculator(cost.DefaultRates()), Config{}, anthropic.WithBaseURL(srv.URL))
	_, err := a.Research(context.Background(), "p", prompt.OpEvents, 5*time.Second)
	assert.Equal(t, resilience.KindMalformed, resilience.KindOf(err))
}

func TestAnthropic_GenerateImageUnsupported(t *testing.T) {
	t.Parallel()

	a := NewAnthropic("sk-ant", cost.NewCalculator(cost.DefaultRates()), Config{})
	_, err := a.GenerateImage(context.Background(), "p", "alt", "")
	assert.Equal(t, resilience.KindConfig, resilience.KindOf(err))
}
