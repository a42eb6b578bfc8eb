package services_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/services"
)

func TestOllamaAnswer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Stream   *bool  `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w,
			`{"model":"llama3","message":{"role":"assistant","content":"Chips are up."},"done":true}`+"\n")
	}))
	defer srv.Close()

	o, err := services.NewOllama(srv.URL, "llama3", "You are a finance analyst.", slog.Default())
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	answer, err := o.Answer(context.Background(), "How are chip makers doing?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer != "Chips are up." {
		t.Errorf("Answer() = %q, want %q", answer, "Chips are up.")
	}
	if got.Model != "llama3" {
		t.Errorf("model = %q, want llama3", got.Model)
	}
	if got.Stream == nil || *got.Stream {
		t.Error("request should disable streaming")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "How are chip makers doing?" {
		t.Errorf("messages = %+v, want system prompt then the question", got.Messages)
	}
}

func TestOllamaAnswerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`+"\n")
	}))
	defer srv.Close()

	o, err := services.NewOllama(srv.URL, "missing", "", slog.Default())
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	if _, err := o.Answer(context.Background(), "Q"); err == nil {
		t.Error("Answer() error = nil, want error")
	}
}

func TestOpenAIAnswer(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		status     int
		wantAnswer string
		wantErr    bool
	}{
		{
			name:       "First choice",
			status:     http.StatusOK,
			response:   `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"M&A is slowing."},"finish_reason":"stop"}]}`,
			wantAnswer: "M&A is slowing.",
		},
		{
			name:     "No choices",
			status:   http.StatusOK,
			response: `{"id":"1","object":"chat.completion","choices":[]}`,
			wantErr:  true,
		},
		{
			name:     "API error",
			status:   http.StatusUnauthorized,
			response: `{"error":{"message":"bad key","type":"invalid_request_error"}}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					http.NotFound(w, r)
					return
				}
				gotAuth = r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			temp := float32(0.2)
			o := services.NewOpenAI("sk-test", srv.URL, "gpt-4o-mini", "", services.LLMParameters{
				Temperature: &temp,
			}, slog.Default())

			answer, err := o.Answer(context.Background(), "What recent mergers happened?")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Answer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if answer != tt.wantAnswer {
				t.Errorf("Answer() = %q, want %q", answer, tt.wantAnswer)
			}
			if gotAuth != "Bearer sk-test" {
				t.Errorf("Authorization = %q, want bearer token", gotAuth)
			}
		})
	}
}

func TestAnthropicAnswer(t *testing.T) {
	tests := []struct {
		name       string
		events     string
		wantAnswer string
		wantErr    bool
	}{
		{
			name: "Deltas are joined",
			events: "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"VC is \"}}\n\n" +
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"cautious.\"}}\n\n" +
				"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
			wantAnswer: "VC is cautious.",
		},
		{
			name:    "Error event",
			events:  "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
			wantErr: true,
		},
		{
			name:    "Truncated stream",
			events:  "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"VC\"}}\n\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/messages" {
					http.NotFound(w, r)
					return
				}
				gotKey = r.Header.Get("x-api-key")
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, tt.events)
			}))
			defer srv.Close()

			a := services.NewAnthropic("key", srv.URL, "claude-3-5-haiku-latest", "", 1024, slog.Default())

			answer, err := a.Answer(context.Background(), "How is venture capital doing?")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Answer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if answer != tt.wantAnswer {
				t.Errorf("Answer() = %q, want %q", answer, tt.wantAnswer)
			}
			if gotKey != "key" {
				t.Errorf("x-api-key = %q, want %q", gotKey, "key")
			}
		})
	}
}
