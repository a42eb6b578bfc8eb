package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAnswerer asks the answering service over plain HTTP. The question is posted as the form field
// "question" and the service replies with a JSON object holding the answer in its "answer" field.
type HTTPAnswerer struct {
	url string

	client *http.Client

	logger *slog.Logger
}

type answerResponse struct {
	Answer *string `json:"answer"`
}

// DefaultAnswerServiceURL is where the answering service listens when nothing else is configured.
const DefaultAnswerServiceURL = "http://localhost:5000/"

// ErrRequestFailed is returned, wrapped, for every failed exchange with the answering service. Transport
// errors, non-2xx statuses and malformed bodies are not told apart.
var ErrRequestFailed = errors.New("request failed")

// NewHTTPAnswerer creates an HTTPAnswerer posting to serviceURL. A zero timeout leaves the request
// bounded only by the caller's context.
func NewHTTPAnswerer(serviceURL string, timeout time.Duration, logger *slog.Logger) (HTTPAnswerer, error) {
	if serviceURL == "" {
		serviceURL = DefaultAnswerServiceURL
	}
	u, err := url.Parse(serviceURL)
	if err != nil {
		return HTTPAnswerer{}, fmt.Errorf("invalid answering service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return HTTPAnswerer{}, fmt.Errorf("invalid answering service url scheme %q", u.Scheme)
	}

	return HTTPAnswerer{
		url:    u.String(),
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("module", "http_answerer")),
	}, nil
}

// Answer posts question and returns the answer field of the response.
func (h HTTPAnswerer) Answer(ctx context.Context, question string) (string, error) {
	form := url.Values{}
	form.Set("question", question)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: error creating request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: error sending request: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	h.logger.Debug("Answering service responded",
		slog.String("url", h.url),
		slog.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: unexpected status %s: %s", ErrRequestFailed, resp.Status, strings.TrimSpace(string(body)))
	}

	var res answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("%w: error decoding response: %w", ErrRequestFailed, err)
	}
	if res.Answer == nil {
		return "", fmt.Errorf("%w: response has no answer field", ErrRequestFailed)
	}

	return *res.Answer, nil
}
