package models

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// State is a serializable snapshot of a chat view. Messages are in display order. Input is the
// current draft, and Loading reports whether at least one answer is still pending.
//
// The loading placeholder is never part of Messages, renderers synthesize it from Loading.
type State struct {
	Messages []Message `json:"messages"`
	Input    string    `json:"input"`
	Loading  bool      `json:"loading"`
}

// Clone returns a deep copy of s, so the copy can be handed out without sharing the messages slice.
func (s State) Clone() State {
	s.Messages = slices.Clone(s.Messages)
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return s
}

// Empty reports whether the transcript has no messages yet.
func (s State) Empty() bool {
	return len(s.Messages) == 0
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// RenderMarkdown converts an answer text into HTML. Raw HTML inside the text is not passed through.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}
