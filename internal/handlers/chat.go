package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/chatview"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// HandleQuestions submits the "question" form field to the view given by "view_id" and responds with
// the re-rendered chat box. Blank questions are ignored, and the chat box is rendered unchanged.
func (m Main) HandleQuestions(w http.ResponseWriter, r *http.Request) {
	view, ok := m.postedView(w, r)
	if !ok {
		return
	}

	q := r.FormValue("question")
	if _, accepted := view.SubmitQuestion(m.answerCtx, q); !accepted {
		m.logger.Debug("Blank question ignored", slog.String("viewID", r.FormValue("view_id")))
	}

	m.renderChatbox(w, view.State())
}

// HandlePredefined submits the predefined question at the "index" form field. It only has an effect
// while the transcript of the view is empty.
func (m Main) HandlePredefined(w http.ResponseWriter, r *http.Request) {
	view, ok := m.postedView(w, r)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(r.FormValue("index"))
	if err != nil || idx < 0 || idx >= len(m.options.Questions) {
		m.logger.Error("Invalid predefined question index", slog.String("index", r.FormValue("index")))
		http.Error(w, "Invalid question index", http.StatusBadRequest)
		return
	}

	if _, accepted := view.OnPredefinedSelect(m.answerCtx, m.options.Questions[idx]); !accepted {
		m.logger.Debug("Predefined question ignored, conversation already started",
			slog.String("viewID", r.FormValue("view_id")))
	}

	m.renderChatbox(w, view.State())
}

// HandleInput stores the "input" form field as the draft of the view.
func (m Main) HandleInput(w http.ResponseWriter, r *http.Request) {
	view, ok := m.postedView(w, r)
	if !ok {
		return
	}

	view.OnInputChange(r.FormValue("input"))

	w.WriteHeader(http.StatusNoContent)
}

// HandleState responds with the state of the view given by the "view_id" query parameter as JSON.
func (m Main) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	view, ok := m.views.get(r.URL.Query().Get("view_id"))
	if !ok {
		http.Error(w, "View not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view.State()); err != nil {
		m.logger.Error("Failed to encode state", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) postedView(w http.ResponseWriter, r *http.Request) (*chatview.View, bool) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	viewID := r.FormValue("view_id")
	view, ok := m.views.get(viewID)
	if !ok {
		m.logger.Error("View not found", slog.String("viewID", viewID))
		http.Error(w, "View not found", http.StatusNotFound)
		return nil, false
	}

	return view, true
}

func (m Main) renderChatbox(w http.ResponseWriter, s models.State) {
	if err := m.templates.ExecuteTemplate(w, "chatbox", m.chatboxData(s)); err != nil {
		m.logger.Error("Failed to execute chatbox template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// publisher pushes the re-rendered chat box of a view to its SSE topic. Draft changes alone don't
// alter the chat box, so they aren't published.
func (m Main) publisher(viewID string) func(models.State) {
	var last models.State

	return func(s models.State) {
		if len(s.Messages) == len(last.Messages) && s.Loading == last.Loading {
			return
		}
		last = s

		msg, err := m.chatboxMessage(s)
		if err != nil {
			m.logger.Error("Failed to execute chatbox template",
				slog.String("viewID", viewID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		m.views.setChatbox(viewID, msg)
		if err := m.sseSrv.Publish(msg, viewTopic(viewID)); err != nil {
			m.logger.Error("Failed to publish chatbox",
				slog.String("viewID", viewID),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (m Main) chatboxMessage(s models.State) (*sse.Message, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chatbox", m.chatboxData(s)); err != nil {
		return nil, err
	}

	msg := &sse.Message{
		Type: chatboxSSEType,
	}
	msg.AppendData(sb.String())

	return msg, nil
}

// chatboxReplayer sends the latest chat box of the view to every new subscriber, so a page that
// connects or reconnects catches up with the changes it missed, regardless of the Last-Event-ID
// sent by the client. Replay runs inside the provider loop, so it reads the chat box cached by the
// publisher and never locks the view.
type chatboxReplayer struct {
	main Main
}

func (r chatboxReplayer) Put(msg *sse.Message, topics []string) (*sse.Message, error) {
	if len(topics) == 0 {
		return nil, sse.ErrNoTopic
	}
	return msg, nil
}

func (r chatboxReplayer) Replay(sub sse.Subscription) error {
	for _, topic := range sub.Topics {
		viewID, ok := strings.CutPrefix(topic, viewTopicPrefix)
		if !ok {
			continue
		}
		msg, ok := r.main.views.chatbox(viewID)
		if !ok {
			return nil
		}
		if err := sub.Client.Send(msg); err != nil {
			return err
		}
		return sub.Client.Flush()
	}

	return nil
}
