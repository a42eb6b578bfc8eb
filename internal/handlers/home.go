package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/chatview"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/models"
	"github.com/google/uuid"
)

type homePageData struct {
	Title  string
	Footer string
	ViewID string
	Input  string

	Chatbox chatboxData
}

type chatboxData struct {
	// Version grows with the transcript, letting the page drop chat boxes older than the one shown.
	Version       int
	ShowQuestions bool
	Questions     []question
	Messages      []message
	Loading       bool
}

type question struct {
	Index int
	Text  string
	Icon  string
}

type message struct {
	Text   string
	IsUser bool
	HTML   template.HTML
}

// HandleHome renders the chat page with a fresh view. Reloading the page starts over with an empty
// transcript, the previous view is left to the janitor.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	viewID, view := m.newView()

	data := homePageData{
		Title:   m.options.Title,
		Footer:  m.options.Footer,
		ViewID:  viewID,
		Input:   view.State().Input,
		Chatbox: m.chatboxData(view.State()),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (m Main) newView() (string, *chatview.View) {
	viewID := uuid.New().String()
	view := chatview.New(m.answerer, m.logger)
	view.Subscribe(m.publisher(viewID))
	m.views.add(viewID, view)

	msg, err := m.chatboxMessage(view.State())
	if err != nil {
		m.logger.Error("Failed to execute chatbox template",
			slog.String("viewID", viewID),
			slog.String(errLoggerKey, err.Error()))
	} else {
		m.views.setChatbox(viewID, msg)
	}

	m.logger.Debug("View created", slog.String("viewID", viewID))

	return viewID, view
}

func (m Main) chatboxData(s models.State) chatboxData {
	data := chatboxData{
		Version:       len(s.Messages),
		ShowQuestions: s.Empty(),
		Messages:      make([]message, len(s.Messages)),
		Loading:       s.Loading,
	}

	if data.ShowQuestions {
		data.Questions = make([]question, len(m.options.Questions))
		for i, q := range m.options.Questions {
			data.Questions[i] = question{Index: i, Text: q.Text, Icon: q.Icon}
		}
	}

	for i, msg := range s.Messages {
		data.Messages[i] = message{Text: msg.Text, IsUser: msg.IsUser}
		if msg.IsUser {
			continue
		}
		rendered, err := models.RenderMarkdown(msg.Text)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("message", msg.Text),
				slog.String(errLoggerKey, err.Error()))
			// Falls back to the escaped text.
			continue
		}
		data.Messages[i].HTML = template.HTML(rendered) //nolint:gosec // goldmark drops raw HTML
	}

	return data
}
