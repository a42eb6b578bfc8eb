package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	kgfinanceui "github.com/MegaGrindStone/kgfinance-web-ui"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/chatview"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Options configures the presentation of the chat page.
type Options struct {
	Title           string
	Footer          string
	Questions       []models.PredefinedQuestion
	ViewIdleTimeout time.Duration
}

// Main serves the chat page. Each page load gets its own chatview.View, and every change of that
// view is pushed to the page as a re-rendered chat box over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	answerer chatview.Answerer
	options  Options
	views    *registry

	// answerCtx outlives the requests that submit questions and is cancelled on Shutdown.
	answerCtx    context.Context
	cancelAnswer context.CancelFunc

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	viewTopicPrefix = "view-"

	defaultTitle           = "KGFinance"
	defaultViewIdleTimeout = 30 * time.Minute
)

var chatboxSSEType = sse.Type("chatbox")

// NewMain creates a new Main instance answering questions with answerer. It parses the HTML
// templates from the embedded filesystem and starts the janitor that evicts idle views.
func NewMain(answerer chatview.Answerer, options Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		kgfinanceui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if options.Title == "" {
		options.Title = defaultTitle
	}
	if options.Questions == nil {
		options.Questions = models.DefaultQuestions()
	}
	if options.ViewIdleTimeout <= 0 {
		options.ViewIdleTimeout = defaultViewIdleTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "main"))
	views := newRegistry(options.ViewIdleTimeout)
	views.start(options.ViewIdleTimeout/2, logger)

	answerCtx, cancel := context.WithCancel(context.Background())

	m := Main{
		templates:    tmpl,
		answerer:     answerer,
		options:      options,
		views:        views,
		answerCtx:    answerCtx,
		cancelAnswer: cancel,
		logger:       logger,
	}
	m.sseSrv = &sse.Server{
		Provider: &sse.Joe{
			Replayer: chatboxReplayer{main: m},
		},
		OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
			viewID := r.URL.Query().Get("view_id")
			if _, ok := m.views.get(viewID); !ok {
				http.Error(w, "View not found", http.StatusNotFound)
				return nil, false
			}
			// The default topic carries the broadcast close message
			return []string{sse.DefaultTopic, viewTopic(viewID)}, true
		},
		Logger: func(*http.Request) *slog.Logger {
			return logger.With(slog.String("component", "sse"))
		},
	}

	return m, nil
}

func viewTopic(viewID string) string {
	return viewTopicPrefix + viewID
}

// Shutdown cancels pending answers and waits for their views to settle, stops the janitor and
// terminates the SSE server. It broadcasts a close message to all connected clients and waits up to
// 5 seconds overall, or until ctx is done, for answers and connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	m.cancelAnswer()
	if err := m.views.wait(ctx); err != nil {
		m.logger.Warn("Pending answers did not settle before shutdown", slog.String(errLoggerKey, err.Error()))
	}
	m.views.stop()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Browsers drop SSE events without data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	return m.sseSrv.Shutdown(ctx)
}

// HandleSSE subscribes the client to the changes of the view given by the "view_id" query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
