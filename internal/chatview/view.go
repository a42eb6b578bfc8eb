package chatview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/models"
)

// Answerer maps a question to an answer. Implementations perform a single request/response exchange
// with an answering service.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// View holds the state of one chat widget: the transcript, the current draft and the number of
// questions still waiting for an answer. All methods are safe for concurrent use.
//
// Every mutation produces a State snapshot that is handed to the observers registered with
// Subscribe, in the order the mutations happened.
type View struct {
	answerer Answerer
	logger   *slog.Logger

	mu        sync.Mutex
	messages  []models.Message
	input     string
	inFlight  int
	observers []func(models.State)

	// notifyMu is taken before mu is released, so observers see snapshots in mutation order.
	notifyMu sync.Mutex

	wg sync.WaitGroup
}

// ErrorMessage replaces the answer in the transcript when the answering service call fails.
const ErrorMessage = "Sorry, there was an error processing your request."

const errLoggerKey = "err"

// New creates an empty View that sends questions to answerer.
func New(answerer Answerer, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		answerer: answerer,
		logger:   logger.With(slog.String("module", "chatview")),
		messages: []models.Message{},
	}
}

// Subscribe registers fn to be called with a snapshot after every mutation. fn must not call
// methods of the View that mutate it.
func (v *View) Subscribe(fn func(models.State)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.observers = append(v.observers, fn)
}

// State returns a snapshot of the current state.
func (v *View) State() models.State {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.snapshot()
}

// ShowPredefined reports whether the predefined questions should be offered, which is only the
// case before the first message.
func (v *View) ShowPredefined() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.messages) == 0
}

// OnInputChange replaces the draft with text as is.
func (v *View) OnInputChange(text string) {
	v.mu.Lock()
	v.input = text
	v.commit()
}

// SubmitQuestion sends question to the answering service. Blank questions are ignored and false is
// returned. Otherwise the user message is appended and the draft cleared before SubmitQuestion
// returns, while the answer is awaited in the background. The returned channel is closed once the
// answer, or ErrorMessage, has been appended.
//
// Submissions don't wait for each other: answers are appended in the order they arrive.
func (v *View) SubmitQuestion(ctx context.Context, question string) (<-chan struct{}, bool) {
	if strings.TrimSpace(question) == "" {
		return nil, false
	}

	v.mu.Lock()
	v.begin(question)
	v.commit()

	return v.resolve(ctx, question), true
}

// OnPredefinedSelect submits q like SubmitQuestion does, but only while the transcript is empty.
func (v *View) OnPredefinedSelect(ctx context.Context, q models.PredefinedQuestion) (<-chan struct{}, bool) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, false
	}

	v.mu.Lock()
	if len(v.messages) > 0 {
		v.mu.Unlock()
		return nil, false
	}
	v.begin(q.Text)
	v.commit()

	return v.resolve(ctx, q.Text), true
}

// Wait blocks until every submitted question got its answer appended.
func (v *View) Wait() {
	v.wg.Wait()
}

// begin must be called with mu held.
func (v *View) begin(question string) {
	v.messages = append(v.messages, models.Message{Text: question, IsUser: true})
	v.input = ""
	v.inFlight++
}

func (v *View) resolve(ctx context.Context, question string) <-chan struct{} {
	done := make(chan struct{})

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer close(done)

		text, err := v.answer(ctx, question)
		if err != nil {
			v.logger.Error("Failed to answer question",
				slog.String("question", question),
				slog.String(errLoggerKey, err.Error()))
			text = ErrorMessage
		}

		v.mu.Lock()
		v.messages = append(v.messages, models.Message{Text: text, IsUser: false})
		v.inFlight--
		v.commit()
	}()

	return done
}

func (v *View) answer(ctx context.Context, question string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("answerer panicked: %v", r)
		}
	}()

	return v.answerer.Answer(ctx, question)
}

// commit must be called with mu held; it releases mu and notifies the observers.
func (v *View) commit() {
	s := v.snapshot()
	observers := v.observers

	v.notifyMu.Lock()
	v.mu.Unlock()
	defer v.notifyMu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (v *View) snapshot() models.State {
	return models.State{
		Messages: v.messages,
		Input:    v.input,
		Loading:  v.inFlight > 0,
	}.Clone()
}
