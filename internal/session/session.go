package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/storefront-studio/internal/conversation"
	"github.com/tjfontaine/storefront-studio/internal/creation"
	"github.com/tjfontaine/storefront-studio/internal/interview"
	"github.com/tjfontaine/storefront-studio/internal/metrics"
	"github.com/tjfontaine/storefront-studio/internal/staging"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

var tracer = otel.Tracer("github.com/tjfontaine/storefront-studio/internal/session")

// Session is one studio conversation. All fields are guarded by mu; network
// calls run with mu released and inFlight set.
type Session struct {
	id     string
	script interview.Script

	assistant Exchanger
	persister Persister
	recorder  *conversation.Recorder
	metrics   *metrics.Studio
	onDone    CompletionFunc
	logger    *slog.Logger

	engine *staging.Engine
	gate   *creation.Gate

	mu              sync.Mutex
	transcript      transcript.Transcript
	interview       *interview.Controller
	held            map[string]any
	inFlight        bool
	completionFired bool
	ended           bool
}

type deps struct {
	assistant Exchanger
	creator   creation.Creator
	persister Persister
	recorder  *conversation.Recorder
	metrics   *metrics.Studio
	preview   PreviewFunc
	onDone    CompletionFunc
	logger    *slog.Logger
}

// newSession initializes a session with the default configuration, an empty
// transcript and the interview at question 0, or in free-form mode when
// shopID names an existing shop. The greeting is the first transcript entry.
func newSession(id, shopID string, script interview.Script, initial storefront.Configuration, d deps) *Session {
	logger := d.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", id))

	s := &Session{
		id:        id,
		script:    script.WithDefaults(),
		assistant: d.assistant,
		persister: d.persister,
		recorder:  d.recorder,
		metrics:   d.metrics,
		onDone:    d.onDone,
		logger:    logger,
		gate:      creation.NewGate(d.creator, shopID),
	}
	s.interview = interview.NewController(s.script, shopID != "")

	var preview staging.PreviewFunc
	if d.preview != nil {
		preview = func(c staging.Change) { d.preview(id, c) }
	}
	s.engine = staging.New(staging.Options{Initial: initial, Preview: preview, Logger: logger})

	s.transcript = transcript.New(transcript.NewEntry(transcript.OriginAssistant, s.interview.Greeting()))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Send runs one exchange: the user's input is appended, interview answers are
// prefilled, and the assistant's response is applied in order: shop
// creation, staging, the reply, then the interview step. Assistant failures
// become an apology entry and are not returned as errors.
func (s *Session) Send(ctx context.Context, input string) (Result, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Result{}, ErrEmptyInput
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return Result{}, ErrEnded
	}
	if s.inFlight {
		s.mu.Unlock()
		return Result{}, ErrExchangeInFlight
	}
	s.inFlight = true
	mark := s.transcript.Len()

	question, _ := s.transcript.FindLastByOrigin(transcript.OriginAssistant)
	s.transcript = s.transcript.Append(transcript.NewEntry(transcript.OriginUser, text))
	if s.interview.Scripted() {
		s.engine.Prefill(s.interview.ExtractField(question.Text, text))
	}
	entries := s.transcript.Entries()
	current := s.engine.Live()
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("session.transcript_entries", len(entries)),
	)

	start := time.Now()
	res, err := s.assistant.Exchange(ctx, entries, current)
	if err != nil {
		s.metrics.RecordExchange(ctx, metrics.OutcomeFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("assistant exchange failed", slog.String("error", err.Error()))

		s.mu.Lock()
		if s.ended {
			s.inFlight = false
			s.mu.Unlock()
			return Result{}, ErrEnded
		}
		s.appendLocked(transcript.OriginAssistant, s.script.Apology)
		out := s.finishLocked(mark)
		out.ExchangeFailed = true
		s.mu.Unlock()

		s.recorder.Record(ctx, s.id, out.Appended...)
		return out, nil
	}
	s.metrics.RecordExchange(ctx, metrics.OutcomeOK, time.Since(start))

	var events []Completion

	s.mu.Lock()
	if s.ended {
		s.inFlight = false
		s.mu.Unlock()
		return Result{}, ErrEnded
	}
	payload := res.ResourcePayload
	if res.ShouldCreateResource && len(payload) == 0 {
		payload = cloneMap(s.held)
	}
	if !res.ShouldCreateResource && len(payload) > 0 {
		s.held = cloneMap(payload)
	}

	if res.ShouldCreateResource && len(payload) > 0 {
		s.mu.Unlock()
		out, ev := s.create(ctx, payload, mark)
		span.SetAttributes(attribute.Bool("session.creation", true))
		s.recorder.Record(ctx, s.id, out.Appended...)
		s.fire(ev...)
		return out, nil
	}

	staged, rejected := false, false
	if len(res.Patch) > 0 {
		if err := s.engine.Stage(res.Patch); err != nil {
			rejected = true
			s.logger.Warn("patch not staged", slog.String("error", err.Error()))
		} else {
			staged = true
			s.metrics.RecordStaged(ctx, len(res.Patch))
		}
	}

	if res.ReplyText != "" {
		s.appendLocked(transcript.OriginAssistant, res.ReplyText)
	}

	if res.InterviewComplete {
		s.interview.Complete()
		if msg := s.interview.ConcludingMessage(); msg != "" && !s.interview.SignalsCompletion(res.ReplyText) {
			s.appendLocked(transcript.OriginAssistant, msg)
		}
		events = s.interviewCompletedLocked(events)
	} else if s.interview.Scripted() {
		next, ok := s.interview.Advance()
		switch {
		case !ok:
			events = s.interviewCompletedLocked(events)
		case interview.ShouldInjectNextQuestion(res.ReplyText):
			s.appendLocked(transcript.OriginAssistant, next)
		}
	}

	out := s.finishLocked(mark)
	out.Staged = staged
	out.StageRejected = rejected
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("session.staged", staged),
		attribute.Bool("session.stage_rejected", rejected),
	)
	s.recorder.Record(ctx, s.id, out.Appended...)
	s.fire(events...)
	return out, nil
}

// create runs the creation gate with mu released. inFlight stays set so no
// other exchange starts meanwhile.
func (s *Session) create(ctx context.Context, payload map[string]any, mark int) (Result, []Completion) {
	outcome, err := s.gate.MaybeCreate(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Completion
	switch {
	case err == nil:
		s.metrics.RecordShopCreation(ctx, true)
		s.interview.Complete()
		s.held = nil
		s.appendLocked(transcript.OriginAssistant, s.script.ShopCreated)
		events = append(events, Completion{Kind: CompletionShopCreated, Success: true, ShopID: outcome.ShopID})
		s.logger.Info("shop created", slog.String("shop_id", outcome.ShopID))
	case errors.Is(err, creation.ErrAlreadyCreated):
		s.logger.Info("shop already exists, creation skipped")
	default:
		s.metrics.RecordShopCreation(ctx, false)
		s.appendLocked(transcript.OriginAssistant, s.script.ShopFailed)
		events = append(events, Completion{Kind: CompletionShopCreated, Success: false, Message: err.Error()})
		s.logger.Warn("shop creation failed", slog.String("error", err.Error()))
	}

	out := s.finishLocked(mark)
	out.CreationRan = true
	return out, events
}

// Confirm persists the pending patch. A *staging.PersistError means the
// patch is still pending and may be retried or cancelled.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrEnded
	}
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session.confirm")
	defer span.End()

	shopID, _ := s.gate.ShopID()
	err := s.engine.Confirm(ctx, staging.SinkFunc(func(ctx context.Context, patch storefront.Configuration) error {
		if s.persister == nil {
			return nil
		}
		return s.persister.PersistTemplate(ctx, s.id, shopID, patch)
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordReconciled(ctx, "confirm", resultLabel(err))
	return err
}

// Cancel reverts the live configuration to the snapshot.
func (s *Session) Cancel(ctx context.Context) error {
	if s.isEnded() {
		return ErrEnded
	}
	err := s.engine.Cancel()
	s.metrics.RecordReconciled(ctx, "cancel", resultLabel(err))
	return err
}

// RemoveField drops one field from the pending patch.
func (s *Session) RemoveField(ctx context.Context, key string) error {
	if s.isEnded() {
		return ErrEnded
	}
	err := s.engine.RemoveField(key)
	s.metrics.RecordReconciled(ctx, "remove_field", resultLabel(err))
	return err
}

// State returns a copy of the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	shopID, _ := s.gate.ShopID()
	pending, _ := s.engine.Pending()
	return State{
		ID:         s.id,
		ShopID:     shopID,
		Live:       s.engine.Live(),
		Pending:    pending,
		Transcript: s.transcript.Entries(),
		Interview:  s.interview.State(),
		InFlight:   s.inFlight,
		Ended:      s.ended,
	}
}

// Held returns a copy of the shop data held for a later creation signal.
func (s *Session) Held() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.held)
}

// end discards the transcript, held data and any unconfirmed patch.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.held = nil
	s.transcript = transcript.New()
	s.engine.Discard()
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) appendLocked(origin transcript.Origin, text string) {
	s.transcript = s.transcript.Append(transcript.NewEntry(origin, text))
}

// finishLocked clears inFlight and reports the entries appended since mark.
func (s *Session) finishLocked(mark int) Result {
	s.inFlight = false
	shopID, _ := s.gate.ShopID()
	return Result{
		Appended:  s.transcript.Since(mark),
		ShopID:    shopID,
		Interview: s.interview.State(),
	}
}

// interviewCompletedLocked queues the interview_completed event the first
// time the interview ends, whether by the assistant's final step or by
// running out of scripted questions.
func (s *Session) interviewCompletedLocked(events []Completion) []Completion {
	if s.completionFired {
		return events
	}
	s.completionFired = true
	return append(events, Completion{Kind: CompletionInterviewCompleted, Success: true})
}

func (s *Session) fire(events ...Completion) {
	if s.onDone == nil {
		return
	}
	for _, ev := range events {
		s.onDone(s.id, ev)
	}
}

func resultLabel(err error) string {
	var persistErr *staging.PersistError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &persistErr):
		return "persist_error"
	case errors.Is(err, staging.ErrConfirmInFlight):
		return "confirm_in_flight"
	default:
		return "rejected"
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any(storefront.Configuration(m).Clone())
}
