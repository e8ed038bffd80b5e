// Package engine wires the turn pipeline together: extract evidence, score
// the message, apply the session latch, generate a honeypot reply, and fire
// the one-shot activation report.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/scamtrap-ai/scamtrap/pkg/events"
	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
	"github.com/scamtrap-ai/scamtrap/pkg/oracle"
	"github.com/scamtrap-ai/scamtrap/pkg/report"
	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

// ErrEmptyMessage rejects turns with no text to process.
var ErrEmptyMessage = errors.New("message text is required")

// Scorer assesses a message's maliciousness. Implementations must degrade
// to a neutral verdict instead of returning errors.
type Scorer interface {
	Assess(ctx context.Context, message string, history []session.Message) oracle.Verdict
}

// Persona generates honeypot replies. Implementations must fall back to a
// canned reply instead of returning errors.
type Persona interface {
	Reply(ctx context.Context, req oracle.PersonaRequest) string
}

// ReportSink receives the one-shot activation snapshot.
type ReportSink interface {
	Submit(snap report.Snapshot)
}

// TurnRequest is one inbound scammer message.
type TurnRequest struct {
	SessionID string
	Text      string
	Channel   string // SMS | WhatsApp | Email; defaults to SMS downstream
}

// TurnResult is what a completed turn reports back to the transport layer.
type TurnResult struct {
	SessionID     string
	Reply         string // empty when the session is still monitoring
	Replied       bool
	ScamDetected  bool
	JustActivated bool
	Score         float64
	Session       session.Session
}

// Engine runs the turn pipeline. Oracle calls happen outside the session
// lock; the latch decision itself is the store's, under the lock.
type Engine struct {
	extractor *evidence.Extractor
	store     *session.Store
	scorer    Scorer
	persona   Persona
	reporter  ReportSink
	hub       *events.Hub
	threshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor overrides the default pattern extractor.
func WithExtractor(e *evidence.Extractor) Option {
	return func(en *Engine) { en.extractor = e }
}

// WithReporter sets the activation report sink.
func WithReporter(r ReportSink) Option {
	return func(en *Engine) { en.reporter = r }
}

// WithHub sets the live event hub.
func WithHub(h *events.Hub) Option {
	return func(en *Engine) { en.hub = h }
}

// WithActivationThreshold overrides the score at which a session engages.
// Must match the store's threshold; both default to the same constant.
func WithActivationThreshold(v float64) Option {
	return func(en *Engine) { en.threshold = v }
}

// New creates an engine around a session store and the two oracles.
func New(store *session.Store, scorer Scorer, persona Persona, opts ...Option) *Engine {
	en := &Engine{
		extractor: evidence.Default(),
		store:     store,
		scorer:    scorer,
		persona:   persona,
		threshold: session.DefaultActivationThreshold,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// HandleTurn processes one inbound message end to end. It returns
// session.ErrSessionBusy (wrapped) when a concurrent turn holds the same
// session beyond the bounded wait.
func (en *Engine) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.Text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if req.SessionID == "" {
		return TurnResult{}, errors.New("session id is required")
	}

	ev := en.extractor.Extract(req.Text)
	en.publish(events.LevelInfo, fmt.Sprintf("session %s: incoming %q", req.SessionID, preview(req.Text)))
	if n := ev.Count(); n > 0 {
		en.publish(events.LevelAlert, fmt.Sprintf("session %s: extracted %d artifacts", req.SessionID, n))
	}

	prior, err := en.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading session %s: %w", req.SessionID, err)
	}

	verdict := en.scorer.Assess(ctx, req.Text, prior.Transcript)

	// The reply has to exist before the turn is recorded, so the engage
	// decision is pre-computed from the prior snapshot. The store applies
	// the same rule under the session lock; a concurrent latch between the
	// two reads only makes an already-engaging session reply, never the
	// reverse for a latched one.
	willEngage := prior.Engaged() ||
		verdict.Decision == session.DecisionActivate ||
		verdict.Score >= en.threshold

	var reply string
	if willEngage {
		reply = en.persona.Reply(ctx, oracle.PersonaRequest{
			Message:    req.Text,
			History:    prior.Transcript,
			Evidence:   flatten(evidence.Merge(prior.Evidence, ev)),
			Channel:    req.Channel,
			Confidence: verdict.Score,
		})
	}

	snap, justActivated, err := en.store.RecordTurn(ctx, req.SessionID, session.Turn{
		IncomingText: req.Text,
		Evidence:     ev,
		Score:        verdict.Score,
		Decision:     verdict.Decision,
		Reason:       verdict.Reason(),
		Reply:        reply,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("recording turn for session %s: %w", req.SessionID, err)
	}

	if justActivated {
		en.publish(events.LevelAlert, fmt.Sprintf("session %s: honeypot activated (score %.2f)", snap.ID, snap.Score))
		if en.reporter != nil {
			en.reporter.Submit(report.BuildSnapshot(&snap))
		}
	}
	if reply != "" {
		en.publish(events.LevelInfo, fmt.Sprintf("session %s: replied %q", snap.ID, preview(reply)))
	}

	return TurnResult{
		SessionID:     snap.ID,
		Reply:         reply,
		Replied:       reply != "",
		ScamDetected:  snap.Engaged(),
		JustActivated: justActivated,
		Score:         snap.Score,
		Session:       snap,
	}, nil
}

func (en *Engine) publish(level events.Level, msg string) {
	if en.hub != nil {
		en.hub.Publish(level, msg)
	}
}

// flatten converts an evidence set into the per-type raw string lists the
// persona prompt embeds.
func flatten(set evidence.Set) map[string][]string {
	out := make(map[string][]string, len(evidence.Types()))
	for _, t := range evidence.Types() {
		out[string(t)] = set.Raws(t)
	}
	return out
}

func preview(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
