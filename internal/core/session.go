package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medisim/internal/llm"
	"medisim/pkg"
)

// DefaultProviderTimeout bounds a single completion call.
const DefaultProviderTimeout = 30 * time.Second

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingGreeting
	StateReady
	StateAwaitingReply
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateReady:
		return "ready"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State appear as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateUninitialized; st <= StateClosed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// CaseSource resolves case ids to profiles.  A missing case is reported
// with an error wrapping pkg.ErrNotFound.
type CaseSource interface {
	GetCase(ctx context.Context, id string) (*pkg.CaseProfile, error)
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the per-call provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLanguage sets the language the patient must answer in.
func WithLanguage(lang string) Option {
	return func(s *Session) {
		if lang != "" {
			s.language = lang
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithID fixes the session id instead of generating one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session mediates one doctor/patient dialogue for a single case.  All
// methods are safe for concurrent use, but only one provider request may be
// outstanding at a time; overlapping calls fail with ErrSessionBusy.
type Session struct {
	id       string
	profile  *pkg.CaseProfile
	llm      llm.Client
	timeout  time.Duration
	language string
	now      func() time.Time

	mu         sync.Mutex
	transcript *transcript
	state      State
	inflight   bool
	cancel     context.CancelFunc
	lastActive time.Time
	final      []pkg.Turn
}

// NewSession builds a session from an already resolved profile.  The
// profile is copied; later edits to the caller's value do not leak in.
func NewSession(profile *pkg.CaseProfile, client llm.Client, opts ...Option) (*Session, error) {
	if profile == nil {
		return nil, errors.New("new session: nil case profile")
	}
	if client == nil {
		return nil, errors.New("new session: nil completion client")
	}

	s := &Session{
		profile:  profile.Clone(),
		llm:      client,
		timeout:  DefaultProviderTimeout,
		language: "English",
		now:      time.Now,
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	now := s.now()
	s.transcript = newTranscript(RenderSystemContext(s.profile, s.language), now)
	s.lastActive = now
	s.state = StateAwaitingGreeting
	return s, nil
}

// OpenSession resolves caseID through src and builds a session for it.
func OpenSession(ctx context.Context, src CaseSource, caseID string, client llm.Client, opts ...Option) (*Session, error) {
	profile, err := src.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	return NewSession(profile, client, opts...)
}

func (s *Session) ID() string { return s.id }

// Profile returns a copy of the case the session was built from.
func (s *Session) Profile() *pkg.CaseProfile { return s.profile.Clone() }

// SystemContext returns the role instruction sent ahead of every prompt.
func (s *Session) SystemContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.system()
}

// State reports the current lifecycle state.  Valid after Close.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive is the time of the last call that touched the transcript.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Greeting asks the provider for the patient's opening line.  On provider
// failure it returns the template fallback together with
// ErrProviderUnavailable; the fallback is not recorded.
func (s *Session) Greeting(ctx context.Context) (string, error) {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if s.state != StateAwaitingGreeting || s.transcript.len() != 1 {
		s.mu.Unlock()
		return "", ErrGreetingDone
	}
	callCtx := s.beginCallLocked(ctx)
	prompt := greetingPrompt(s.transcript.system())
	s.mu.Unlock()

	res := llm.Invoke(callCtx, s.llm, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endCallLocked() {
		return "", ErrSessionClosed
	}
	s.state = StateReady

	switch r := res.(type) {
	case llm.Success:
		s.transcript.append(pkg.Turn{
			Kind:           pkg.TurnPatient,
			Text:           r.Text,
			Classification: pkg.ClassClarification,
			CreatedAt:      s.now(),
		})
		return r.Text, nil
	case llm.Failure:
		s.logFailure("greeting", r)
	}
	return GreetingFallback(s.profile), ErrProviderUnavailable
}

// Ask records the doctor's question, sends the whole conversation to the
// provider and records the reply.  When the provider fails the question
// stays in the transcript without an answer and the apology text is
// returned with ErrProviderUnavailable.
func (s *Session) Ask(ctx context.Context, question string) (pkg.PatientResponse, error) {
	q := strings.TrimSpace(question)

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return pkg.PatientResponse{}, err
	}
	if q == "" {
		s.mu.Unlock()
		return pkg.PatientResponse{}, ErrEmptyQuestion
	}
	s.transcript.append(pkg.Turn{Kind: pkg.TurnDoctor, Text: q, CreatedAt: s.now()})
	s.state = StateAwaitingReply
	callCtx := s.beginCallLocked(ctx)
	prompt := s.transcript.prompt()
	s.mu.Unlock()

	res := llm.Invoke(callCtx, s.llm, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endCallLocked() {
		return pkg.PatientResponse{}, ErrSessionClosed
	}
	s.state = StateReady

	class := Classify(q)
	switch r := res.(type) {
	case llm.Success:
		s.transcript.append(pkg.Turn{
			Kind:           pkg.TurnPatient,
			Text:           r.Text,
			Classification: class,
			CreatedAt:      s.now(),
		})
		return pkg.PatientResponse{Text: r.Text, Classification: class}, nil
	case llm.Failure:
		s.logFailure("ask", r)
	}
	return pkg.PatientResponse{Text: ApologyText, Classification: pkg.ClassClarification}, ErrProviderUnavailable
}

// Reset drops every turn except the system context.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return err
	}
	s.transcript.reset()
	s.lastActive = s.now()
	return nil
}

// Transcript returns a snapshot of the conversation without the system
// context.  The sequence can be ranged over any number of times.
func (s *Session) Transcript() (iter.Seq[pkg.Turn], error) {
	turns, err := s.Turns()
	if err != nil {
		return nil, err
	}
	return func(yield func(pkg.Turn) bool) {
		for _, t := range turns {
			if !yield(t) {
				return
			}
		}
	}, nil
}

// Turns is Transcript as a slice.
func (s *Session) Turns() ([]pkg.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	return s.transcript.history(), nil
}

// Len counts the turns including the system context.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.len()
}

// Close ends the session and returns the final transcript (without the
// system context).  An outstanding provider call is cancelled and its result
// discarded.  Calling Close again returns the same transcript.
func (s *Session) Close() []pkg.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.final
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.final = s.transcript.history()
	s.state = StateClosed
	slog.Debug("session closed", "session_id", s.id, "case_id", s.profile.ID, "turns", len(s.final))
	return s.final
}

func (s *Session) checkIdleLocked() error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.inflight {
		return ErrSessionBusy
	}
	return nil
}

// beginCallLocked marks a provider call outstanding and derives its context.
func (s *Session) beginCallLocked(ctx context.Context) context.Context {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.inflight = true
	s.cancel = cancel
	s.lastActive = s.now()
	return callCtx
}

// endCallLocked clears the in-flight mark.  It reports false when the
// session was closed while the call was outstanding.
func (s *Session) endCallLocked() bool {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inflight = false
	s.lastActive = s.now()
	return s.state != StateClosed
}

func (s *Session) logFailure(op string, f llm.Failure) {
	slog.Warn("completion failed, using fallback",
		"op", op,
		"session_id", s.id,
		"case_id", s.profile.ID,
		"kind", f.Kind,
		"error", f.Message,
	)
}
