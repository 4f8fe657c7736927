package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"medisim/internal/events"
	"medisim/internal/llm"
	"medisim/pkg"
)

// RecordStore persists finished simulations.
type RecordStore interface {
	SaveSimulation(ctx context.Context, rec *pkg.SimulationRecord) error
}

// RegistryConfig tunes a Registry.
type RegistryConfig struct {
	// IdleTTL closes sessions untouched for this long.  Zero disables
	// sweeping.
	IdleTTL time.Duration
	// SessionOptions are applied to every session the registry opens.
	SessionOptions []Option
}

type entry struct {
	session   *Session
	caseID    string
	userID    string
	startedAt time.Time
	// unsaved is the closed record of a simulation whose store write
	// failed.  The entry stays registered so the write can be retried.
	unsaved *pkg.SimulationRecord
}

// Registry owns the live sessions of the process, one per open case view.
// Handlers look sessions up by id; nothing else holds them.
type Registry struct {
	client    llm.Client
	cases     CaseSource
	records   RecordStore
	publisher events.Publisher
	debriefer *Debriefer
	cfg       RegistryConfig
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry wires a registry.  records, publisher and debriefer may be
// nil, in which case finished simulations are only returned to the caller.
func NewRegistry(client llm.Client, cases CaseSource, records RecordStore, publisher events.Publisher, debriefer *Debriefer, cfg RegistryConfig) *Registry {
	return &Registry{
		client:    client,
		cases:     cases,
		records:   records,
		publisher: publisher,
		debriefer: debriefer,
		cfg:       cfg,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
}

// Open resolves the case and registers a new session for it.
func (r *Registry) Open(ctx context.Context, caseID, userID string) (*Session, error) {
	s, err := OpenSession(ctx, r.cases, caseID, r.client, r.cfg.SessionOptions...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[s.ID()] = &entry{session: s, caseID: caseID, userID: userID, startedAt: r.now()}
	r.mu.Unlock()

	slog.Info("simulation opened", "session_id", s.ID(), "case_id", caseID, "user_id", userID)
	return s, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSimulationNotFound
	}
	return e.session, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs lists the live simulation ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Finish closes the session, stores the student's diagnosis with a debrief
// and announces the completion.  Debrief and publish failures are logged;
// the record is still returned.  When the store write fails the simulation
// stays registered, closed, and Finish may be called again.
func (r *Registry) Finish(ctx context.Context, id, diagnosis, reasoning string) (*pkg.SimulationRecord, error) {
	e, err := r.remove(id)
	if err != nil {
		return nil, err
	}

	rec := e.unsaved
	if rec == nil {
		rec = r.closeEntry(id, e, pkg.StatusCompleted)
	}
	rec.Status = pkg.StatusCompleted
	rec.Diagnosis = diagnosis
	rec.Reasoning = reasoning

	if r.debriefer != nil {
		d, err := r.debriefer.Debrief(ctx, e.session.profile, rec)
		if err != nil {
			slog.Warn("debrief failed", "session_id", id, "error", err)
		}
		rec.Debrief = d
	}

	if err := r.save(ctx, rec); err != nil {
		r.keepUnsaved(id, e, rec)
		return rec, err
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, events.FromRecord(rec)); err != nil {
			slog.Warn("failed to publish simulation completed", "session_id", id, "error", err)
		}
	}

	slog.Info("simulation completed", "session_id", id, "case_id", rec.CaseID, "turns", len(rec.Transcript))
	return rec, nil
}

// Abandon closes the session and stores it as abandoned.  A simulation
// left over from a failed store write is saved as it was recorded.
func (r *Registry) Abandon(ctx context.Context, id string) error {
	e, err := r.remove(id)
	if err != nil {
		return err
	}
	rec := e.unsaved
	if rec == nil {
		rec = r.closeEntry(id, e, pkg.StatusAbandoned)
		slog.Info("simulation abandoned", "session_id", id, "case_id", rec.CaseID)
	}
	if err := r.save(ctx, rec); err != nil {
		r.keepUnsaved(id, e, rec)
		return err
	}
	return nil
}

// Sweep abandons every session idle for longer than the configured TTL and
// returns how many were closed.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []string
	for id, e := range r.entries {
		if e.session.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	closed := 0
	for _, id := range idle {
		err := r.Abandon(ctx, id)
		if errors.Is(err, ErrSimulationNotFound) {
			continue
		}
		if err != nil {
			slog.Error("failed to store idle simulation", "session_id", id, "error", err)
		}
		closed++
	}
	if closed > 0 {
		slog.Info("idle simulations closed", "count", closed)
	}
	return closed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if r.cfg.IdleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// CloseAll closes every live session without storing them.  Used at
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.unsaved != nil {
			slog.Warn("dropping unsaved simulation", "session_id", id, "status", e.unsaved.Status)
		}
		e.session.Close()
		delete(r.entries, id)
	}
}

func (r *Registry) keepUnsaved(id string, e *entry, rec *pkg.SimulationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.unsaved = rec
	r.entries[id] = e
	slog.Warn("simulation kept for retry after store failure", "session_id", id)
}

func (r *Registry) remove(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSimulationNotFound
	}
	delete(r.entries, id)
	return e, nil
}

func (r *Registry) closeEntry(id string, e *entry, status pkg.SimulationStatus) *pkg.SimulationRecord {
	turns := e.session.Close()
	return &pkg.SimulationRecord{
		ID:         id,
		CaseID:     e.caseID,
		UserID:     e.userID,
		Status:     status,
		Transcript: turns,
		StartedAt:  e.startedAt,
		EndedAt:    r.now(),
	}
}

func (r *Registry) save(ctx context.Context, rec *pkg.SimulationRecord) error {
	if r.records == nil {
		return nil
	}
	if err := r.records.SaveSimulation(ctx, rec); err != nil {
		return fmt.Errorf("save simulation %s: %w", rec.ID, err)
	}
	return nil
}
