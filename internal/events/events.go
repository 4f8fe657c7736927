// Package events carries simulation lifecycle notifications to other
// processes (NATS, Postgres NOTIFY) and to in-process subscribers.
package events

import (
	"context"
	"errors"
	"time"

	"medisim/pkg"
)

// SubjectSimulationCompleted is the NATS subject for finished simulations.
const SubjectSimulationCompleted = "medisim.simulation.completed"

// SimulationCompleted is published when a simulation is finished.
type SimulationCompleted struct {
	SimulationID string               `json:"simulation_id"`
	CaseID       string               `json:"case_id"`
	UserID       string               `json:"user_id,omitempty"`
	Status       pkg.SimulationStatus `json:"status"`
	Diagnosis    string               `json:"diagnosis,omitempty"`
	EndedAt      time.Time            `json:"ended_at"`
}

// FromRecord builds the event for a stored simulation record.
func FromRecord(rec *pkg.SimulationRecord) SimulationCompleted {
	return SimulationCompleted{
		SimulationID: rec.ID,
		CaseID:       rec.CaseID,
		UserID:       rec.UserID,
		Status:       rec.Status,
		Diagnosis:    rec.Diagnosis,
		EndedAt:      rec.EndedAt,
	}
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, evt SimulationCompleted) error
}

// Multi publishes to every publisher and joins the errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt SimulationCompleted) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
