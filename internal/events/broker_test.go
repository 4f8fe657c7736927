package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, SimulationCompleted) error { return f.err }

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	evt := SimulationCompleted{SimulationID: "sim-1", CaseID: "case-1", EndedAt: time.Now()}
	if err := b.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for i, ch := range []<-chan SimulationCompleted{ch1, ch2} {
		select {
		case got := <-ch:
			if got.SimulationID != "sim-1" {
				t.Errorf("subscriber %d got %q", i, got.SimulationID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		if err := b.Publish(context.Background(), SimulationCompleted{}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()

	err := Multi{b, nil, failingPublisher{err: boom}}.Publish(context.Background(), SimulationCompleted{SimulationID: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("broker should still receive the event")
	}
}
