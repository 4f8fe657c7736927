package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"medisim/internal/events"
)

// Notifier publishes simulation events through PostgreSQL NOTIFY so every
// replica's instructor stream sees them, and listens for them with a
// dedicated pq.Listener connection.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Publish implements events.Publisher.
func (n *Notifier) Publish(ctx context.Context, evt events.SimulationCompleted) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := n.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", n.Channel, err)
	}
	return nil
}

// Listen opens a pq.Listener on connStr and calls handle for every event
// received on the channel until ctx is done.  The listener reconnects on
// its own after connection loss.
func (n *Notifier) Listen(ctx context.Context, connStr string, handle func(events.SimulationCompleted)) error {
	l := pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("notify listener event", "event", ev, "error", err)
		}
	})
	if err := l.Listen(n.Channel); err != nil {
		l.Close()
		return fmt.Errorf("listen %s: %w", pq.QuoteIdentifier(n.Channel), err)
	}
	slog.Info("listening for simulation events", "channel", n.Channel)

	go func() {
		defer l.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-l.Notify:
				// nil after a reconnect; notifications sent meanwhile are lost.
				if msg == nil {
					continue
				}
				var evt events.SimulationCompleted
				if err := json.Unmarshal([]byte(msg.Extra), &evt); err != nil {
					slog.Warn("discarding malformed notification", "channel", msg.Channel, "error", err)
					continue
				}
				handle(evt)
			case <-time.After(90 * time.Second):
				go func() {
					if err := l.Ping(); err != nil {
						slog.Warn("notify listener ping failed", "error", err)
					}
				}()
			}
		}
	}()
	return nil
}
