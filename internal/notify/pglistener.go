package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// PGListener relays PostgreSQL NOTIFY messages on one channel into a
// Broadcaster, so writes made by other processes reach local subscribers.
type PGListener struct {
	pool       *pgxpool.Pool
	channel    string
	b          *Broadcaster
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewPGListener returns a listener for channel that publishes into b.
func NewPGListener(pool *pgxpool.Pool, channel string, b *Broadcaster) *PGListener {
	return &PGListener{
		pool:       pool,
		channel:    channel,
		b:          b,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// Run listens until ctx is cancelled. Lost connections are re-established
// with exponential backoff; a reconnect publishes once, since notifications
// may have been missed while disconnected.
func (l *PGListener) Run(ctx context.Context) error {
	wait := l.backoff
	first := true
	for {
		err := l.listen(ctx, !first)
		if ctx.Err() != nil {
			return nil
		}
		first = false
		slog.Warn("notify: listener disconnected", "channel", l.channel, "err", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, l.maxBackoff)
	}
}

func (l *PGListener) listen(ctx context.Context, resync bool) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("notify: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("notify: listen %q: %w", l.channel, err)
	}
	slog.Debug("notify: listening", "channel", l.channel)
	if resync {
		l.b.Publish()
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("notify: wait: %w", err)
		}
		slog.Debug("notify: change received", "channel", n.Channel, "key", n.Payload, "pid", n.PID)
		l.b.Publish()
	}
}
