package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Start dials the dedicated LISTEN connection, issues LISTEN, and begins
// receiving. The given context bounds the whole listening lifetime; Stop
// also ends it.
func (f *PGFanout) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s: %w", notifyChannel, err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	f.cancelLoop = cancel
	f.loopDone = make(chan struct{})
	go func() {
		defer close(f.loopDone)
		f.receiveLoop(loopCtx)
	}()

	f.logger.Info("notification fanout listening", "channel", notifyChannel)
	return nil
}

// receiveLoop is the sole goroutine touching the LISTEN connection, so
// WaitForNotification never races another Exec on it.
func (f *PGFanout) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			f.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Error("NOTIFY receive failed", "error", err)
			f.reconnect(ctx)
			continue
		}
		f.dispatch(ctx, []byte(notification.Payload))
	}
}

// reconnect re-establishes the LISTEN connection with capped exponential
// backoff and re-issues LISTEN before resuming.
func (f *PGFanout) reconnect(ctx context.Context) {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		_ = f.conn.Close(ctx)
		f.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, f.connString)
		if err != nil {
			f.logger.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
			f.logger.Error("re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		f.conn = conn
		f.logger.Info("notification fanout reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it to finish, then
// closes the LISTEN connection. Closing first would race
// WaitForNotification.
func (f *PGFanout) Stop(ctx context.Context) {
	if f.cancelLoop != nil {
		f.cancelLoop()
	}
	if f.loopDone != nil {
		<-f.loopDone
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(ctx)
		f.conn = nil
	}
}
