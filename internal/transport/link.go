// internal/transport/link.go
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Link is the Exchanger over a physical Connection. It owns the
// request/response discipline: one exchange at a time, lazy open, and
// accumulation of partial reads until the promised response length
// arrives or the channel goes quiet.
type Link struct {
	conn   Connection
	logger *zap.Logger
	mutex  sync.Mutex
	stats  Stats
}

// NewLink wraps a connection. The connection is opened on first use and
// reopened after transport failures.
func NewLink(conn Connection, logger *zap.Logger) *Link {
	return &Link{
		conn: conn,
		logger: logger.With(
			zap.String("component", "fdm_link"),
			zap.String("channel", string(conn.Type())),
		),
	}
}

// Exchange writes one request and reads back exactly the promised number
// of bytes. A channel that stays silent yields ErrNoResponse; the
// connection is closed so the next exchange reopens it cleanly.
func (l *Link) Exchange(ctx context.Context, req Request) (string, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.conn.IsOpen() {
		if err := l.conn.Open(ctx); err != nil {
			l.stats.ErrorCount++
			return "", fmt.Errorf("failed to open %s channel: %w", l.conn.Type(), err)
		}
	}

	if err := l.conn.Write(ctx, []byte(req.Payload)); err != nil {
		l.stats.ErrorCount++
		l.dropConnection()
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	l.stats.BytesWritten += int64(len(req.Payload))

	response := make([]byte, 0, req.ResponseLength)
	for len(response) < req.ResponseLength {
		chunk, err := l.conn.Read(ctx, req.ResponseLength-len(response))
		if err != nil {
			l.stats.ErrorCount++
			l.dropConnection()
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		if len(chunk) == 0 {
			// Read timeout. Nothing at all means the module is
			// unreachable; a truncated response goes back to the
			// caller for classification.
			if len(response) == 0 {
				l.stats.LastNoResponse = time.Now()
				l.logger.Warn("Control module did not respond",
					zap.Int("expected_bytes", req.ResponseLength),
				)
				// Drop the channel so a reply that arrives after
				// this deadline cannot be read by the next
				// exchange.
				l.dropConnection()
				return "", ErrNoResponse
			}
			break
		}
		response = append(response, chunk...)
	}

	l.stats.BytesRead += int64(len(response))
	l.stats.ExchangeCount++
	l.stats.LastActivity = time.Now()
	l.stats.IsConnected = true

	l.logger.Debug("Exchange completed",
		zap.Int("request_bytes", len(req.Payload)),
		zap.Int("response_bytes", len(response)),
	)
	return string(response), nil
}

// Close releases the underlying channel.
func (l *Link) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stats.IsConnected = false
	return l.conn.Close()
}

// GetStats returns a snapshot of the channel counters.
func (l *Link) GetStats() Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}

// dropConnection closes the channel after a transport error so the next
// exchange starts from a clean open. Close errors are logged, not
// propagated; the exchange already failed.
func (l *Link) dropConnection() {
	l.stats.IsConnected = false
	if err := l.conn.Close(); err != nil {
		l.logger.Warn("Failed to close channel after transport error", zap.Error(err))
	}
}
