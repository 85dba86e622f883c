// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"time"

	"fdm-service/internal/model"
)

// ErrNoResponse is returned by an Exchange when the control module stayed
// silent past the read timeout. Callers treat it as "device unreachable"
// and retry.
var ErrNoResponse = errors.New("transport: no response from control module")

// Request is one half-duplex exchange: the serialized ASCII request and
// the exact byte count the protocol promises back for it.
type Request struct {
	Payload        string
	ResponseLength int
}

// Exchanger performs one request/response round trip. The control module
// is strictly half duplex, so implementations must serialize exchanges.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (string, error)
}

// Connection is the lifecycle of one physical channel to the control
// module (serial, TCP or USB).
type Connection interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	Type() model.ConnectionType
}

// Stats tracks channel-level counters for the health endpoint.
type Stats struct {
	BytesWritten   int64     `json:"bytes_written"`
	BytesRead      int64     `json:"bytes_read"`
	ExchangeCount  int64     `json:"exchange_count"`
	ErrorCount     int64     `json:"error_count"`
	LastActivity   time.Time `json:"last_activity"`
	IsConnected    bool      `json:"is_connected"`
	LastNoResponse time.Time `json:"last_no_response,omitempty"`
}
