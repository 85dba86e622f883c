// internal/transport/link_test.go
package transport

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"fdm-service/internal/model"
)

// fakeConnection scripts its reads and records lifecycle transitions.
type fakeConnection struct {
	open   bool
	opens  int
	closes int
	reads  [][]byte
	wrote  []byte
}

func (f *fakeConnection) Open(ctx context.Context) error {
	f.open = true
	f.opens++
	return nil
}

func (f *fakeConnection) Close() error {
	f.open = false
	f.closes++
	return nil
}

func (f *fakeConnection) IsOpen() bool { return f.open }

func (f *fakeConnection) Write(ctx context.Context, data []byte) error {
	f.wrote = append(f.wrote, data...)
	return nil
}

func (f *fakeConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if len(f.reads) == 0 {
		return nil, nil // read timeout, nothing arrived
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	if len(next) > maxBytes {
		next = next[:maxBytes]
	}
	return next, nil
}

func (f *fakeConnection) Type() model.ConnectionType { return model.ConnectionTypeTCP }

func TestExchangeAccumulatesPartialReads(t *testing.T) {
	conn := &fakeConnection{
		reads: [][]byte{[]byte("I01"), []byte("0")},
	}
	link := NewLink(conn, zap.NewNop())

	got, err := link.Exchange(context.Background(), Request{Payload: "I010", ResponseLength: 4})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if got != "I010" {
		t.Errorf("response = %q, want %q", got, "I010")
	}
	if string(conn.wrote) != "I010" {
		t.Errorf("wrote = %q, want %q", conn.wrote, "I010")
	}
}

func TestExchangeSilenceDropsConnection(t *testing.T) {
	conn := &fakeConnection{}
	link := NewLink(conn, zap.NewNop())

	_, err := link.Exchange(context.Background(), Request{Payload: "H010", ResponseLength: 109})
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Exchange() error = %v, want ErrNoResponse", err)
	}

	// The channel must be dropped: a reply arriving after the deadline
	// would otherwise be read by the next exchange.
	if conn.open {
		t.Error("connection still open after silent exchange")
	}
	if conn.closes != 1 {
		t.Errorf("closes = %d, want 1", conn.closes)
	}
	if link.GetStats().IsConnected {
		t.Error("stats report connected after silent exchange")
	}

	// The next exchange starts from a clean open.
	conn.reads = [][]byte{[]byte("I010")}
	if _, err := link.Exchange(context.Background(), Request{Payload: "I010", ResponseLength: 4}); err != nil {
		t.Fatalf("Exchange() after drop error = %v", err)
	}
	if conn.opens != 2 {
		t.Errorf("opens = %d, want 2", conn.opens)
	}
}
