// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"fdm-service/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repository: not found")

// TerminalStateRepository persists the per-terminal protocol state. The
// counters survive process restarts and their increments are atomic with
// respect to the read: a sequence number is never skipped or reused.
type TerminalStateRepository interface {
	// Get returns the terminal's state, creating the initial row on
	// first use.
	Get(ctx context.Context, terminalID string) (*model.TerminalState, error)

	// NextSequenceNumber atomically advances and returns the 2-digit
	// request sequence counter (wraps at 100).
	NextSequenceNumber(ctx context.Context, terminalID string) (int, error)

	// NextTicketNumber atomically advances and returns the 6-digit
	// ticket counter (wraps at 1000000).
	NextTicketNumber(ctx context.Context, terminalID string) (int, error)

	// ChainHead returns the current hash-chain head.
	ChainHead(ctx context.Context, terminalID string) (string, error)

	// UpdateChainHead persists a new chain head. Called only after the
	// control module confirmed the signature, never speculatively.
	UpdateChainHead(ctx context.Context, terminalID, head string) error
}

// ReceiptRepository is the append-only journal of signed receipts.
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *model.FiscalReceipt) error
	GetByTicketNumber(ctx context.Context, terminalID string, ticketNumber int) (*model.FiscalReceipt, error)
	List(ctx context.Context, filter *ReceiptFilter) ([]*model.FiscalReceipt, int, error)

	// ListReceiptHashes returns every receipt hash of a terminal in
	// signing order, the exact input for replaying the hash chain.
	ListReceiptHashes(ctx context.Context, terminalID string) ([]string, error)
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	TerminalID *string    `json:"terminal_id,omitempty"`
	EventLabel *string    `json:"event_label,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
}
