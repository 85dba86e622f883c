// internal/model/fiscal.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConnectionType represents how the fiscal data module is reached.
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
	ConnectionTypeUSB    ConnectionType = "USB"
)

// FiscalReceipt is the persisted outcome of a successful hash-and-sign
// request. Receipts are append-only; nothing updates or deletes them.
type FiscalReceipt struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	TerminalID          string          `json:"terminal_id" db:"terminal_id"`
	TicketNumber        int             `json:"ticket_number" db:"ticket_number"`
	EventLabel          string          `json:"event_label" db:"event_label"`
	PLUHash             string          `json:"plu_hash" db:"plu_hash"`
	ReceiptHash         string          `json:"receipt_hash" db:"receipt_hash"`
	ChainValue          string          `json:"chain_value" db:"chain_value"`
	Signature           string          `json:"signature" db:"signature"`
	VSCIdentification   string          `json:"vsc_identification" db:"vsc_identification"`
	FDMProductionNumber string          `json:"fdm_production_number" db:"fdm_production_number"`
	TicketCounter       string          `json:"ticket_counter" db:"ticket_counter"`
	TotalTicketCounter  string          `json:"total_ticket_counter" db:"total_ticket_counter"`
	TotalAmount         decimal.Decimal `json:"total_amount" db:"total_amount"`
	SignedDate          string          `json:"signed_date" db:"signed_date"`
	SignedTime          string          `json:"signed_time" db:"signed_time"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// TerminalState is the durable per-terminal protocol state: the two-digit
// request sequence counter, the six-digit ticket counter and the rolling
// hash-chain head. Single writer per terminal, updated read-modify-write.
type TerminalState struct {
	TerminalID     string    `json:"terminal_id" db:"terminal_id"`
	SequenceNumber int       `json:"sequence_number" db:"sequence_number"`
	TicketNumber   int       `json:"ticket_number" db:"ticket_number"`
	ChainHead      string    `json:"chain_head" db:"chain_head"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// EventType represents the type of fiscal event published on the bus.
type EventType string

const (
	EventSignCompleted  EventType = "SIGN_COMPLETED"
	EventSignFailed     EventType = "SIGN_FAILED"
	EventPinAccepted    EventType = "PIN_ACCEPTED"
	EventFDMWarning     EventType = "FDM_WARNING"
	EventFDMUnreachable EventType = "FDM_UNREACHABLE"
	EventIdentified     EventType = "FDM_IDENTIFIED"
)

// FiscalEvent is published to websocket subscribers whenever the signing
// service completes or fails a device interaction.
type FiscalEvent struct {
	ID         uuid.UUID  `json:"id"`
	EventType  EventType  `json:"event_type"`
	TerminalID string     `json:"terminal_id"`
	Data       JSONObject `json:"data"`
	Timestamp  time.Time  `json:"timestamp"`
	Severity   string     `json:"severity"` // INFO, WARNING, ERROR
}
