// internal/repository/memory.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fdm-service/internal/fdm"
	"fdm-service/internal/model"
)

// MemoryTerminalStateRepository is an in-process TerminalStateRepository.
// It backs unit tests and development setups without Postgres; the
// counters do not survive a restart.
type MemoryTerminalStateRepository struct {
	mutex  sync.Mutex
	states map[string]*model.TerminalState
}

// NewMemoryTerminalStateRepository creates an empty in-memory state store.
func NewMemoryTerminalStateRepository() *MemoryTerminalStateRepository {
	return &MemoryTerminalStateRepository{
		states: make(map[string]*model.TerminalState),
	}
}

func (r *MemoryTerminalStateRepository) Get(ctx context.Context, terminalID string) (*model.TerminalState, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state := r.ensureLocked(terminalID)
	copied := *state
	return &copied, nil
}

func (r *MemoryTerminalStateRepository) NextSequenceNumber(ctx context.Context, terminalID string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state := r.ensureLocked(terminalID)
	state.SequenceNumber = (state.SequenceNumber + 1) % 100
	state.UpdatedAt = time.Now()
	return state.SequenceNumber, nil
}

func (r *MemoryTerminalStateRepository) NextTicketNumber(ctx context.Context, terminalID string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state := r.ensureLocked(terminalID)
	state.TicketNumber = (state.TicketNumber + 1) % 1000000
	state.UpdatedAt = time.Now()
	return state.TicketNumber, nil
}

func (r *MemoryTerminalStateRepository) ChainHead(ctx context.Context, terminalID string) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.ensureLocked(terminalID).ChainHead, nil
}

func (r *MemoryTerminalStateRepository) UpdateChainHead(ctx context.Context, terminalID, head string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state := r.ensureLocked(terminalID)
	state.ChainHead = head
	state.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTerminalStateRepository) ensureLocked(terminalID string) *model.TerminalState {
	state, ok := r.states[terminalID]
	if !ok {
		state = &model.TerminalState{
			TerminalID: terminalID,
			ChainHead:  fdm.GenesisChainValue,
			UpdatedAt:  time.Now(),
		}
		r.states[terminalID] = state
	}
	return state
}

// MemoryReceiptRepository is an in-process append-only receipt journal.
type MemoryReceiptRepository struct {
	mutex    sync.Mutex
	receipts []*model.FiscalReceipt
}

// NewMemoryReceiptRepository creates an empty in-memory journal.
func NewMemoryReceiptRepository() *MemoryReceiptRepository {
	return &MemoryReceiptRepository{}
}

func (r *MemoryReceiptRepository) Create(ctx context.Context, receipt *model.FiscalReceipt) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.receipts {
		if existing.TerminalID == receipt.TerminalID && existing.TicketNumber == receipt.TicketNumber {
			return fmt.Errorf("receipt %d of terminal %s already journaled", receipt.TicketNumber, receipt.TerminalID)
		}
	}

	copied := *receipt
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	r.receipts = append(r.receipts, &copied)
	return nil
}

func (r *MemoryReceiptRepository) GetByTicketNumber(ctx context.Context, terminalID string, ticketNumber int) (*model.FiscalReceipt, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, receipt := range r.receipts {
		if receipt.TerminalID == terminalID && receipt.TicketNumber == ticketNumber {
			copied := *receipt
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: receipt %d of terminal %s", ErrNotFound, ticketNumber, terminalID)
}

func (r *MemoryReceiptRepository) List(ctx context.Context, filter *ReceiptFilter) ([]*model.FiscalReceipt, int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	matched := []*model.FiscalReceipt{}
	for _, receipt := range r.receipts {
		if filter.TerminalID != nil && receipt.TerminalID != *filter.TerminalID {
			continue
		}
		if filter.EventLabel != nil && receipt.EventLabel != *filter.EventLabel {
			continue
		}
		if filter.StartDate != nil && receipt.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && receipt.CreatedAt.After(*filter.EndDate) {
			continue
		}
		copied := *receipt
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	start := (page - 1) * perPage
	if start >= len(matched) {
		return []*model.FiscalReceipt{}, total, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], total, nil
}

func (r *MemoryReceiptRepository) ListReceiptHashes(ctx context.Context, terminalID string) ([]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	hashes := []string{}
	for _, receipt := range r.receipts {
		if receipt.TerminalID == terminalID {
			hashes = append(hashes, receipt.ReceiptHash)
		}
	}
	return hashes, nil
}
