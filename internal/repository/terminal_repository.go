// internal/repository/terminal_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"fdm-service/internal/database"
	"fdm-service/internal/fdm"
	"fdm-service/internal/model"
)

// terminalStateRepository implements TerminalStateRepository on Postgres.
// Counter increments use a single upsert with RETURNING so concurrent
// sessions sharing the row can never observe the same value.
type terminalStateRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTerminalStateRepository creates a new terminal state repository
func NewTerminalStateRepository(db *database.DB, logger *zap.Logger) TerminalStateRepository {
	return &terminalStateRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the terminal's state, creating the initial row on first use.
func (r *terminalStateRepository) Get(ctx context.Context, terminalID string) (*model.TerminalState, error) {
	if err := r.ensureRow(ctx, terminalID); err != nil {
		return nil, err
	}

	query := `
		SELECT terminal_id, sequence_number, ticket_number, chain_head, updated_at
		FROM terminal_state WHERE terminal_id = $1
	`

	state := &model.TerminalState{}
	err := r.db.QueryRowContext(ctx, query, terminalID).Scan(
		&state.TerminalID, &state.SequenceNumber, &state.TicketNumber,
		&state.ChainHead, &state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: terminal %s", ErrNotFound, terminalID)
		}
		r.logger.Error("Failed to get terminal state", zap.Error(err), zap.String("terminal_id", terminalID))
		return nil, fmt.Errorf("failed to get terminal state: %w", err)
	}

	return state, nil
}

// NextSequenceNumber atomically advances the 2-digit sequence counter.
func (r *terminalStateRepository) NextSequenceNumber(ctx context.Context, terminalID string) (int, error) {
	query := `
		INSERT INTO terminal_state (terminal_id, sequence_number)
		VALUES ($1, 1)
		ON CONFLICT (terminal_id) DO UPDATE
		SET sequence_number = (terminal_state.sequence_number + 1) % 100,
		    updated_at = now()
		RETURNING sequence_number
	`

	var seq int
	if err := r.db.QueryRowContext(ctx, query, terminalID).Scan(&seq); err != nil {
		r.logger.Error("Failed to advance sequence number", zap.Error(err), zap.String("terminal_id", terminalID))
		return 0, fmt.Errorf("failed to advance sequence number: %w", err)
	}

	return seq, nil
}

// NextTicketNumber atomically advances the 6-digit ticket counter.
func (r *terminalStateRepository) NextTicketNumber(ctx context.Context, terminalID string) (int, error) {
	query := `
		INSERT INTO terminal_state (terminal_id, ticket_number)
		VALUES ($1, 1)
		ON CONFLICT (terminal_id) DO UPDATE
		SET ticket_number = (terminal_state.ticket_number + 1) % 1000000,
		    updated_at = now()
		RETURNING ticket_number
	`

	var ticket int
	if err := r.db.QueryRowContext(ctx, query, terminalID).Scan(&ticket); err != nil {
		r.logger.Error("Failed to advance ticket number", zap.Error(err), zap.String("terminal_id", terminalID))
		return 0, fmt.Errorf("failed to advance ticket number: %w", err)
	}

	return ticket, nil
}

// ChainHead returns the current hash-chain head.
func (r *terminalStateRepository) ChainHead(ctx context.Context, terminalID string) (string, error) {
	state, err := r.Get(ctx, terminalID)
	if err != nil {
		return "", err
	}
	return state.ChainHead, nil
}

// UpdateChainHead persists a confirmed chain head.
func (r *terminalStateRepository) UpdateChainHead(ctx context.Context, terminalID, head string) error {
	query := `
		UPDATE terminal_state
		SET chain_head = $2, updated_at = now()
		WHERE terminal_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, terminalID, head)
	if err != nil {
		r.logger.Error("Failed to update chain head", zap.Error(err), zap.String("terminal_id", terminalID))
		return fmt.Errorf("failed to update chain head: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check chain head update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: terminal %s", ErrNotFound, terminalID)
	}

	r.logger.Debug("Chain head updated",
		zap.String("terminal_id", terminalID),
		zap.String("chain_head", head),
	)
	return nil
}

// ensureRow inserts the initial state row if the terminal is new.
func (r *terminalStateRepository) ensureRow(ctx context.Context, terminalID string) error {
	query := `
		INSERT INTO terminal_state (terminal_id, chain_head)
		VALUES ($1, $2)
		ON CONFLICT (terminal_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, terminalID, fdm.GenesisChainValue); err != nil {
		return fmt.Errorf("failed to initialize terminal state: %w", err)
	}
	return nil
}
