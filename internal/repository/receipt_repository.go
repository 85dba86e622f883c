// internal/repository/receipt_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fdm-service/internal/database"
	"fdm-service/internal/model"
)

// receiptRepository implements ReceiptRepository on Postgres.
type receiptRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *database.DB, logger *zap.Logger) ReceiptRepository {
	return &receiptRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a signed receipt to the journal.
func (r *receiptRepository) Create(ctx context.Context, receipt *model.FiscalReceipt) error {
	query := `
		INSERT INTO fiscal_receipts (
			id, terminal_id, ticket_number, event_label, plu_hash,
			receipt_hash, chain_value, signature, vsc_identification,
			fdm_production_number, ticket_counter, total_ticket_counter,
			total_amount, signed_date, signed_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		receipt.ID, receipt.TerminalID, receipt.TicketNumber, receipt.EventLabel,
		receipt.PLUHash, receipt.ReceiptHash, receipt.ChainValue, receipt.Signature,
		receipt.VSCIdentification, receipt.FDMProductionNumber,
		receipt.TicketCounter, receipt.TotalTicketCounter,
		receipt.TotalAmount, receipt.SignedDate, receipt.SignedTime,
	)

	if err != nil {
		r.logger.Error("Failed to append receipt",
			zap.Error(err),
			zap.String("terminal_id", receipt.TerminalID),
			zap.Int("ticket_number", receipt.TicketNumber),
		)
		return fmt.Errorf("failed to append receipt: %w", err)
	}

	r.logger.Info("Receipt appended to journal",
		zap.String("terminal_id", receipt.TerminalID),
		zap.Int("ticket_number", receipt.TicketNumber),
	)
	return nil
}

// GetByTicketNumber retrieves one receipt of a terminal.
func (r *receiptRepository) GetByTicketNumber(ctx context.Context, terminalID string, ticketNumber int) (*model.FiscalReceipt, error) {
	query := selectReceiptColumns + ` WHERE terminal_id = $1 AND ticket_number = $2`

	receipt := &model.FiscalReceipt{}
	err := r.db.QueryRowContext(ctx, query, terminalID, ticketNumber).Scan(scanReceiptTargets(receipt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: receipt %d of terminal %s", ErrNotFound, ticketNumber, terminalID)
		}
		r.logger.Error("Failed to get receipt", zap.Error(err), zap.String("terminal_id", terminalID))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return receipt, nil
}

// List returns receipts matching the filter plus the total match count.
func (r *receiptRepository) List(ctx context.Context, filter *ReceiptFilter) ([]*model.FiscalReceipt, int, error) {
	conditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.TerminalID != nil {
		conditions = append(conditions, fmt.Sprintf("terminal_id = $%d", argIndex))
		args = append(args, *filter.TerminalID)
		argIndex++
	}
	if filter.EventLabel != nil {
		conditions = append(conditions, fmt.Sprintf("event_label = $%d", argIndex))
		args = append(args, *filter.EventLabel)
		argIndex++
	}
	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}
	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM fiscal_receipts` + whereClause
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count receipts: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	query := selectReceiptColumns + whereClause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list receipts", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := []*model.FiscalReceipt{}
	for rows.Next() {
		receipt := &model.FiscalReceipt{}
		if err := rows.Scan(scanReceiptTargets(receipt)...); err != nil {
			return nil, 0, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate receipts: %w", err)
	}

	return receipts, total, nil
}

// ListReceiptHashes returns the terminal's receipt hashes in signing
// order for chain replay.
func (r *receiptRepository) ListReceiptHashes(ctx context.Context, terminalID string) ([]string, error) {
	query := `
		SELECT receipt_hash FROM fiscal_receipts
		WHERE terminal_id = $1
		ORDER BY created_at ASC, ticket_number ASC
	`

	rows, err := r.db.QueryContext(ctx, query, terminalID)
	if err != nil {
		r.logger.Error("Failed to list receipt hashes", zap.Error(err), zap.String("terminal_id", terminalID))
		return nil, fmt.Errorf("failed to list receipt hashes: %w", err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan receipt hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt hashes: %w", err)
	}

	return hashes, nil
}

const selectReceiptColumns = `
	SELECT id, terminal_id, ticket_number, event_label, plu_hash,
	       receipt_hash, chain_value, signature, vsc_identification,
	       fdm_production_number, ticket_counter, total_ticket_counter,
	       total_amount, signed_date, signed_time, created_at
	FROM fiscal_receipts`

func scanReceiptTargets(receipt *model.FiscalReceipt) []interface{} {
	return []interface{}{
		&receipt.ID, &receipt.TerminalID, &receipt.TicketNumber, &receipt.EventLabel,
		&receipt.PLUHash, &receipt.ReceiptHash, &receipt.ChainValue, &receipt.Signature,
		&receipt.VSCIdentification, &receipt.FDMProductionNumber,
		&receipt.TicketCounter, &receipt.TotalTicketCounter,
		&receipt.TotalAmount, &receipt.SignedDate, &receipt.SignedTime, &receipt.CreatedAt,
	}
}
