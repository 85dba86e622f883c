// internal/service/fiscal_service.go
package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fdm-service/internal/config"
	"fdm-service/internal/fdm"
	"fdm-service/internal/model"
	"fdm-service/internal/repository"
	"fdm-service/internal/utils"
)

// ProtocolSession is the slice of the protocol session the service uses.
type ProtocolSession interface {
	Identify(ctx context.Context) (*fdm.IdentificationResponse, fdm.Outcome, error)
	VerifyPin(ctx context.Context, pin string) (*fdm.PinResponse, fdm.Outcome, error)
	HashAndSign(ctx context.Context, req *fdm.SignRequest) (*fdm.HashAndSignResponse, fdm.Outcome, error)
}

// EventPublisher pushes fiscal events to live subscribers.
type EventPublisher interface {
	PublishFiscalEvent(event model.FiscalEvent)
}

// ChainReport is the result of replaying a terminal's hash chain against
// its receipt journal.
type ChainReport struct {
	TerminalID   string `json:"terminal_id"`
	Receipts     int    `json:"receipts"`
	Intact       bool   `json:"intact"`
	ExpectedHead string `json:"expected_head"`
	ActualHead   string `json:"actual_head"`
}

var pinPattern = regexp.MustCompile(`^[0-9]{1,5}$`)

// FiscalService orchestrates receipt signing: pre-flight validation, the
// device exchange, and the strictly ordered persistence that follows a
// confirmed signature.
type FiscalService struct {
	session   ProtocolSession
	terminals repository.TerminalStateRepository
	receipts  repository.ReceiptRepository
	events    EventPublisher
	config    *config.Config
	logger    *utils.ServiceLogger
	audit     *utils.AuditLogger
	now       func() time.Time
}

// NewFiscalService creates a new fiscal service instance
func NewFiscalService(
	session ProtocolSession,
	terminals repository.TerminalStateRepository,
	receipts repository.ReceiptRepository,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *FiscalService {
	return &FiscalService{
		session:   session,
		terminals: terminals,
		receipts:  receipts,
		events:    events,
		config:    cfg,
		logger:    utils.NewServiceLogger(logger, "fiscal-service"),
		audit:     utils.NewAuditLogger(logger),
		now:       time.Now,
	}
}

// Identify probes the control module and reports its identity.
func (fs *FiscalService) Identify(ctx context.Context) (*fdm.IdentificationResponse, error) {
	opLogger := utils.NewOperationLogger(fs.logger.Logger, "identification", uuid.NewString())
	opLogger.Start()

	resp, outcome, err := fs.session.Identify(ctx)
	if err != nil {
		opLogger.Error(err)
		fs.publishEvent(model.EventFDMUnreachable, "ERROR", model.JSONObject{
			"error": err.Error(),
		})
		return nil, err
	}

	if outcome.Warning != fdm.WarningKindNone {
		fs.publishEvent(model.EventFDMWarning, "WARNING", model.JSONObject{
			"warning": string(outcome.Warning),
		})
	}

	opLogger.Success(
		zap.String("production_number", resp.ProductionNumber),
		zap.String("vsc_identification", resp.VSCIdentification),
	)
	fs.publishEvent(model.EventIdentified, "INFO", model.JSONObject{
		"production_number":  resp.ProductionNumber,
		"vsc_identification": resp.VSCIdentification,
		"firmware_version":   resp.FirmwareVersion,
	})
	return resp, nil
}

// VerifyPin forwards the operator's PIN to the signing card.
func (fs *FiscalService) VerifyPin(ctx context.Context, pin string) (*fdm.PinResponse, error) {
	if !pinPattern.MatchString(pin) {
		return nil, fdm.ErrInvalidPinFormat
	}

	resp, outcome, err := fs.session.VerifyPin(ctx, pin)
	accepted := err == nil && outcome.PinAccepted
	fs.audit.LogPinVerification(fs.config.FDM.TerminalID, accepted)

	if err != nil {
		return nil, err
	}

	if accepted {
		fs.publishEvent(model.EventPinAccepted, "INFO", model.JSONObject{
			"vsc_identification": resp.VSCIdentification,
		})
	}
	return resp, nil
}

// SignOrder runs the full signing flow for one order. On success the
// order's fiscal fields are filled in and the receipt is journaled; the
// chain head moves only after the module has confirmed the signature.
func (fs *FiscalService) SignOrder(ctx context.Context, order *model.Order) (*model.FiscalReceipt, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if order.IsSigned() {
		return nil, fmt.Errorf("order %s is already signed", order.ID)
	}
	if order.OperatorINSZ == "" {
		return nil, fdm.ErrMissingOperator
	}

	terminalID := fs.config.FDM.TerminalID
	opLogger := utils.NewOperationLogger(fs.logger.Logger, "hash_and_sign", order.ID.String())
	opLogger.Start(zap.String("terminal_id", terminalID))

	pluHash, err := fdm.PLUHash(order.Lines)
	if err != nil {
		opLogger.Error(err)
		return nil, err
	}

	if order.TicketNumber == 0 {
		ticket, err := fs.terminals.NextTicketNumber(ctx, terminalID)
		if err != nil {
			opLogger.Error(err)
			return nil, err
		}
		order.TicketNumber = ticket
	}

	signedAt := fs.now()
	signReq := &fdm.SignRequest{
		Date:            signedAt.Format("20060102"),
		Time:            signedAt.Format("150405"),
		OperatorINSZ:    order.OperatorINSZ,
		PosProductionID: fs.config.FDM.PosProductionID,
		TicketNumber:    order.TicketNumber,
		EventLabel:      order.EventLabel(),
		TotalWithTax:    order.TotalWithTax,
		TaxBuckets:      taxBuckets(order),
		PLUHash:         pluHash,
	}

	resp, outcome, err := fs.session.HashAndSign(ctx, signReq)
	if err != nil {
		opLogger.Error(err)
		fs.publishEvent(model.EventSignFailed, "ERROR", model.JSONObject{
			"order_id":      order.ID.String(),
			"ticket_number": order.TicketNumber,
			"error":         err.Error(),
		})
		return nil, err
	}

	if outcome.Warning == fdm.WarningKindAlreadyHandled {
		fs.logger.Warn("Control module already handled this request",
			zap.String("order_id", order.ID.String()),
			zap.Int("ticket_number", order.TicketNumber),
		)
	}

	// The module confirmed the signature. Everything below follows the
	// confirmed event in a fixed order: chain advance, journal append,
	// order fields.
	receiptHash := fdm.ReceiptHash(pluHash)

	previousHead, err := fs.terminals.ChainHead(ctx, terminalID)
	if err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("signature obtained but chain head unavailable: %w", err)
	}
	chainValue := fdm.NextChainValue(previousHead, receiptHash)
	if err := fs.terminals.UpdateChainHead(ctx, terminalID, chainValue); err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("signature obtained but chain head not persisted: %w", err)
	}

	receipt := &model.FiscalReceipt{
		ID:                  uuid.New(),
		TerminalID:          terminalID,
		TicketNumber:        order.TicketNumber,
		EventLabel:          signReq.EventLabel,
		PLUHash:             pluHash,
		ReceiptHash:         receiptHash,
		ChainValue:          chainValue,
		Signature:           resp.Signature,
		VSCIdentification:   resp.VSCIdentification,
		FDMProductionNumber: resp.ProductionNumber,
		TicketCounter:       resp.TicketCounter,
		TotalTicketCounter:  resp.TotalTicketCounter,
		TotalAmount:         order.TotalWithTax,
		SignedDate:          resp.Date,
		SignedTime:          resp.Time,
		CreatedAt:           signedAt,
	}
	if err := fs.receipts.Create(ctx, receipt); err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("signature obtained but receipt not journaled: %w", err)
	}

	order.Signature = resp.Signature
	order.PLUHash = pluHash
	order.ChainValue = chainValue
	order.VSCIdentification = resp.VSCIdentification
	order.FDMProductionNumber = resp.ProductionNumber
	order.TicketCounter = resp.TicketCounter
	order.TotalTicketCounter = resp.TotalTicketCounter

	fs.audit.LogSignedReceipt(terminalID, order.TicketNumber, receipt.EventLabel,
		pluHash, chainValue, resp.ProductionNumber)
	opLogger.Success(
		zap.Int("ticket_number", order.TicketNumber),
		zap.String("chain_value", chainValue),
	)
	fs.publishEvent(model.EventSignCompleted, "INFO", model.JSONObject{
		"order_id":      order.ID.String(),
		"ticket_number": order.TicketNumber,
		"event_label":   receipt.EventLabel,
		"receipt_hash":  receiptHash,
		"chain_value":   chainValue,
	})

	return receipt, nil
}

// VerifyChain replays the terminal's receipt journal from the genesis
// value and compares the result with the persisted chain head.
func (fs *FiscalService) VerifyChain(ctx context.Context, terminalID string) (*ChainReport, error) {
	hashes, err := fs.receipts.ListReceiptHashes(ctx, terminalID)
	if err != nil {
		return nil, err
	}

	actual, err := fs.terminals.ChainHead(ctx, terminalID)
	if err != nil {
		return nil, err
	}

	expected := fdm.RecomputeChain(hashes)
	report := &ChainReport{
		TerminalID:   terminalID,
		Receipts:     len(hashes),
		Intact:       expected == actual,
		ExpectedHead: expected,
		ActualHead:   actual,
	}

	fs.audit.LogChainVerification(terminalID, report.Receipts, report.Intact, expected, actual)
	return report, nil
}

// ListReceipts returns journaled receipts matching the filter.
func (fs *FiscalService) ListReceipts(ctx context.Context, filter *repository.ReceiptFilter) ([]*model.FiscalReceipt, int, error) {
	return fs.receipts.List(ctx, filter)
}

// GetReceipt returns one journaled receipt.
func (fs *FiscalService) GetReceipt(ctx context.Context, terminalID string, ticketNumber int) (*model.FiscalReceipt, error) {
	return fs.receipts.GetByTicketNumber(ctx, terminalID, ticketNumber)
}

// ConfiguredTerminalID returns the terminal this instance serves.
func (fs *FiscalService) ConfiguredTerminalID() string {
	return fs.config.FDM.TerminalID
}

// TerminalState returns the terminal's durable protocol state.
func (fs *FiscalService) TerminalState(ctx context.Context, terminalID string) (*model.TerminalState, error) {
	return fs.terminals.Get(ctx, terminalID)
}

// taxBuckets assembles the four per-bracket totals in wire order.
func taxBuckets(order *model.Order) []fdm.TaxBucket {
	buckets := make([]fdm.TaxBucket, 0, len(model.TaxLetters))
	for _, letter := range model.TaxLetters {
		buckets = append(buckets, fdm.TaxBucket{
			Percentage: letter.TaxPercentage(),
			Amount:     order.TaxTotal(letter),
		})
	}
	return buckets
}

func (fs *FiscalService) publishEvent(eventType model.EventType, severity string, data model.JSONObject) {
	if fs.events == nil {
		return
	}
	fs.events.PublishFiscalEvent(model.FiscalEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		TerminalID: fs.config.FDM.TerminalID,
		Data:       data,
		Timestamp:  fs.now(),
		Severity:   severity,
	})
}

// SequenceSource adapts the terminal state repository to the protocol
// session's sequence interface for one terminal.
type SequenceSource struct {
	terminals  repository.TerminalStateRepository
	terminalID string
}

// NewSequenceSource creates a sequence source bound to a terminal.
func NewSequenceSource(terminals repository.TerminalStateRepository, terminalID string) *SequenceSource {
	return &SequenceSource{terminals: terminals, terminalID: terminalID}
}

// NextSequence implements fdm.SequenceSource.
func (s *SequenceSource) NextSequence(ctx context.Context) (int, error) {
	return s.terminals.NextSequenceNumber(ctx, s.terminalID)
}
