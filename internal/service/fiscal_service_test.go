// internal/service/fiscal_service_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fdm-service/internal/config"
	"fdm-service/internal/fdm"
	"fdm-service/internal/model"
	"fdm-service/internal/repository"
)

const (
	testTerminalID      = "POS-01"
	testPosProductionID = "POS0001234567A"
)

type fakeSession struct {
	identifyResp *fdm.IdentificationResponse
	pinResp      *fdm.PinResponse
	signResp     *fdm.HashAndSignResponse
	outcome      fdm.Outcome
	err          error

	signRequests []*fdm.SignRequest
}

func (f *fakeSession) Identify(ctx context.Context) (*fdm.IdentificationResponse, fdm.Outcome, error) {
	return f.identifyResp, f.outcome, f.err
}

func (f *fakeSession) VerifyPin(ctx context.Context, pin string) (*fdm.PinResponse, fdm.Outcome, error) {
	return f.pinResp, f.outcome, f.err
}

func (f *fakeSession) HashAndSign(ctx context.Context, req *fdm.SignRequest) (*fdm.HashAndSignResponse, fdm.Outcome, error) {
	f.signRequests = append(f.signRequests, req)
	return f.signResp, f.outcome, f.err
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []model.FiscalEvent
}

func (p *recordingPublisher) PublishFiscalEvent(event model.FiscalEvent) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) byType(eventType model.EventType) []model.FiscalEvent {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var matched []model.FiscalEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func testConfig() *config.Config {
	return &config.Config{
		FDM: config.FDMConfig{
			TerminalID:      testTerminalID,
			PosProductionID: testPosProductionID,
		},
	}
}

func signedResponse() *fdm.HashAndSignResponse {
	return &fdm.HashAndSignResponse{
		ResponseHeader: fdm.ResponseHeader{
			Identifier:       "H",
			SequenceNumber:   1,
			ProductionNumber: "FDM00012345",
		},
		VSCIdentification:  "VSC12345678AB1",
		Date:               "20260901",
		Time:               "123000",
		EventLabel:         "NS",
		TicketCounter:      "000042",
		TotalTicketCounter: "000142",
		Signature:          "4E8F21A6C35BDD0479E2F1B86301AA57C44D90E2",
	}
}

func testOrder() *model.Order {
	return &model.Order{
		ID:         uuid.New(),
		TerminalID: testTerminalID,
		Lines: []model.OrderLine{
			{
				ProductName:  "Cola",
				Quantity:     decimal.NewFromInt(2),
				Unit:         model.UnitPiece,
				DisplayPrice: decimal.NewFromFloat(2.50),
				TaxLetter:    model.TaxLetterA,
			},
		},
		TaxTotals: map[model.TaxLetter]decimal.Decimal{
			model.TaxLetterA: decimal.NewFromFloat(4.13),
		},
		TotalWithTax: decimal.NewFromFloat(5.00),
		OperatorINSZ: "86081441359",
	}
}

func newTestService(session ProtocolSession) (*FiscalService, *repository.MemoryTerminalStateRepository, *repository.MemoryReceiptRepository, *recordingPublisher) {
	terminals := repository.NewMemoryTerminalStateRepository()
	receipts := repository.NewMemoryReceiptRepository()
	events := &recordingPublisher{}
	fs := NewFiscalService(session, terminals, receipts, events, testConfig(), zap.NewNop())
	fs.now = func() time.Time {
		return time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC)
	}
	return fs, terminals, receipts, events
}

func TestSignOrderSuccess(t *testing.T) {
	session := &fakeSession{
		signResp: signedResponse(),
		outcome:  fdm.Outcome{Success: true},
	}
	fs, terminals, _, events := newTestService(session)

	order := testOrder()
	receipt, err := fs.SignOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("SignOrder() error = %v", err)
	}

	if order.TicketNumber != 1 {
		t.Errorf("ticket number = %d, want 1 (allocated from counter)", order.TicketNumber)
	}
	if len(session.signRequests) != 1 {
		t.Fatalf("session received %d sign requests, want 1", len(session.signRequests))
	}

	req := session.signRequests[0]
	if req.Date != "20260901" || req.Time != "123000" {
		t.Errorf("request timestamp = %s %s, want 20260901 123000", req.Date, req.Time)
	}
	if req.PosProductionID != testPosProductionID {
		t.Errorf("pos production id = %q", req.PosProductionID)
	}
	if len(req.TaxBuckets) != 4 {
		t.Fatalf("got %d tax buckets, want 4", len(req.TaxBuckets))
	}
	if req.TaxBuckets[0].Percentage != 2100 || !req.TaxBuckets[0].Amount.Equal(decimal.NewFromFloat(4.13)) {
		t.Errorf("bucket A = %d/%s", req.TaxBuckets[0].Percentage, req.TaxBuckets[0].Amount)
	}
	if !req.TaxBuckets[3].Amount.IsZero() {
		t.Errorf("bucket D amount = %s, want 0", req.TaxBuckets[3].Amount)
	}

	wantPLUHash, err := fdm.PLUHash(order.Lines)
	if err != nil {
		t.Fatalf("PLUHash() error = %v", err)
	}
	if receipt.PLUHash != wantPLUHash {
		t.Errorf("receipt PLU hash = %s, want %s", receipt.PLUHash, wantPLUHash)
	}

	wantChain := fdm.NextChainValue(fdm.GenesisChainValue, fdm.ReceiptHash(wantPLUHash))
	head, err := terminals.ChainHead(context.Background(), testTerminalID)
	if err != nil {
		t.Fatalf("ChainHead() error = %v", err)
	}
	if head != wantChain {
		t.Errorf("chain head = %s, want %s", head, wantChain)
	}
	if order.ChainValue != wantChain {
		t.Errorf("order chain value = %s, want %s", order.ChainValue, wantChain)
	}
	if order.Signature != session.signResp.Signature {
		t.Errorf("order signature = %q", order.Signature)
	}
	if order.TicketCounter != "000042" || order.TotalTicketCounter != "000142" {
		t.Errorf("ticket counters = %s/%s", order.TicketCounter, order.TotalTicketCounter)
	}

	if got := events.byType(model.EventSignCompleted); len(got) != 1 {
		t.Errorf("got %d SIGN_COMPLETED events, want 1", len(got))
	}
}

func TestSignOrderKeepsExplicitTicketNumber(t *testing.T) {
	session := &fakeSession{signResp: signedResponse(), outcome: fdm.Outcome{Success: true}}
	fs, _, _, _ := newTestService(session)

	order := testOrder()
	order.TicketNumber = 4711

	if _, err := fs.SignOrder(context.Background(), order); err != nil {
		t.Fatalf("SignOrder() error = %v", err)
	}
	if order.TicketNumber != 4711 {
		t.Errorf("ticket number = %d, want 4711 unchanged", order.TicketNumber)
	}
}

func TestSignOrderMissingOperator(t *testing.T) {
	session := &fakeSession{signResp: signedResponse(), outcome: fdm.Outcome{Success: true}}
	fs, _, _, _ := newTestService(session)

	order := testOrder()
	order.OperatorINSZ = ""

	_, err := fs.SignOrder(context.Background(), order)
	if !errors.Is(err, fdm.ErrMissingOperator) {
		t.Fatalf("SignOrder() error = %v, want ErrMissingOperator", err)
	}
	if len(session.signRequests) != 0 {
		t.Errorf("session received %d requests, want 0", len(session.signRequests))
	}
}

func TestSignOrderAlreadySigned(t *testing.T) {
	session := &fakeSession{signResp: signedResponse(), outcome: fdm.Outcome{Success: true}}
	fs, _, _, _ := newTestService(session)

	order := testOrder()
	order.Signature = "DEADBEEF"

	if _, err := fs.SignOrder(context.Background(), order); err == nil {
		t.Fatal("SignOrder() accepted an already signed order")
	}
	if len(session.signRequests) != 0 {
		t.Errorf("session received %d requests, want 0", len(session.signRequests))
	}
}

func TestSignOrderFailureLeavesChainUntouched(t *testing.T) {
	session := &fakeSession{
		err: &fdm.ProtocolError{Kind: fdm.ErrorKindNotOperational},
	}
	fs, terminals, receipts, events := newTestService(session)

	order := testOrder()
	_, err := fs.SignOrder(context.Background(), order)
	if err == nil {
		t.Fatal("SignOrder() succeeded despite device error")
	}

	head, _ := terminals.ChainHead(context.Background(), testTerminalID)
	if head != fdm.GenesisChainValue {
		t.Errorf("chain head = %s, want genesis after failed signing", head)
	}
	terminalID := testTerminalID
	if _, total, _ := receipts.List(context.Background(), &repository.ReceiptFilter{TerminalID: &terminalID}); total != 0 {
		t.Errorf("journal holds %d receipts, want 0", total)
	}
	if order.IsSigned() {
		t.Error("order carries a signature after failed signing")
	}
	if got := events.byType(model.EventSignFailed); len(got) != 1 {
		t.Errorf("got %d SIGN_FAILED events, want 1", len(got))
	}
}

func TestVerifyChain(t *testing.T) {
	session := &fakeSession{signResp: signedResponse(), outcome: fdm.Outcome{Success: true}}
	fs, terminals, _, _ := newTestService(session)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fs.SignOrder(ctx, testOrder()); err != nil {
			t.Fatalf("SignOrder() #%d error = %v", i+1, err)
		}
	}

	report, err := fs.VerifyChain(ctx, testTerminalID)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if !report.Intact {
		t.Errorf("chain reported broken: expected %s actual %s", report.ExpectedHead, report.ActualHead)
	}
	if report.Receipts != 3 {
		t.Errorf("report counts %d receipts, want 3", report.Receipts)
	}

	// Corrupt the stored head; the replay must notice.
	if err := terminals.UpdateChainHead(ctx, testTerminalID, "ffffffff"); err != nil {
		t.Fatalf("UpdateChainHead() error = %v", err)
	}
	report, err = fs.VerifyChain(ctx, testTerminalID)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if report.Intact {
		t.Error("chain reported intact after head corruption")
	}
}

func TestVerifyPinValidation(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		wantErr bool
	}{
		{"five digits", "12345", false},
		{"single digit", "7", false},
		{"empty", "", true},
		{"too long", "123456", true},
		{"letters", "12a45", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{
				pinResp: &fdm.PinResponse{VSCIdentification: "VSC12345678AB1"},
				outcome: fdm.Outcome{Success: true, PinAccepted: true},
			}
			fs, _, _, _ := newTestService(session)

			_, err := fs.VerifyPin(context.Background(), tt.pin)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyPin(%q) error = %v, wantErr %v", tt.pin, err, tt.wantErr)
			}
		})
	}
}

func TestIdentifyPublishesEvent(t *testing.T) {
	session := &fakeSession{
		identifyResp: &fdm.IdentificationResponse{
			ResponseHeader:    fdm.ResponseHeader{ProductionNumber: "FDM00012345"},
			FirmwareVersion:   "FDMFW-1.2.3",
			VSCIdentification: "VSC12345678AB1",
		},
		outcome: fdm.Outcome{Success: true},
	}
	fs, _, _, events := newTestService(session)

	resp, err := fs.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if resp.ProductionNumber != "FDM00012345" {
		t.Errorf("production number = %q", resp.ProductionNumber)
	}
	if got := events.byType(model.EventIdentified); len(got) != 1 {
		t.Errorf("got %d FDM_IDENTIFIED events, want 1", len(got))
	}
}

func TestIdentifyUnreachable(t *testing.T) {
	session := &fakeSession{err: fdm.ErrNoConnection}
	fs, _, _, events := newTestService(session)

	if _, err := fs.Identify(context.Background()); !errors.Is(err, fdm.ErrNoConnection) {
		t.Fatalf("Identify() error = %v, want ErrNoConnection", err)
	}
	if got := events.byType(model.EventFDMUnreachable); len(got) != 1 {
		t.Errorf("got %d FDM_UNREACHABLE events, want 1", len(got))
	}
}

func TestSequenceSourceWraps(t *testing.T) {
	terminals := repository.NewMemoryTerminalStateRepository()
	source := NewSequenceSource(terminals, testTerminalID)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := source.NextSequence(ctx)
		if err != nil {
			t.Fatalf("NextSequence() error = %v", err)
		}
		if got != want {
			t.Errorf("NextSequence() = %d, want %d", got, want)
		}
	}
}
