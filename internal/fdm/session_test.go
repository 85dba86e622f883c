// internal/fdm/session_test.go
package fdm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fdm-service/internal/transport"
)

// scriptedExchanger replays a fixed sequence of responses and records
// every payload it was handed.
type scriptedExchanger struct {
	responses []scriptedResponse
	payloads  []string
}

type scriptedResponse struct {
	value string
	err   error
}

func (s *scriptedExchanger) Exchange(ctx context.Context, req transport.Request) (string, error) {
	s.payloads = append(s.payloads, req.Payload)
	if len(s.responses) == 0 {
		return "", transport.ErrNoResponse
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.value, next.err
}

// countingSequence hands out 1, 2, 3, ...
type countingSequence struct {
	next int
}

func (c *countingSequence) NextSequence(ctx context.Context) (int, error) {
	c.next++
	return c.next, nil
}

func signResponse(seq string, err1 string, err2 string) string {
	return "H" + seq + "0" + err1 + err2 + "000" +
		"FDM00012345" +
		"VSC12345678AB1" +
		"20260901" + "123001" + "NS" +
		"000000123" + "000004567" +
		strings.Repeat("a", 40)
}

func identResponse(seq string, err1 string, err2 string) string {
	return "I" + seq + "0" + err1 + err2 + "000" +
		"FDM00012345" +
		"FDMFW-1.2.3         " + "1" + "VSC12345678AB1" + "001"
}

func pinResponse(seq string, err1 string, err2 string) string {
	return "P" + seq + "0" + err1 + err2 + "000" +
		"FDM00012345" + "VSC12345678AB1"
}

func testSignRequest() *SignRequest {
	return &SignRequest{
		Date:            "20260901",
		Time:            "123000",
		OperatorINSZ:    "86081441359",
		PosProductionID: "POS0001234567A",
		TicketNumber:    45,
		EventLabel:      "NS",
		TotalWithTax:    decimal.NewFromFloat(125.50),
		TaxBuckets: []TaxBucket{
			{Percentage: 2100, Amount: decimal.NewFromFloat(21.78)},
			{Percentage: 1200, Amount: decimal.Zero},
			{Percentage: 600, Amount: decimal.NewFromFloat(1.80)},
			{Percentage: 0, Amount: decimal.Zero},
		},
		PLUHash: strings.Repeat("0", 40),
	}
}

func TestHashAndSignRetriesUntilResponse(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{err: transport.ErrNoResponse},
			{err: transport.ErrNoResponse},
			{value: signResponse("03", "0", "00")},
		},
	}

	notices := 0
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{
		RetryDelay:    time.Millisecond,
		OnUnreachable: func(attempt int) { notices++ },
	}, zap.NewNop())

	resp, outcome, err := session.HashAndSign(context.Background(), testSignRequest())
	if err != nil {
		t.Fatalf("HashAndSign() error = %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
	if resp.Signature != strings.Repeat("a", 40) {
		t.Errorf("Signature = %q", resp.Signature)
	}

	if len(exchanger.payloads) != 3 {
		t.Fatalf("exchange count = %d, want 3", len(exchanger.payloads))
	}
	if notices != 1 {
		t.Errorf("unreachable notices = %d, want 1", notices)
	}

	// Each attempt is a fresh request: new sequence number, bumped
	// retry counter.
	for i, wantPrefix := range []string{"H010", "H021", "H032"} {
		if got := exchanger.payloads[i][:4]; got != wantPrefix {
			t.Errorf("attempt %d prefix = %q, want %q", i+1, got, wantPrefix)
		}
	}
}

func TestHashAndSignDiscardsUncorrelatedResponses(t *testing.T) {
	// A reply buffered for an earlier request must not be consumed as
	// the answer to the current one: first a reply with a foreign
	// identifier, then one with a foreign sequence number. Both are
	// discarded and the request is re-sent.
	foreignIdentifier := "I" + signResponse("99", "0", "00")[1:]
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: foreignIdentifier},
			{value: signResponse("07", "0", "00")},
			{value: signResponse("03", "0", "00")},
		},
	}

	notices := 0
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{
		RetryDelay:    time.Millisecond,
		OnUnreachable: func(attempt int) { notices++ },
	}, zap.NewNop())

	resp, outcome, err := session.HashAndSign(context.Background(), testSignRequest())
	if err != nil {
		t.Fatalf("HashAndSign() error = %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
	if resp.SequenceNumber != 3 {
		t.Errorf("SequenceNumber = %d, want 3: only the correlated reply counts", resp.SequenceNumber)
	}
	if len(exchanger.payloads) != 3 {
		t.Fatalf("exchange count = %d, want 3", len(exchanger.payloads))
	}
	if notices != 0 {
		t.Errorf("unreachable notices = %d, want 0: a stale reply is not an outage", notices)
	}
}

func TestIdentifyRejectsUncorrelatedResponse(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: identResponse("42", "0", "00")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, _, err := session.Identify(context.Background())
	if !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("Identify() error = %v, want ErrStaleResponse", err)
	}
}

func TestVerifyPinRejectsUncorrelatedResponse(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: pinResponse("42", "0", "01")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, _, err := session.VerifyPin(context.Background(), "123")
	if !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("VerifyPin() error = %v, want ErrStaleResponse", err)
	}
}

func TestHashAndSignMissingOperator(t *testing.T) {
	exchanger := &scriptedExchanger{}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{RetryDelay: time.Millisecond}, zap.NewNop())

	req := testSignRequest()
	req.OperatorINSZ = ""

	_, _, err := session.HashAndSign(context.Background(), req)
	if !errors.Is(err, ErrMissingOperator) {
		t.Fatalf("HashAndSign() error = %v, want ErrMissingOperator", err)
	}
	if len(exchanger.payloads) != 0 {
		t.Errorf("exchange count = %d, want 0: device must not be contacted", len(exchanger.payloads))
	}
}

func TestHashAndSignFatalError(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: signResponse("01", "2", "08")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{RetryDelay: time.Millisecond}, zap.NewNop())

	_, outcome, err := session.HashAndSign(context.Background(), testSignRequest())
	if err == nil {
		t.Fatal("HashAndSign() error = nil, want protocol error")
	}

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("HashAndSign() error = %T, want *ProtocolError", err)
	}
	if perr.Kind != ErrorKindNotOperational {
		t.Errorf("Kind = %q, want %q", perr.Kind, ErrorKindNotOperational)
	}
	if outcome.Success {
		t.Errorf("outcome = %+v, want failure", outcome)
	}
	if len(exchanger.payloads) != 1 {
		t.Errorf("exchange count = %d, want 1: fatal errors must not retry", len(exchanger.payloads))
	}
}

func TestHashAndSignCancellation(t *testing.T) {
	exchanger := &scriptedExchanger{} // always silent
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{
		RetryDelay: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := session.HashAndSign(ctx, testSignRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("HashAndSign() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestIdentify(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: identResponse("01", "0", "00")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	resp, outcome, err := session.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
	if resp.VSCIdentification != "VSC12345678AB1" {
		t.Errorf("VSCIdentification = %q", resp.VSCIdentification)
	}
	if got := exchanger.payloads[0]; got != "I010" {
		t.Errorf("payload = %q, want %q", got, "I010")
	}
}

func TestIdentifyIgnoresNonCriticalConditions(t *testing.T) {
	// A missing signing card must not block identification.
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: identResponse("01", "2", "01")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, outcome, err := session.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success despite missing card", outcome)
	}
}

func TestIdentifyNoResponse(t *testing.T) {
	session := NewSession(&scriptedExchanger{}, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, _, err := session.Identify(context.Background())
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("Identify() error = %v, want ErrNoConnection", err)
	}
}

func TestVerifyPin(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: pinResponse("01", "0", "01")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, outcome, err := session.VerifyPin(context.Background(), "123")
	if err != nil {
		t.Fatalf("VerifyPin() error = %v", err)
	}
	if !outcome.PinAccepted {
		t.Errorf("outcome = %+v, want pin accepted", outcome)
	}
	if got := exchanger.payloads[0]; got != "P01000123" {
		t.Errorf("payload = %q, want %q", got, "P01000123")
	}
}

func TestVerifyPinRejected(t *testing.T) {
	exchanger := &scriptedExchanger{
		responses: []scriptedResponse{
			{value: pinResponse("01", "4", "02")},
		},
	}
	session := NewSession(exchanger, &countingSequence{}, SessionConfig{}, zap.NewNop())

	_, outcome, err := session.VerifyPin(context.Background(), "999")

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("VerifyPin() error = %T (%v), want *ProtocolError", err, err)
	}
	if perr.Kind != ErrorKindInvalidPin || !perr.RequiresPinEntry {
		t.Errorf("ProtocolError = %+v, want invalid pin requiring re-entry", perr)
	}
	if outcome.Success {
		t.Errorf("outcome = %+v, want failure", outcome)
	}
}
