// internal/fdm/codec_test.go
package fdm

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBuildIdentificationRequest(t *testing.T) {
	tests := []struct {
		name     string
		sequence int
		retry    int
		want     string
	}{
		{"single digit sequence zero padded", 3, 0, "I030"},
		{"two digit sequence", 42, 0, "I420"},
		{"sequence wraps at one hundred", 107, 0, "I070"},
		{"retry counter wraps at ten", 5, 12, "I052"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, err := BuildIdentificationRequest(tt.sequence, tt.retry)
			if err != nil {
				t.Fatalf("BuildIdentificationRequest() error = %v", err)
			}
			if got := packet.Serialize(); got != tt.want {
				t.Errorf("Serialize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPinRequest(t *testing.T) {
	packet, err := BuildPinRequest(7, 0, "123")
	if err != nil {
		t.Fatalf("BuildPinRequest() error = %v", err)
	}
	if got := packet.Serialize(); got != "P07000123" {
		t.Errorf("Serialize() = %q, want %q", got, "P07000123")
	}

	if _, err := BuildPinRequest(7, 0, "123456"); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("six digit pin: error = %v, want ErrContentTooLong", err)
	}
}

func TestBuildHashAndSignRequest(t *testing.T) {
	req := &SignRequest{
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
		PLUHash: "83b026029c1d64feea8705f23c0b04d6e0aee0ec",
	}

	packet, err := BuildHashAndSignRequest(42, 0, req)
	if err != nil {
		t.Fatalf("BuildHashAndSignRequest() error = %v", err)
	}

	want := "H420" +
		"20260901" +
		"123000" +
		"86081441359" +
		"POS0001234567A" +
		"    45" +
		"NS" +
		"      12550" +
		"2100" + "       2178" +
		"1200" + "        000" +
		"0600" + "        180" +
		"0000" + "        000" +
		"83b026029c1d64feea8705f23c0b04d6e0aee0ec"

	got := packet.Serialize()
	if got != want {
		t.Errorf("Serialize() =\n%q\nwant\n%q", got, want)
	}
	if len(got) != 162 {
		t.Errorf("request length = %d, want 162", len(got))
	}
}

func TestParseIdentificationResponse(t *testing.T) {
	raw := "I420000000FDM00012345FDMFW-1.2.3         1VSC12345678AB1001"

	resp, err := ParseIdentificationResponse(raw)
	if err != nil {
		t.Fatalf("ParseIdentificationResponse() error = %v", err)
	}

	if resp.Identifier != "I" {
		t.Errorf("Identifier = %q", resp.Identifier)
	}
	if resp.SequenceNumber != 42 {
		t.Errorf("SequenceNumber = %d, want 42", resp.SequenceNumber)
	}
	if resp.Error1 != 0 || resp.Error2 != 0 || resp.Error3 != 0 {
		t.Errorf("errors = %d/%d/%d, want 0/0/0", resp.Error1, resp.Error2, resp.Error3)
	}
	if resp.ProductionNumber != "FDM00012345" {
		t.Errorf("ProductionNumber = %q", resp.ProductionNumber)
	}
	if resp.FirmwareVersion != "FDMFW-1.2.3         " {
		t.Errorf("FirmwareVersion = %q", resp.FirmwareVersion)
	}
	if resp.ProtocolVersion != "1" {
		t.Errorf("ProtocolVersion = %q", resp.ProtocolVersion)
	}
	if resp.VSCIdentification != "VSC12345678AB1" {
		t.Errorf("VSCIdentification = %q", resp.VSCIdentification)
	}
	if resp.VSCVersion != "001" {
		t.Errorf("VSCVersion = %q", resp.VSCVersion)
	}
}

func TestParsePinResponse(t *testing.T) {
	raw := "P430001000FDM00012345VSC12345678AB1"

	resp, err := ParsePinResponse(raw)
	if err != nil {
		t.Fatalf("ParsePinResponse() error = %v", err)
	}
	if resp.SequenceNumber != 43 {
		t.Errorf("SequenceNumber = %d, want 43", resp.SequenceNumber)
	}
	if resp.Error1 != 0 || resp.Error2 != 1 {
		t.Errorf("errors = %d/%d, want 0/1", resp.Error1, resp.Error2)
	}
	if resp.VSCIdentification != "VSC12345678AB1" {
		t.Errorf("VSCIdentification = %q", resp.VSCIdentification)
	}
}

func TestParseHashAndSignResponse(t *testing.T) {
	signature := strings.Repeat("a", 40)
	raw := "H440000000FDM00012345VSC12345678AB120260901123001NS" +
		"000000123" + "000004567" + signature

	resp, err := ParseHashAndSignResponse(raw)
	if err != nil {
		t.Fatalf("ParseHashAndSignResponse() error = %v", err)
	}
	if resp.SequenceNumber != 44 {
		t.Errorf("SequenceNumber = %d, want 44", resp.SequenceNumber)
	}
	if resp.Date != "20260901" || resp.Time != "123001" {
		t.Errorf("timestamp = %q %q", resp.Date, resp.Time)
	}
	if resp.EventLabel != "NS" {
		t.Errorf("EventLabel = %q", resp.EventLabel)
	}
	if resp.TicketCounter != "000000123" {
		t.Errorf("TicketCounter = %q", resp.TicketCounter)
	}
	if resp.TotalTicketCounter != "000004567" {
		t.Errorf("TotalTicketCounter = %q", resp.TotalTicketCounter)
	}
	if resp.Signature != signature {
		t.Errorf("Signature = %q", resp.Signature)
	}
}

func TestParseShortResponse(t *testing.T) {
	if _, err := ParseIdentificationResponse("I420"); !errors.Is(err, ErrShortResponse) {
		t.Errorf("short identification: error = %v, want ErrShortResponse", err)
	}
	if _, err := ParsePinResponse(""); !errors.Is(err, ErrShortResponse) {
		t.Errorf("empty pin response: error = %v, want ErrShortResponse", err)
	}
	if _, err := ParseHashAndSignResponse("H440000000"); !errors.Is(err, ErrShortResponse) {
		t.Errorf("short hash-and-sign: error = %v, want ErrShortResponse", err)
	}
}
