// internal/fdm/codec.go
package fdm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Request type identifiers, first character of every request.
const (
	RequestIdentification  = "I"
	RequestPinVerification = "P"
	RequestHashAndSign     = "H"
)

// Fixed response lengths per request type, including the 21-character
// common header shared by every response.
const (
	commonHeaderLength = 21

	IdentificationResponseLength = 59
	PinResponseLength            = 35
	HashAndSignResponseLength    = 109
)

// SignRequest carries the protocol-level inputs of a hash-and-sign request.
// The service layer assembles it from an order; the codec only packs it.
type SignRequest struct {
	Date            string // YYYYMMDD
	Time            string // HHmmss
	OperatorINSZ    string
	PosProductionID string
	TicketNumber    int
	EventLabel      string // "NS" or "PS"
	TotalWithTax    decimal.Decimal
	TaxBuckets      []TaxBucket // exactly four, wire order A-D
	PLUHash         string      // 40 hex chars
}

// TaxBucket is one of the four per-bracket totals embedded in the request.
type TaxBucket struct {
	Percentage int // scaled by 100: 21% -> 2100
	Amount     decimal.Decimal
}

// BuildIdentificationRequest packs an identification probe.
func BuildIdentificationRequest(sequence, retry int) (*Packet, error) {
	b := newPacketBuilder()
	addRequestHeader(b, RequestIdentification, sequence, retry)
	return b.build()
}

// BuildPinRequest packs a PIN verification request.
func BuildPinRequest(sequence, retry int, pin string) (*Packet, error) {
	b := newPacketBuilder()
	addRequestHeader(b, RequestPinVerification, sequence, retry)
	b.add("pin_code", 5, pin, "0")
	return b.build()
}

// BuildHashAndSignRequest packs a hash-and-sign request. Field order is
// protocol-mandated and must not change.
func BuildHashAndSignRequest(sequence, retry int, req *SignRequest) (*Packet, error) {
	b := newPacketBuilder()
	addRequestHeader(b, RequestHashAndSign, sequence, retry)
	b.add("date", 8, req.Date, "")
	b.add("ticket_time", 6, req.Time, "")
	b.add("insz_or_bis_number", 11, req.OperatorINSZ, "")
	b.add("production_number_pos", 14, req.PosProductionID, "")
	b.add("ticket_number", 6, strconv.Itoa(req.TicketNumber), " ")
	b.add("event_label", 2, req.EventLabel, "")
	b.add("total_amount", 11, protocolAmount(req.TotalWithTax), " ")
	for i, bucket := range req.TaxBuckets {
		b.add(fmt.Sprintf("tax_percentage_%d", i+1), 4, fmt.Sprintf("%04d", bucket.Percentage), "")
		b.add(fmt.Sprintf("tax_amount_%d", i+1), 11, protocolAmount(bucket.Amount), " ")
	}
	b.add("plu_hash", 40, req.PLUHash, "")
	return b.build()
}

func addRequestHeader(b *packetBuilder, id string, sequence, retry int) {
	b.add("identifier", 1, id, "")
	b.add("sequence_number", 2, strconv.Itoa(sequence%100), "0")
	b.add("retry_counter", 1, strconv.Itoa(retry%10), "")
}

// protocolAmount renders a monetary value in eurocents, zero-padded to a
// minimum of three characters. Unlike PLU numbers these are never
// truncated: the enclosing field is space-padded to its fixed width.
func protocolAmount(v decimal.Decimal) string {
	cents := v.Mul(centsFactor).Round(0)
	digits := cents.Abs().String()
	for len(digits) < 3 {
		digits = "0" + digits
	}
	if cents.IsNegative() {
		digits = "-" + digits
	}
	return digits
}

// ResponseHeader is the 21-character prefix shared by every response type.
type ResponseHeader struct {
	Identifier       string
	SequenceNumber   int
	RetryCounter     int
	Error1           int
	Error2           int
	Error3           int
	ProductionNumber string
}

// IdentificationResponse is the parsed identification reply.
type IdentificationResponse struct {
	ResponseHeader
	FirmwareVersion   string
	ProtocolVersion   string
	VSCIdentification string
	VSCVersion        string
}

// PinResponse is the parsed PIN verification reply.
type PinResponse struct {
	ResponseHeader
	VSCIdentification string
}

// HashAndSignResponse is the parsed hash-and-sign reply carrying the
// signature and the device-side ticket counters.
type HashAndSignResponse struct {
	ResponseHeader
	VSCIdentification  string
	Date               string
	Time               string
	EventLabel         string
	TicketCounter      string
	TotalTicketCounter string
	Signature          string
}

// ParseIdentificationResponse extracts the identification reply fields
// from their fixed offsets.
func ParseIdentificationResponse(raw string) (*IdentificationResponse, error) {
	r := newFieldReader(raw, IdentificationResponseLength)
	resp := &IdentificationResponse{}
	if err := r.readHeader(&resp.ResponseHeader); err != nil {
		return nil, err
	}
	resp.FirmwareVersion = r.read(20)
	resp.ProtocolVersion = r.read(1)
	resp.VSCIdentification = r.read(14)
	resp.VSCVersion = r.read(3)
	return resp, r.err
}

// ParsePinResponse extracts the PIN verification reply fields.
func ParsePinResponse(raw string) (*PinResponse, error) {
	r := newFieldReader(raw, PinResponseLength)
	resp := &PinResponse{}
	if err := r.readHeader(&resp.ResponseHeader); err != nil {
		return nil, err
	}
	resp.VSCIdentification = r.read(14)
	return resp, r.err
}

// ParseHashAndSignResponse extracts the hash-and-sign reply fields.
func ParseHashAndSignResponse(raw string) (*HashAndSignResponse, error) {
	r := newFieldReader(raw, HashAndSignResponseLength)
	resp := &HashAndSignResponse{}
	if err := r.readHeader(&resp.ResponseHeader); err != nil {
		return nil, err
	}
	resp.VSCIdentification = r.read(14)
	resp.Date = r.read(8)
	resp.Time = r.read(6)
	resp.EventLabel = r.read(2)
	resp.TicketCounter = r.read(9)
	resp.TotalTicketCounter = r.read(9)
	resp.Signature = r.read(40)
	return resp, r.err
}

// fieldReader walks a raw response string in fixed-width steps.
type fieldReader struct {
	raw string
	pos int
	err error
}

func newFieldReader(raw string, minLength int) *fieldReader {
	r := &fieldReader{raw: raw}
	if len(raw) < minLength {
		r.err = fmt.Errorf("%w: got %d characters, layout needs %d", ErrShortResponse, len(raw), minLength)
	}
	return r
}

func (r *fieldReader) read(n int) string {
	if r.err != nil {
		return ""
	}
	if r.pos+n > len(r.raw) {
		r.err = fmt.Errorf("%w: field at offset %d overruns response of %d", ErrShortResponse, r.pos, len(r.raw))
		return ""
	}
	value := r.raw[r.pos : r.pos+n]
	r.pos += n
	return value
}

func (r *fieldReader) readInt(n int) int {
	value := strings.TrimSpace(r.read(n))
	if r.err != nil {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.err = fmt.Errorf("fdm: numeric field at offset %d: %w", r.pos-n, err)
		return 0
	}
	return parsed
}

func (r *fieldReader) readHeader(h *ResponseHeader) error {
	h.Identifier = r.read(1)
	h.SequenceNumber = r.readInt(2)
	h.RetryCounter = r.readInt(1)
	h.Error1 = r.readInt(1)
	h.Error2 = r.readInt(2)
	h.Error3 = r.readInt(3)
	h.ProductionNumber = r.read(11)
	return r.err
}
