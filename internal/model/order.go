// internal/model/order.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxLetter identifies one of the four Belgian VAT brackets recognized
// by the fiscal data module.
type TaxLetter string

const (
	TaxLetterA TaxLetter = "A" // 21%
	TaxLetterB TaxLetter = "B" // 12%
	TaxLetterC TaxLetter = "C" // 6%
	TaxLetterD TaxLetter = "D" // 0%
)

// TaxLetters lists the recognized letters in wire order.
var TaxLetters = []TaxLetter{TaxLetterA, TaxLetterB, TaxLetterC, TaxLetterD}

// TaxPercentage returns the VAT percentage for the letter, scaled by 100
// the way the wire format expects (21% -> 2100).
func (t TaxLetter) TaxPercentage() int {
	switch t {
	case TaxLetterA:
		return 2100
	case TaxLetterB:
		return 1200
	case TaxLetterC:
		return 600
	case TaxLetterD:
		return 0
	default:
		return 0
	}
}

// IsValid reports whether the letter is one of the four recognized brackets.
func (t TaxLetter) IsValid() bool {
	switch t {
	case TaxLetterA, TaxLetterB, TaxLetterC, TaxLetterD:
		return true
	}
	return false
}

// UnitCategory classifies a unit of measure for PLU quantity normalization.
type UnitCategory string

const (
	UnitCategoryUnit   UnitCategory = "UNIT"
	UnitCategoryWeight UnitCategory = "WEIGHT"
	UnitCategoryVolume UnitCategory = "VOLUME"
)

// UnitOfMeasure describes how a line quantity is expressed. Factor is the
// ratio of this unit to the category's base unit (kilogram for weight,
// liter for volume); the category's canonical small unit carries the
// reference factor used when normalizing to grams or milliliters.
type UnitOfMeasure struct {
	Name     string       `json:"name"`
	Category UnitCategory `json:"category"`
	Factor   decimal.Decimal
}

// Canonical units used by the PLU encoder as conversion references.
var (
	UnitPiece      = UnitOfMeasure{Name: "unit", Category: UnitCategoryUnit, Factor: decimal.NewFromInt(1)}
	UnitKilogram   = UnitOfMeasure{Name: "kg", Category: UnitCategoryWeight, Factor: decimal.NewFromInt(1)}
	UnitGram       = UnitOfMeasure{Name: "g", Category: UnitCategoryWeight, Factor: decimal.NewFromFloat(0.001)}
	UnitLiter      = UnitOfMeasure{Name: "l", Category: UnitCategoryVolume, Factor: decimal.NewFromInt(1)}
	UnitMilliliter = UnitOfMeasure{Name: "ml", Category: UnitCategoryVolume, Factor: decimal.NewFromFloat(0.001)}
)

// OrderLine is a single sold item. Once part of a finalized signed order a
// line is immutable; quantity corrections are expressed as new lines with
// negative quantities.
type OrderLine struct {
	ProductName  string          `json:"product_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         UnitOfMeasure   `json:"unit"`
	DisplayPrice decimal.Decimal `json:"display_price"`
	Discount     decimal.Decimal `json:"discount"`
	TaxLetter    TaxLetter       `json:"tax_letter"`
}

// Order is the unit being fiscally signed. The fiscal fields at the bottom
// are written exactly once, by the signing service, after the device
// confirms the hash-and-sign request.
type Order struct {
	ID           uuid.UUID                     `json:"id" db:"id"`
	TerminalID   string                        `json:"terminal_id" db:"terminal_id"`
	Lines        []OrderLine                   `json:"lines"`
	TaxTotals    map[TaxLetter]decimal.Decimal `json:"tax_totals"`
	TotalWithTax decimal.Decimal               `json:"total_with_tax"`
	TicketNumber int                           `json:"ticket_number" db:"ticket_number"`
	ProForma     bool                          `json:"pro_forma" db:"pro_forma"`
	OperatorINSZ string                        `json:"operator_insz"`
	ValidatedAt  time.Time                     `json:"validated_at" db:"validated_at"`

	// Fiscal fields, populated on successful signing.
	Signature           string `json:"signature,omitempty" db:"signature"`
	PLUHash             string `json:"plu_hash,omitempty" db:"plu_hash"`
	ChainValue          string `json:"chain_value,omitempty" db:"chain_value"`
	VSCIdentification   string `json:"vsc_identification,omitempty" db:"vsc_identification"`
	FDMProductionNumber string `json:"fdm_production_number,omitempty" db:"fdm_production_number"`
	TicketCounter       string `json:"ticket_counter,omitempty" db:"ticket_counter"`
	TotalTicketCounter  string `json:"total_ticket_counter,omitempty" db:"total_ticket_counter"`
}

// EventLabel returns the two character sale label embedded in the signed
// payload: PS for pro forma tickets, NS for normal sales.
func (o *Order) EventLabel() string {
	if o.ProForma {
		return "PS"
	}
	return "NS"
}

// IsSigned reports whether the order already carries a signature.
func (o *Order) IsSigned() bool {
	return o.Signature != ""
}

// Validate runs the pre-flight checks that must pass before the order is
// allowed anywhere near the device.
func (o *Order) Validate() error {
	if len(o.Lines) == 0 {
		return fmt.Errorf("order %s has no lines", o.ID)
	}
	for i, line := range o.Lines {
		if !line.TaxLetter.IsValid() {
			return fmt.Errorf("order %s line %d (%q): missing or unknown tax letter %q",
				o.ID, i, line.ProductName, line.TaxLetter)
		}
	}
	for letter := range o.TaxTotals {
		if !letter.IsValid() {
			return fmt.Errorf("order %s: unknown tax bucket %q", o.ID, letter)
		}
	}
	return nil
}

// TaxTotal returns the base-price total for a bracket, zero when absent.
func (o *Order) TaxTotal(letter TaxLetter) decimal.Decimal {
	if v, ok := o.TaxTotals[letter]; ok {
		return v
	}
	return decimal.Zero
}

// JSONArray type for PostgreSQL JSONB arrays
type JSONArray []interface{}

func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
