// internal/fdm/plu.go
package fdm

import (
	"strings"

	"github.com/shopspring/decimal"

	"fdm-service/internal/model"
)

// Encoded PLU record layout: amount(4) + description(20) + price(8) + vat(1).
const (
	pluAmountWidth      = 4
	pluDescriptionWidth = 20
	pluPriceWidth       = 8

	// EncodedLineLength is the fixed width of one encoded PLU record.
	EncodedLineLength = pluAmountWidth + pluDescriptionWidth + pluPriceWidth + 1
)

var centsFactor = decimal.NewFromInt(100)

// EncodeLine converts one order line into the fixed-width canonical record
// that feeds the PLU hash. Weight quantities normalize to grams, volume
// quantities to milliliters; unit products use the raw quantity.
func EncodeLine(line *model.OrderLine) (string, error) {
	if !line.TaxLetter.IsValid() {
		return "", ErrMissingTaxLetter
	}

	quantity := line.Quantity
	switch line.Unit.Category {
	case model.UnitCategoryWeight:
		quantity = quantity.Mul(line.Unit.Factor).Div(model.UnitGram.Factor)
	case model.UnitCategoryVolume:
		quantity = quantity.Mul(line.Unit.Factor).Div(model.UnitMilliliter.Factor)
	}

	description := Canonicalize(line.ProductName)
	if len(description) > pluDescriptionWidth {
		description = description[:pluDescriptionWidth]
	}
	description += strings.Repeat(" ", pluDescriptionWidth-len(description))

	return encodePLUNumber(quantity, pluAmountWidth) +
		description +
		encodePLUNumber(line.DisplayPrice.Mul(centsFactor), pluPriceWidth) +
		string(line.TaxLetter), nil
}

// EncodeLines encodes every line in order. The concatenation of the result
// is the exact SHA-1 input for the order's PLU hash.
func EncodeLines(lines []model.OrderLine) ([]string, error) {
	encoded := make([]string, 0, len(lines))
	for i := range lines {
		record, err := EncodeLine(&lines[i])
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, record)
	}
	return encoded, nil
}

// encodePLUNumber runs the PLU numeric pipeline: round to the nearest
// integer, absolute value, keep the `width` least-significant digits and
// zero-pad on the left. Keeping the low digits on overflow is mandated by
// the protocol, the high digits are dropped silently.
func encodePLUNumber(v decimal.Decimal, width int) string {
	digits := v.Round(0).Abs().String()
	if len(digits) > width {
		digits = digits[len(digits)-width:]
	}
	return strings.Repeat("0", width-len(digits)) + digits
}
