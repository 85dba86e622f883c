// internal/fdm/chain_test.go
package fdm

import (
	"testing"

	"github.com/shopspring/decimal"

	"fdm-service/internal/model"
)

func TestPLUHash(t *testing.T) {
	lines := []model.OrderLine{
		{
			ProductName:  "Délicieux Café",
			Quantity:     decimal.NewFromInt(2),
			Unit:         model.UnitPiece,
			DisplayPrice: decimal.NewFromInt(5),
			TaxLetter:    model.TaxLetterA,
		},
	}

	hash, err := PLUHash(lines)
	if err != nil {
		t.Fatalf("PLUHash() error = %v", err)
	}
	if hash != "83b026029c1d64feea8705f23c0b04d6e0aee0ec" {
		t.Errorf("PLUHash() = %q", hash)
	}
	if ReceiptHash(hash) != "e0aee0ec" {
		t.Errorf("ReceiptHash() = %q, want %q", ReceiptHash(hash), "e0aee0ec")
	}
}

func TestPLUHashMultipleLines(t *testing.T) {
	lines := []model.OrderLine{
		{
			ProductName:  "Délicieux Café",
			Quantity:     decimal.NewFromInt(2),
			Unit:         model.UnitPiece,
			DisplayPrice: decimal.NewFromInt(5),
			TaxLetter:    model.TaxLetterA,
		},
		{
			ProductName:  "Spa Water",
			Quantity:     decimal.NewFromInt(1),
			Unit:         model.UnitPiece,
			DisplayPrice: decimal.NewFromFloat(1.80),
			TaxLetter:    model.TaxLetterC,
		},
	}

	hash, err := PLUHash(lines)
	if err != nil {
		t.Fatalf("PLUHash() error = %v", err)
	}
	if hash != "9ddd8e4a5ca6a1b890533677027054624e02aee5" {
		t.Errorf("PLUHash() = %q", hash)
	}
}

func TestPLUHashSensitiveToLineOrder(t *testing.T) {
	a := model.OrderLine{
		ProductName: "Coffee", Quantity: decimal.NewFromInt(1),
		Unit: model.UnitPiece, DisplayPrice: decimal.NewFromInt(2), TaxLetter: model.TaxLetterA,
	}
	b := model.OrderLine{
		ProductName: "Tea", Quantity: decimal.NewFromInt(1),
		Unit: model.UnitPiece, DisplayPrice: decimal.NewFromInt(2), TaxLetter: model.TaxLetterA,
	}

	ab, err := PLUHash([]model.OrderLine{a, b})
	if err != nil {
		t.Fatalf("PLUHash(ab) error = %v", err)
	}
	ba, err := PLUHash([]model.OrderLine{b, a})
	if err != nil {
		t.Fatalf("PLUHash(ba) error = %v", err)
	}
	if ab == ba {
		t.Error("PLUHash() identical for reordered lines")
	}
}

func TestNextChainValue(t *testing.T) {
	if got := NextChainValue("6414b564", "e0aee0ec"); got != "e0039560" {
		t.Errorf("NextChainValue() = %q, want %q", got, "e0039560")
	}
}

func TestRecomputeChain(t *testing.T) {
	receiptHashes := []string{"e0aee0ec", "4e02aee5"}

	head := GenesisChainValue
	var heads []string
	for _, rh := range receiptHashes {
		head = NextChainValue(head, rh)
		heads = append(heads, head)
	}

	if heads[0] != "30f7dc07" {
		t.Errorf("first head = %q, want %q", heads[0], "30f7dc07")
	}
	if heads[1] != "300c35e6" {
		t.Errorf("second head = %q, want %q", heads[1], "300c35e6")
	}

	if got := RecomputeChain(receiptHashes); got != head {
		t.Errorf("RecomputeChain() = %q, want %q", got, head)
	}
}

func TestChainDetectsMutation(t *testing.T) {
	original := []string{"e0aee0ec", "4e02aee5", "deadbeef"}
	tampered := []string{"e0aee0ec", "4e02aee6", "deadbeef"}

	if RecomputeChain(original) == RecomputeChain(tampered) {
		t.Error("chain head unchanged after receipt hash mutation")
	}
}

func TestChainDetectsReordering(t *testing.T) {
	original := []string{"e0aee0ec", "4e02aee5"}
	reordered := []string{"4e02aee5", "e0aee0ec"}

	if RecomputeChain(original) == RecomputeChain(reordered) {
		t.Error("chain head unchanged after receipt reordering")
	}
}
