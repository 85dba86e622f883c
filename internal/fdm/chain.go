// internal/fdm/chain.go
package fdm

import (
	"crypto/sha1"
	"encoding/hex"

	"fdm-service/internal/model"
)

// GenesisChainValue seeds the hash chain of a terminal that has never
// signed a receipt.
const GenesisChainValue = "00000000"

// ReceiptHashLength is the number of trailing hex characters of a full
// SHA-1 digest that participate in the chain.
const ReceiptHashLength = 8

// PLUHash computes the full 40-character lowercase hex SHA-1 digest over
// the concatenated encoded order lines. This digest travels in the
// hash-and-sign request and is persisted with the receipt.
func PLUHash(lines []model.OrderLine) (string, error) {
	encoded, err := EncodeLines(lines)
	if err != nil {
		return "", err
	}
	return PLUHashFromEncoded(encoded), nil
}

// PLUHashFromEncoded hashes already-encoded lines. The lines are hashed in
// the order given, with nothing between them.
func PLUHashFromEncoded(encoded []string) string {
	h := sha1.New()
	for _, line := range encoded {
		h.Write([]byte(line))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReceiptHash reduces a full PLU hash to the 8 trailing hex characters
// that feed the chain.
func ReceiptHash(pluHash string) string {
	if len(pluHash) <= ReceiptHashLength {
		return pluHash
	}
	return pluHash[len(pluHash)-ReceiptHashLength:]
}

// NextChainValue advances the chain: the new head is the receipt hash of
// SHA-1 over the previous head concatenated with this receipt's hash.
func NextChainValue(previous, receiptHash string) string {
	h := sha1.Sum([]byte(previous + receiptHash))
	return ReceiptHash(hex.EncodeToString(h[:]))
}

// RecomputeChain replays a sequence of receipt hashes from the genesis
// value and returns the expected head. Used to audit the persisted chain
// against the receipt journal.
func RecomputeChain(receiptHashes []string) string {
	head := GenesisChainValue
	for _, rh := range receiptHashes {
		head = NextChainValue(head, rh)
	}
	return head
}
