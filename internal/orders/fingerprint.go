package orders

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

// checkoutKey is the request side of a checkout: what the user asked for,
// before any coupon or points are applied.
type checkoutKey struct {
	UserID   string            `json:"u"`
	Items    []domain.LineItem `json:"i"`
	Total    string            `json:"t"`
	Address  string            `json:"a"`
	Remarks  string            `json:"r"`
	CouponID string            `json:"c"`
	Points   int64             `json:"p"`
}

// fingerprint identifies a checkout so a double submitted request maps to the
// order it already produced.
func fingerprint(k checkoutKey) (string, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

const orderNumberLayout = "20060102150405"

var orderNumberSuffixMax = big.NewInt(1_000_000)

// newOrderNumber returns a 20 character number: UTC timestamp to the second
// followed by six random digits.
func newOrderNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, orderNumberSuffixMax)
	if err != nil {
		n = big.NewInt(now.UnixNano() % orderNumberSuffixMax.Int64())
	}
	return fmt.Sprintf("%s%06d", now.UTC().Format(orderNumberLayout), n.Int64())
}
