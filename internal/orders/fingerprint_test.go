package orders

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

func TestFingerprint(t *testing.T) {
	key := checkoutKey{
		UserID: "user-1",
		Items: []domain.LineItem{{
			Kind:      domain.LineItemDesign,
			Name:      "Calm",
			UnitPrice: decimal.RequireFromString("25"),
			Quantity:  1,
			Beads:     []domain.BeadLine{{SKU: "AMT-8", UnitPrice: decimal.RequireFromString("12.5"), Quantity: 2}},
		}},
		Total:    "38.00",
		Address:  "Ann 555 Somewhere",
		Remarks:  "gift wrap",
		CouponID: "c10",
		Points:   100,
	}

	a, err := fingerprint(key)
	require.NoError(t, err)
	b, err := fingerprint(key)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	for _, change := range []func(k *checkoutKey){
		func(k *checkoutKey) { k.UserID = "user-2" },
		func(k *checkoutKey) { k.Address = "Ann 555 Elsewhere" },
		func(k *checkoutKey) { k.Remarks = "" },
		func(k *checkoutKey) { k.Items = nil },
		func(k *checkoutKey) { k.Total = "39.00" },
		func(k *checkoutKey) { k.CouponID = "" },
		func(k *checkoutKey) { k.Points = 0 },
	} {
		k := key
		change(&k)
		c, err := fingerprint(k)
		require.NoError(t, err)
		assert.NotEqual(t, a, c)
	}
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	n := newOrderNumber(now)

	assert.Len(t, n, 20)
	assert.True(t, strings.HasPrefix(n, "20260203040506"))
	assert.Regexp(t, regexp.MustCompile(`^\d{20}$`), n)
}

func TestSanitizeRemarks(t *testing.T) {
	assert.Equal(t, "please add a card", sanitizeRemarks("  <b>please</b> add a <script>alert(1)</script>card "))
	assert.Equal(t, "fish & chips", sanitizeRemarks("fish & chips"))
	assert.Equal(t, 200, len([]rune(sanitizeRemarks(strings.Repeat("珠", 250)))))
}
