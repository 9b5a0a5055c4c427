package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type fakeCatalog struct {
	beads         []domain.Bead
	addOns        []domain.AddOnProduct
	diameterLoads int
}

func (c *fakeCatalog) BeadsByIDs(_ context.Context, ids []string) (map[string]domain.Bead, error) {
	out := make(map[string]domain.Bead)
	for _, id := range ids {
		for _, b := range c.beads {
			if b.ID == id {
				out[id] = b
			}
		}
	}
	return out, nil
}

func (c *fakeCatalog) BeadsByDiameter(_ context.Context, dia decimal.Decimal) ([]domain.Bead, error) {
	c.diameterLoads++
	var out []domain.Bead
	for _, b := range c.beads {
		if b.DiameterMM.Equal(dia) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *fakeCatalog) AddOnsByIDs(_ context.Context, ids []string) (map[string]domain.AddOnProduct, error) {
	out := make(map[string]domain.AddOnProduct)
	for _, id := range ids {
		for _, a := range c.addOns {
			if a.ID == id {
				out[id] = a
			}
		}
	}
	return out, nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		beads: []domain.Bead{
			{ID: "AMT-8", Name: "Amethyst", DiameterMM: d("8"), Price: d("12.5"), Active: true},
			{ID: "AMT-8-OLD", Name: "Amethyst", DiameterMM: d("8"), Price: d("9"), Active: false},
			{ID: "ROSE-6", Name: "Rose Quartz", DiameterMM: d("6"), Price: d("6"), Active: true},
		},
		addOns: []domain.AddOnProduct{
			{ID: "box", Name: "Gift box", Price: d("5"), Active: true},
			{ID: "card", Name: "Card", Price: d("1"), Active: false},
		},
	}
}

func TestResolveDesigns_ExactID(t *testing.T) {
	r := NewResolver(newFakeCatalog())

	out, err := r.ResolveDesigns(context.Background(), []DesignSelection{{
		Name:  " Calm ",
		Beads: []BeadSelection{{ID: "AMT-8", Quantity: 2}, {ID: "ROSE-6", Quantity: 1}},
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Calm", out[0].Name)
	require.Len(t, out[0].Beads, 2)
	assert.Equal(t, "AMT-8", out[0].Beads[0].SKU)
	assert.True(t, out[0].Beads[0].UnitPrice.Equal(d("12.5")))
	assert.Equal(t, 2, out[0].Beads[0].Quantity)
}

func TestResolveDesigns_FallsBackToNameAndDiameter(t *testing.T) {
	cat := newFakeCatalog()
	r := NewResolver(cat)

	out, err := r.ResolveDesigns(context.Background(), []DesignSelection{{
		Name: "stale",
		Beads: []BeadSelection{
			{ID: "deleted-id", Name: "  ROSE   quartz", DiameterMM: d("6"), Quantity: 1},
			{ID: "AMT-8-OLD", Name: "amethyst", DiameterMM: d("8.0"), Quantity: 1},
			{Name: "Ｒｏｓｅ Ｑｕａｒｔｚ", DiameterMM: d("6"), Quantity: 3},
		},
	}})
	require.NoError(t, err)
	require.Len(t, out[0].Beads, 3)
	assert.Equal(t, "ROSE-6", out[0].Beads[0].SKU)
	assert.Equal(t, "AMT-8", out[0].Beads[1].SKU, "inactive id resolves to the active bead")
	assert.Equal(t, "ROSE-6", out[0].Beads[2].SKU, "full-width name folds to ascii")
	assert.Equal(t, 2, cat.diameterLoads, "lookups by diameter are cached")
}

func TestResolveDesigns_UnknownSKU(t *testing.T) {
	r := NewResolver(newFakeCatalog())

	_, err := r.ResolveDesigns(context.Background(), []DesignSelection{{
		Name:  "x",
		Beads: []BeadSelection{{ID: "nope", Name: "Onyx", DiameterMM: d("10"), Quantity: 1}},
	}})
	require.ErrorIs(t, err, domain.ErrUnknownSKU)

	_, err = r.ResolveDesigns(context.Background(), []DesignSelection{{
		Name:  "x",
		Beads: []BeadSelection{{ID: "AMT-8", Quantity: 0}},
	}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolveAddOns(t *testing.T) {
	r := NewResolver(newFakeCatalog())

	out, err := r.ResolveAddOns(context.Background(), []AddOnSelection{{ID: "box", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Gift box", out[0].Name)
	assert.Equal(t, 2, out[0].Quantity)

	_, err = r.ResolveAddOns(context.Background(), []AddOnSelection{{ID: "card", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrUnknownSKU)

	out, err = r.ResolveAddOns(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
