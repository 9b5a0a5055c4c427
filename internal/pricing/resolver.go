package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

// Catalog is the read side of the bead and add-on tables.
type Catalog interface {
	BeadsByIDs(ctx context.Context, ids []string) (map[string]domain.Bead, error)
	BeadsByDiameter(ctx context.Context, diameterMM decimal.Decimal) ([]domain.Bead, error)
	AddOnsByIDs(ctx context.Context, ids []string) (map[string]domain.AddOnProduct, error)
}

// BeadSelection identifies a bead by SKU id or, when the id is stale or
// missing, by display name and diameter.
type BeadSelection struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	DiameterMM decimal.Decimal `json:"diameter_mm"`
	Quantity   int             `json:"quantity"`
}

type DesignSelection struct {
	Name  string          `json:"name"`
	Beads []BeadSelection `json:"beads"`
}

type AddOnSelection struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type Resolver struct {
	catalog Catalog
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// ResolveDesigns maps selections to concrete active SKUs with current prices.
func (r *Resolver) ResolveDesigns(ctx context.Context, designs []DesignSelection) ([]DesignInput, error) {
	var ids []string
	for _, d := range designs {
		for _, b := range d.Beads {
			if b.ID != "" {
				ids = append(ids, b.ID)
			}
		}
	}

	byID, err := r.catalog.BeadsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load beads: %w", err)
	}

	byDiameter := make(map[string][]domain.Bead)
	out := make([]DesignInput, 0, len(designs))
	for _, d := range designs {
		in := DesignInput{Name: strings.TrimSpace(d.Name)}
		for _, sel := range d.Beads {
			if sel.Quantity <= 0 {
				return nil, fmt.Errorf("%w: bead quantity must be positive", domain.ErrInvalidInput)
			}

			bead, ok := byID[sel.ID]
			if !ok || !bead.Active {
				bead, ok, err = r.byNameAndDiameter(ctx, sel, byDiameter)
				if err != nil {
					return nil, err
				}
			}
			if !ok {
				return nil, fmt.Errorf("%w: bead %q (%s, %smm)", domain.ErrUnknownSKU, sel.ID, sel.Name, sel.DiameterMM.String())
			}

			in.Beads = append(in.Beads, domain.BeadLine{
				SKU:       bead.ID,
				Name:      bead.Name,
				UnitPrice: bead.Price,
				Quantity:  sel.Quantity,
			})
		}
		out = append(out, in)
	}
	return out, nil
}

func (r *Resolver) byNameAndDiameter(ctx context.Context, sel BeadSelection, cache map[string][]domain.Bead) (domain.Bead, bool, error) {
	name := foldName(sel.Name)
	if name == "" || !sel.DiameterMM.IsPositive() {
		return domain.Bead{}, false, nil
	}

	key := sel.DiameterMM.String()
	candidates, ok := cache[key]
	if !ok {
		var err error
		candidates, err = r.catalog.BeadsByDiameter(ctx, sel.DiameterMM)
		if err != nil {
			return domain.Bead{}, false, fmt.Errorf("load beads by diameter: %w", err)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
		cache[key] = candidates
	}

	for _, b := range candidates {
		if b.Active && foldName(b.Name) == name {
			return b, true, nil
		}
	}
	return domain.Bead{}, false, nil
}

// ResolveAddOns loads the selected add-on products with current prices.
func (r *Resolver) ResolveAddOns(ctx context.Context, sels []AddOnSelection) ([]AddOnInput, error) {
	if len(sels) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(sels))
	for _, s := range sels {
		ids = append(ids, s.ID)
	}
	products, err := r.catalog.AddOnsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load add-ons: %w", err)
	}

	out := make([]AddOnInput, 0, len(sels))
	for _, s := range sels {
		p, ok := products[s.ID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: add-on %q", domain.ErrUnknownSKU, s.ID)
		}
		out = append(out, AddOnInput{ID: p.ID, Name: p.Name, UnitPrice: p.Price, Quantity: s.Quantity})
	}
	return out, nil
}

func foldName(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}
