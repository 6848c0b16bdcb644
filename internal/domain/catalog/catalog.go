package catalog

import (
	"github.com/flexprice/plancore/internal/config"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Plan is a named pricing tier
type Plan struct {
	Name     string
	Price    decimal.Decimal
	PriceRef string
}

// Addon is an optional product restricted to a subset of plans
type Addon struct {
	Name         string
	PriceRef     string
	AvailableFor []string
}

// IsAvailableFor reports whether the addon may be active on plan
func (a *Addon) IsAvailableFor(plan string) bool {
	return lo.Contains(a.AvailableFor, plan)
}

// Catalog is the static plan and addon lookup. It is read-only after construction.
type Catalog struct {
	freePlan     string
	plans        map[string]*Plan
	addons       map[string]*Addon
	planByPrice  map[string]*Plan
	addonByPrice map[string]*Addon
}

// NewCatalog builds the catalog from configuration and validates cross references
func NewCatalog(cfg *config.Configuration) (*Catalog, error) {
	c := &Catalog{
		freePlan:     cfg.Catalog.FreePlan,
		plans:        make(map[string]*Plan, len(cfg.Catalog.Plans)),
		addons:       make(map[string]*Addon, len(cfg.Catalog.Addons)),
		planByPrice:  make(map[string]*Plan, len(cfg.Catalog.Plans)),
		addonByPrice: make(map[string]*Addon, len(cfg.Catalog.Addons)),
	}

	for _, pc := range cfg.Catalog.Plans {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Plan %s has an invalid price %q", pc.Name, pc.Price).
				Mark(ierr.ErrValidation)
		}
		if _, dup := c.plans[pc.Name]; dup {
			return nil, ierr.NewError("duplicate plan").
				WithHintf("Plan %s is configured twice", pc.Name).
				Mark(ierr.ErrValidation)
		}
		p := &Plan{Name: pc.Name, Price: price, PriceRef: pc.PriceRef}
		c.plans[p.Name] = p
		c.planByPrice[p.PriceRef] = p
	}

	free, ok := c.plans[c.freePlan]
	if !ok {
		return nil, ierr.NewError("free plan missing from catalog").
			WithHintf("Free plan %s is not a configured plan", c.freePlan).
			Mark(ierr.ErrValidation)
	}
	if !free.Price.IsZero() {
		return nil, ierr.NewError("free plan has a price").
			WithHintf("Free plan %s must cost zero", c.freePlan).
			Mark(ierr.ErrValidation)
	}

	for _, ac := range cfg.Catalog.Addons {
		for _, plan := range ac.AvailableFor {
			if _, ok := c.plans[plan]; !ok {
				return nil, ierr.NewError("addon references unknown plan").
					WithHintf("Addon %s lists unknown plan %s", ac.Name, plan).
					Mark(ierr.ErrValidation)
			}
		}
		a := &Addon{Name: ac.Name, PriceRef: ac.PriceRef, AvailableFor: ac.AvailableFor}
		c.addons[a.Name] = a
		c.addonByPrice[a.PriceRef] = a
	}

	return c, nil
}

// FreePlan returns the zero-cost plan new and lapsed users fall back to
func (c *Catalog) FreePlan() *Plan {
	return c.plans[c.freePlan]
}

// Plan looks up a plan by name
func (c *Catalog) Plan(name string) (*Plan, bool) {
	p, ok := c.plans[name]
	return p, ok
}

// PlanForPrice is the reverse lookup from a processor price reference
func (c *Catalog) PlanForPrice(priceRef string) (*Plan, bool) {
	p, ok := c.planByPrice[priceRef]
	return p, ok
}

// Addon looks up an addon by name
func (c *Catalog) Addon(name string) (*Addon, bool) {
	a, ok := c.addons[name]
	return a, ok
}

// AddonForPrice is the reverse lookup from a processor price reference
func (c *Catalog) AddonForPrice(priceRef string) (*Addon, bool) {
	a, ok := c.addonByPrice[priceRef]
	return a, ok
}

// IsAddonAvailable reports whether addon can be active on plan. Unknown addons are never available.
func (c *Catalog) IsAddonAvailable(addon, plan string) bool {
	a, ok := c.addons[addon]
	return ok && a.IsAvailableFor(plan)
}

// IsUpgrade reports whether moving from one plan to another raises the price.
// Both plans must exist.
func (c *Catalog) IsUpgrade(from, to string) (bool, error) {
	fromPlan, ok := c.plans[from]
	if !ok {
		return false, ierr.NewError("unknown plan").
			WithHintf("Plan %q does not exist", from).
			Mark(ierr.ErrValidation)
	}
	toPlan, ok := c.plans[to]
	if !ok {
		return false, ierr.NewError("unknown plan").
			WithHintf("Plan %q does not exist", to).
			Mark(ierr.ErrValidation)
	}
	return toPlan.Price.GreaterThan(fromPlan.Price), nil
}

// PlanNames lists every configured plan name
func (c *Catalog) PlanNames() []string {
	return lo.Keys(c.plans)
}
