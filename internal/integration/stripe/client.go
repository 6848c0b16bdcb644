package stripe

import (
	"context"
	"sync"

	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/catalog"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/stripe/stripe-go/v82"
)

// Gateway is the Stripe implementation of billing.Gateway
type Gateway struct {
	cfg     config.StripeConfig
	catalog *catalog.Catalog
	logger  *logger.Logger

	mu     sync.RWMutex
	client *stripe.Client
}

var _ billing.Gateway = (*Gateway)(nil)

// NewGateway creates a Stripe gateway. The API client is created by Open.
func NewGateway(cfg *config.Configuration, cat *catalog.Catalog, log *logger.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg.Stripe,
		catalog: cat,
		logger:  log.With("component", "stripe_gateway"),
	}
}

// Open initializes the Stripe API client
func (g *Gateway) Open(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.SecretKey == "" {
		return ierr.NewError("stripe secret key is not configured").
			WithHint("Set stripe.secret_key").
			Mark(ierr.ErrValidation)
	}
	g.client = stripe.NewClient(g.cfg.SecretKey)
	g.logger.Info("stripe gateway opened")
	return nil
}

// Close drops the API client. Calls made after Close fail.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.client = nil
	g.logger.Info("stripe gateway closed")
	return nil
}

func (g *Gateway) api() (*stripe.Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, ierr.NewError("stripe gateway is not open").
			WithHint("Payment processor is unavailable").
			Mark(ierr.ErrSystem)
	}
	return g.client, nil
}

// PriceRefForPlan maps a catalog plan to its Stripe price
func (g *Gateway) PriceRefForPlan(plan string) (string, error) {
	p, ok := g.catalog.Plan(plan)
	if !ok {
		return "", ierr.NewError("unknown plan").
			WithHintf("Plan %q has no price", plan).
			Mark(ierr.ErrValidation)
	}
	return p.PriceRef, nil
}

// PlanNameForPrice maps a Stripe price back to a catalog plan
func (g *Gateway) PlanNameForPrice(priceRef string) (string, bool) {
	p, ok := g.catalog.PlanForPrice(priceRef)
	if !ok {
		return "", false
	}
	return p.Name, true
}

// apiError wraps a Stripe API failure
func apiError(err error, msg string, details map[string]any) error {
	details["error"] = err.Error()
	return ierr.WithError(err).
		WithHint(msg).
		WithReportableDetails(details).
		Mark(ierr.ErrHTTPClient)
}
