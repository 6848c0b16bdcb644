package testutil

import (
	"context"
	"time"

	"github.com/flexprice/plancore/internal/cache"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/domain/catalog"
	"github.com/flexprice/plancore/internal/domain/subscription"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/sentry"
	"github.com/flexprice/plancore/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories for testing
type Stores struct {
	SubscriptionRepo *InMemorySubscriptionStore
	SyncTaskRepo     *InMemorySyncTaskStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx         context.Context
	stores      Stores
	db          *MockPostgresClient
	logger      *logger.Logger
	config      *config.Configuration
	catalog     *catalog.Catalog
	cache       cache.Cache
	sentry      *sentry.Service
	payments    *FakePaymentGateway
	entitlement *FakeEntitlementGateway
	now         time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	s.config = config.GetDefaultConfig()
	s.config.Logging.Level = types.LogLevelError
	// retries are driven explicitly by the tests
	s.config.EntitlementSync.InitialInterval = time.Millisecond
	s.config.EntitlementSync.MaxInterval = time.Millisecond
	s.config.EntitlementSync.MaxAttempts = 3

	s.logger = logger.NewNoop()

	var err error
	s.catalog, err = catalog.NewCatalog(s.config)
	if err != nil {
		s.T().Fatalf("failed to build catalog: %v", err)
	}
	s.sentry = sentry.NewSentryService(s.config, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.now = time.Now().UTC()
	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		SyncTaskRepo:     NewInMemorySyncTaskStore(),
	}
	s.db = NewMockPostgresClient()
	s.cache = cache.NewInMemoryCache(s.config)
	s.payments = NewFakePaymentGateway(s.catalog)
	s.entitlement = NewFakeEntitlementGateway()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.SyncTaskRepo.Clear()
	s.cache.Flush(s.ctx)
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetCatalog() *catalog.Catalog {
	return s.catalog
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetPaymentGateway returns the scripted processor fake
func (s *BaseServiceTestSuite) GetPaymentGateway() *FakePaymentGateway {
	return s.payments
}

// GetEntitlementGateway returns the recording entitlement fake
func (s *BaseServiceTestSuite) GetEntitlementGateway() *FakeEntitlementGateway {
	return s.entitlement
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

// SeedSubscription stores a record for userID on plan, backed by a live
// processor subscription with a chargeable customer. Addons are attached
// as processor items and active on the record.
func (s *BaseServiceTestSuite) SeedSubscription(userID, plan string, addons ...string) *subscription.Subscription {
	p, ok := s.catalog.Plan(plan)
	if !ok {
		s.T().Fatalf("unknown plan %s", plan)
	}

	customerRef := "cus_" + userID
	s.payments.AddCustomer(customerRef, userID, "pm_"+userID)

	prices := []string{p.PriceRef}
	for _, name := range addons {
		a, ok := s.catalog.Addon(name)
		if !ok {
			s.T().Fatalf("unknown addon %s", name)
		}
		prices = append(prices, a.PriceRef)
	}
	bsub := s.payments.AddSubscription("sub_"+userID, customerRef, prices...)

	sub := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:                 userID,
		Username:               userID + "_name",
		Email:                  userID + "@example.com",
		BillingCustomerRef:     customerRef,
		BillingSubscriptionRef: bsub.Ref,
		BillingPriceRef:        p.PriceRef,
		Status:                 types.SubscriptionStatusActive,
		PlanType:               p.Name,
		CurrentPeriodStart:     bsub.CurrentPeriodStart,
		CurrentPeriodEnd:       bsub.CurrentPeriodEnd,
		Version:                1,
		CreatedAt:              s.now,
		UpdatedAt:              s.now,
	}
	for i, name := range addons {
		sub.ActiveAddOns = append(sub.ActiveAddOns, &subscription.AddOn{
			Name:           name,
			BillingItemRef: bsub.Items[i+1].Ref,
			PurchasedAt:    s.now,
			Status:         types.AddonStatusActive,
		})
	}

	s.stores.SubscriptionRepo.Put(sub)
	return sub.Clone()
}

// GetRecord loads the stored record for userID
func (s *BaseServiceTestSuite) GetRecord(userID string) *subscription.Subscription {
	sub, err := s.stores.SubscriptionRepo.GetByUserID(s.ctx, userID)
	s.Require().NoError(err)
	return sub
}
