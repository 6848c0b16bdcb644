package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flexprice/plancore/internal/domain/billing"
	"github.com/flexprice/plancore/internal/domain/catalog"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
	"github.com/samber/lo"
)

// FakeCustomer is a processor customer held by FakePaymentGateway
type FakeCustomer struct {
	Ref           string
	UserID        string
	DefaultMethod string
	Attached      []string
}

// FakeSchedule records a deferred price change
type FakeSchedule struct {
	Ref             string
	SubscriptionRef string
	PriceRef        string
	EffectiveAt     time.Time
	Released        bool
}

// FakePaymentGateway is a stateful in-memory billing.Gateway. Every call is
// recorded; Errors fails the named method with the given error.
type FakePaymentGateway struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	seq     int
	open    bool

	Customers        map[string]*FakeCustomer
	Subscriptions    map[string]*billing.Subscription
	SetupSessions    map[string]*billing.SetupSession
	CheckoutSessions map[string]*billing.CheckoutSession
	Schedules        map[string]*FakeSchedule
	// WebhookEvents maps a signature to the event it verifies to
	WebhookEvents map[string]*billing.Event

	Errors        map[string]error
	Calls         []string
	LastProration types.ProrationPreference

	idempotent map[string]string
}

var _ billing.Gateway = (*FakePaymentGateway)(nil)

func NewFakePaymentGateway(cat *catalog.Catalog) *FakePaymentGateway {
	return &FakePaymentGateway{
		catalog:          cat,
		Customers:        make(map[string]*FakeCustomer),
		Subscriptions:    make(map[string]*billing.Subscription),
		SetupSessions:    make(map[string]*billing.SetupSession),
		CheckoutSessions: make(map[string]*billing.CheckoutSession),
		Schedules:        make(map[string]*FakeSchedule),
		WebhookEvents:    make(map[string]*billing.Event),
		Errors:           make(map[string]error),
		idempotent:       make(map[string]string),
	}
}

// call records method and returns its injected error. Callers hold mu.
func (f *FakePaymentGateway) call(method string) error {
	f.Calls = append(f.Calls, method)
	return f.Errors[method]
}

func (f *FakePaymentGateway) nextRef(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// CallCount returns how many times method was invoked
func (f *FakePaymentGateway) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Count(f.Calls, method)
}

// IsOpen reports whether Open was called without a later Close
func (f *FakePaymentGateway) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// AddCustomer seeds a customer with an optional default method and attached methods
func (f *FakePaymentGateway) AddCustomer(ref, userID, defaultMethod string, attached ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Customers[ref] = &FakeCustomer{Ref: ref, UserID: userID, DefaultMethod: defaultMethod, Attached: attached}
}

// AddSubscription seeds an active processor subscription billing the given prices
func (f *FakePaymentGateway) AddSubscription(ref, customerRef string, priceRefs ...string) *billing.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.newSubscription(ref, customerRef, priceRefs)
	return cloneBillingSubscription(sub)
}

// SetStatus overrides the status of a seeded subscription
func (f *FakePaymentGateway) SetStatus(ref string, status types.SubscriptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.Subscriptions[ref]; ok {
		sub.Status = status
	}
}

// CompleteSetup marks a setup session complete with the given payment method
func (f *FakePaymentGateway) CompleteSetup(ref, methodRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.SetupSessions[ref]
	if !ok {
		return
	}
	session.Complete = true
	session.PaymentMethodRef = methodRef
	if c, ok := f.Customers[session.CustomerRef]; ok && !slices.Contains(c.Attached, methodRef) {
		c.Attached = append(c.Attached, methodRef)
	}
}

// Subscription returns a copy of the processor subscription
func (f *FakePaymentGateway) Subscription(ref string) *billing.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.Subscriptions[ref]; ok {
		return cloneBillingSubscription(sub)
	}
	return nil
}

func (f *FakePaymentGateway) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("Open"); err != nil {
		return err
	}
	f.open = true
	return nil
}

func (f *FakePaymentGateway) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return f.call("Close")
}

func (f *FakePaymentGateway) GetOrCreateCustomer(ctx context.Context, req *billing.CustomerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetOrCreateCustomer"); err != nil {
		return "", err
	}

	if _, ok := f.Customers[req.ExistingRef]; ok {
		return req.ExistingRef, nil
	}
	for _, c := range f.Customers {
		if c.UserID == req.UserID {
			return c.Ref, nil
		}
	}
	ref := f.nextRef("cus")
	f.Customers[ref] = &FakeCustomer{Ref: ref, UserID: req.UserID}
	return ref, nil
}

func (f *FakePaymentGateway) HasChargeableMethod(ctx context.Context, customerRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("HasChargeableMethod"); err != nil {
		return false, err
	}
	c, ok := f.Customers[customerRef]
	return ok && c.DefaultMethod != "", nil
}

func (f *FakePaymentGateway) ListAttachableMethods(ctx context.Context, customerRef string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListAttachableMethods"); err != nil {
		return nil, err
	}
	c, ok := f.Customers[customerRef]
	if !ok {
		return nil, nil
	}
	return slices.Clone(c.Attached), nil
}

func (f *FakePaymentGateway) SetDefaultMethod(ctx context.Context, customerRef, methodRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("SetDefaultMethod"); err != nil {
		return err
	}
	c, ok := f.Customers[customerRef]
	if !ok {
		return missing("customer", customerRef)
	}
	c.DefaultMethod = methodRef
	if !slices.Contains(c.Attached, methodRef) {
		c.Attached = append(c.Attached, methodRef)
	}
	return nil
}

func (f *FakePaymentGateway) CreateCheckoutSession(ctx context.Context, req *billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	ref := f.nextRef("cs")
	session := &billing.CheckoutSession{
		Ref:               ref,
		URL:               "https://checkout.test/" + ref,
		Mode:              types.CheckoutModeSubscription,
		CustomerRef:       req.CustomerRef,
		ClientReferenceID: req.UserID,
		Metadata:          lo.Assign(req.Metadata),
	}
	f.CheckoutSessions[ref] = session
	c := *session
	return &c, nil
}

func (f *FakePaymentGateway) CreateSetupSession(ctx context.Context, req *billing.SetupRequest) (*billing.SetupSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateSetupSession"); err != nil {
		return nil, err
	}
	ref := f.nextRef("cs_setup")
	session := &billing.SetupSession{
		Ref:         ref,
		URL:         "https://checkout.test/" + ref,
		CustomerRef: req.CustomerRef,
		Metadata:    lo.Assign(req.Metadata),
	}
	f.SetupSessions[ref] = session
	c := *session
	return &c, nil
}

func (f *FakePaymentGateway) GetSetupSession(ctx context.Context, ref string) (*billing.SetupSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetSetupSession"); err != nil {
		return nil, err
	}
	session, ok := f.SetupSessions[ref]
	if !ok {
		return nil, missing("setup session", ref)
	}
	c := *session
	c.Metadata = lo.Assign(session.Metadata)
	return &c, nil
}

func (f *FakePaymentGateway) CreateSubscription(ctx context.Context, req *billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateSubscription"); err != nil {
		return nil, err
	}
	if ref, ok := f.idempotent[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return cloneBillingSubscription(f.Subscriptions[ref]), nil
	}

	sub := f.newSubscription(f.nextRef("sub"), req.CustomerRef, req.PriceRefs)
	sub.Metadata = lo.Assign(req.Metadata)
	if req.IdempotencyKey != "" {
		f.idempotent[req.IdempotencyKey] = sub.Ref
	}
	return cloneBillingSubscription(sub), nil
}

func (f *FakePaymentGateway) GetSubscription(ctx context.Context, ref string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[ref]
	if !ok {
		return nil, missing("subscription", ref)
	}
	return cloneBillingSubscription(sub), nil
}

func (f *FakePaymentGateway) UpdateSubscriptionPrice(ctx context.Context, ref, newPriceRef string, mode types.ProrationPreference) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateSubscriptionPrice"); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[ref]
	if !ok {
		return nil, missing("subscription", ref)
	}
	if sub.IsCanceled() {
		return nil, ierr.NewError("subscription is canceled").Mark(ierr.ErrHTTPClient)
	}

	f.LastProration = mode
	for i, item := range sub.Items {
		if _, isPlan := f.catalog.PlanForPrice(item.PriceRef); isPlan {
			sub.Items[i].PriceRef = newPriceRef
		}
	}
	sub.PriceRef = newPriceRef
	return cloneBillingSubscription(sub), nil
}

func (f *FakePaymentGateway) ScheduleDeferredPriceChange(ctx context.Context, ref, newPriceRef string, effectiveAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ScheduleDeferredPriceChange"); err != nil {
		return "", err
	}
	sub, ok := f.Subscriptions[ref]
	if !ok {
		return "", missing("subscription", ref)
	}

	schedRef := sub.ScheduleRef
	if schedRef == "" {
		schedRef = f.nextRef("sub_sched")
	}
	f.Schedules[schedRef] = &FakeSchedule{
		Ref:             schedRef,
		SubscriptionRef: ref,
		PriceRef:        newPriceRef,
		EffectiveAt:     effectiveAt,
	}
	sub.ScheduleRef = schedRef
	return schedRef, nil
}

func (f *FakePaymentGateway) ReleaseSchedule(ctx context.Context, scheduleRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ReleaseSchedule"); err != nil {
		return err
	}
	schedule, ok := f.Schedules[scheduleRef]
	if !ok {
		return nil
	}
	schedule.Released = true
	if sub, ok := f.Subscriptions[schedule.SubscriptionRef]; ok && sub.ScheduleRef == scheduleRef {
		sub.ScheduleRef = ""
	}
	return nil
}

// RunSchedule applies a deferred price change as the processor would at its effective date
func (f *FakePaymentGateway) RunSchedule(scheduleRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.Schedules[scheduleRef]
	if !ok || schedule.Released {
		return
	}
	sub := f.Subscriptions[schedule.SubscriptionRef]
	for i, item := range sub.Items {
		if _, isPlan := f.catalog.PlanForPrice(item.PriceRef); isPlan {
			sub.Items[i].PriceRef = schedule.PriceRef
		}
	}
	sub.PriceRef = schedule.PriceRef
	sub.ScheduleRef = ""
	schedule.Released = true
}

func (f *FakePaymentGateway) CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CancelSubscription"); err != nil {
		return err
	}
	sub, ok := f.Subscriptions[ref]
	if !ok {
		return nil
	}
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
		return nil
	}
	now := time.Now().UTC()
	sub.Status = types.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	return nil
}

func (f *FakePaymentGateway) AddSubscriptionItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("AddSubscriptionItem"); err != nil {
		return "", err
	}
	sub, ok := f.Subscriptions[subscriptionRef]
	if !ok {
		return "", missing("subscription", subscriptionRef)
	}
	item := billing.SubscriptionItem{Ref: f.nextRef("si"), PriceRef: priceRef}
	sub.Items = append(sub.Items, item)
	return item.Ref, nil
}

func (f *FakePaymentGateway) RemoveSubscriptionItem(ctx context.Context, itemRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("RemoveSubscriptionItem"); err != nil {
		return err
	}
	for _, sub := range f.Subscriptions {
		sub.Items = lo.Reject(sub.Items, func(item billing.SubscriptionItem, _ int) bool {
			return item.Ref == itemRef
		})
	}
	return nil
}

func (f *FakePaymentGateway) PriceRefForPlan(plan string) (string, error) {
	p, ok := f.catalog.Plan(plan)
	if !ok {
		return "", ierr.NewError("unknown plan").Mark(ierr.ErrValidation)
	}
	return p.PriceRef, nil
}

func (f *FakePaymentGateway) PlanNameForPrice(priceRef string) (string, bool) {
	p, ok := f.catalog.PlanForPrice(priceRef)
	if !ok {
		return "", false
	}
	return p.Name, true
}

func (f *FakePaymentGateway) VerifyAndParseWebhook(payload []byte, signature, secret string) (*billing.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("VerifyAndParseWebhook"); err != nil {
		return nil, err
	}
	event, ok := f.WebhookEvents[signature]
	if !ok {
		return nil, ierr.NewError("invalid webhook signature").
			WithHint("Webhook signature verification failed").
			Mark(ierr.ErrValidation)
	}
	return event, nil
}

// newSubscription creates and stores a subscription. Callers hold mu.
func (f *FakePaymentGateway) newSubscription(ref, customerRef string, priceRefs []string) *billing.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	end := now.AddDate(0, 1, 0)
	sub := &billing.Subscription{
		Ref:                ref,
		CustomerRef:        customerRef,
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &end,
	}
	for _, price := range priceRefs {
		sub.Items = append(sub.Items, billing.SubscriptionItem{Ref: f.nextRef("si"), PriceRef: price})
		if _, isPlan := f.catalog.PlanForPrice(price); isPlan && sub.PriceRef == "" {
			sub.PriceRef = price
		}
	}
	f.Subscriptions[ref] = sub
	return sub
}

func cloneBillingSubscription(sub *billing.Subscription) *billing.Subscription {
	if sub == nil {
		return nil
	}
	c := *sub
	c.Items = slices.Clone(sub.Items)
	c.Metadata = lo.Assign(sub.Metadata)
	return &c
}

func missing(kind, ref string) error {
	return ierr.NewError(kind+" not found").
		WithReportableDetails(map[string]any{"ref": ref}).
		Mark(ierr.ErrNotFound)
}
