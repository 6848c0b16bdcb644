package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/flexprice/plancore/internal/domain/entitlement"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/types"
)

// EntitlementCall is one recorded call to the entitlement service
type EntitlementCall struct {
	Operation  types.EntitlementOperation
	UserID     string
	Username   string
	Plan       string
	AddonNames []string
}

// FakeEntitlementGateway records entitlement calls and keeps the resulting contracts
type FakeEntitlementGateway struct {
	mu sync.Mutex

	// Fail makes every call return an error until cleared
	Fail      bool
	Calls     []EntitlementCall
	Contracts map[string]*entitlement.Contract
	open      bool
}

var _ entitlement.Gateway = (*FakeEntitlementGateway)(nil)

func NewFakeEntitlementGateway() *FakeEntitlementGateway {
	return &FakeEntitlementGateway{
		Contracts: make(map[string]*entitlement.Contract),
	}
}

func (f *FakeEntitlementGateway) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = fail
}

// CallsFor returns the calls made for userID in order
func (f *FakeEntitlementGateway) CallsFor(userID string) []EntitlementCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []EntitlementCall
	for _, c := range f.Calls {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result
}

// Contract returns a copy of the contract held for userID
func (f *FakeEntitlementGateway) Contract(userID string) (*entitlement.Contract, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Contracts[userID]
	if !ok {
		return nil, false
	}
	cp := *c
	cp.AddonNames = slices.Clone(c.AddonNames)
	return &cp, true
}

func (f *FakeEntitlementGateway) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *FakeEntitlementGateway) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *FakeEntitlementGateway) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeEntitlementGateway) record(call EntitlementCall) error {
	f.Calls = append(f.Calls, call)
	if f.Fail {
		return ierr.NewError("entitlement service unavailable").Mark(ierr.ErrHTTPClient)
	}
	return nil
}

func (f *FakeEntitlementGateway) UpsertContract(ctx context.Context, userID, username, plan string, addonNames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(EntitlementCall{Operation: types.EntitlementOperationUpsert, UserID: userID, Username: username, Plan: plan, AddonNames: slices.Clone(addonNames)}); err != nil {
		return err
	}
	f.Contracts[userID] = &entitlement.Contract{UserID: userID, Username: username, Plan: plan, AddonNames: slices.Clone(addonNames)}
	return nil
}

func (f *FakeEntitlementGateway) UpdateContract(ctx context.Context, userID, plan string, addonNames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(EntitlementCall{Operation: types.EntitlementOperationUpdate, UserID: userID, Plan: plan, AddonNames: slices.Clone(addonNames)}); err != nil {
		return err
	}
	c, ok := f.Contracts[userID]
	if !ok {
		c = &entitlement.Contract{UserID: userID}
		f.Contracts[userID] = c
	}
	c.Plan = plan
	c.AddonNames = slices.Clone(addonNames)
	return nil
}

func (f *FakeEntitlementGateway) DowngradeToFree(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(EntitlementCall{Operation: types.EntitlementOperationDowngrade, UserID: userID}); err != nil {
		return err
	}
	c, ok := f.Contracts[userID]
	if !ok {
		c = &entitlement.Contract{UserID: userID}
		f.Contracts[userID] = c
	}
	c.Plan = "FREE"
	c.AddonNames = []string{}
	return nil
}

func (f *FakeEntitlementGateway) DeleteContract(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(EntitlementCall{Operation: types.EntitlementOperationDelete, UserID: userID}); err != nil {
		return err
	}
	delete(f.Contracts, userID)
	return nil
}
