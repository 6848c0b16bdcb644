package entitlement

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/flexprice/plancore/internal/config"
	domain "github.com/flexprice/plancore/internal/domain/entitlement"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(t *testing.T, baseURL string) domain.Gateway {
	cfg := config.GetDefaultConfig()
	cfg.Entitlement.BaseURL = baseURL
	cfg.Entitlement.APIKey = "secret"
	cfg.Entitlement.RetryMax = 0
	cfg.Entitlement.RateLimit = 0
	c := NewClient(cfg, logger.NewNoop())
	require.NoError(t, c.Open(context.Background()))
	return c
}

func TestUpsertContractSendsFullPayload(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK)
	c := newTestClient(t, srv.URL)

	err := c.UpsertContract(context.Background(), "user_1", "beatmaker", "PRO", []string{"promotedBeat"})
	require.NoError(t, err)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/v1/contracts/user_1", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)

	var contract domain.Contract
	require.NoError(t, json.Unmarshal(req.Body, &contract))
	assert.Equal(t, "PRO", contract.Plan)
	assert.Equal(t, []string{"promotedBeat"}, contract.AddonNames)
}

func TestUpdateContractSendsEmptyAddonList(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK)
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.UpdateContract(context.Background(), "user_1", "FREE", nil))
	assert.JSONEq(t, `{"user_id":"user_1","plan":"FREE","addon_names":[]}`, string((*seen)[0].Body))
}

func TestDeleteContractIgnoresNotFound(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound)
	c := newTestClient(t, srv.URL)

	assert.NoError(t, c.DeleteContract(context.Background(), "user_1"))
}

func TestServerErrorSurfacesAsHTTPClientError(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusServiceUnavailable)
	c := newTestClient(t, srv.URL)

	err := c.DowngradeToFree(context.Background(), "user_1")
	require.Error(t, err)
	assert.True(t, ierr.IsHTTPClient(err))
	assert.Equal(t, "/v1/contracts/user_1/downgrade", (*seen)[0].Path)
}
