package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/retry"
)

func testPolicy() *retry.Policy {
	return retry.NewPolicy(time.Millisecond, 2, nil)
}

func newCatalogue(t *testing.T, h http.HandlerFunc) *CatalogueClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewCatalogueClient(&config.CatalogueConfig{BaseURL: srv.URL, APIKey: "key", Timeout: 5 * time.Second}, testPolicy())
}

func TestCatalogue_GetProductsSince(t *testing.T) {
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	c := newCatalogue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/products/s63", r.URL.Path)
		assert.Equal(t, "2024-02-01T00:00:00Z", r.URL.Query().Get("sinceDateTime"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"products": []model.Product{{Name: "GB123456", Edition: 3, Update: 1}},
		})
	})

	res, err := c.GetProductsSince(context.Background(), model.DataStandardS63, since)
	require.NoError(t, err)
	assert.Equal(t, CatalogueOK, res.Status)
	require.Len(t, res.Products, 1)
	assert.Equal(t, "GB123456", res.Products[0].Name)
	assert.True(t, res.LastModified.Equal(modified))
}

func TestCatalogue_NotModified(t *testing.T) {
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	c := newCatalogue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	})

	res, err := c.GetProductsSince(context.Background(), model.DataStandardS100, since)
	require.NoError(t, err)
	assert.Equal(t, CatalogueNotModified, res.Status)
	assert.Empty(t, res.Products)
	assert.True(t, res.LastModified.IsZero())
}

func TestCatalogue_MissingLastModifiedIsNotTheWatermark(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newCatalogue(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"products": []model.Product{{Name: "GB123456", Edition: 3, Update: 2}},
		})
	})

	res, err := c.GetProductsSince(context.Background(), model.DataStandardS63, since)
	require.NoError(t, err)
	assert.Equal(t, CatalogueOK, res.Status)
	assert.True(t, res.LastModified.IsZero(), "got %s", res.LastModified)
}

func TestCatalogue_ErrorAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newCatalogue(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res, err := c.GetProductsSince(context.Background(), model.DataStandardS57, time.Time{})
	require.Error(t, err)
	assert.Equal(t, CatalogueError, res.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCatalogue_GetProductNames(t *testing.T) {
	c := newCatalogue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/products/s100/productNames", r.URL.Path)
		var names []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&names))
		assert.Equal(t, []string{"101GB0001", "101GB0002"}, names)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"products": []model.Product{{Name: "101GB0001", Edition: 1}},
			"productCounts": map[string]any{
				"requestedProductCount": 2,
				"returnedProductCount":  1,
				"requestedProductsNotReturned": []map[string]string{
					{"productName": "101GB0002", "reason": "noDataAvailableForCancelledProduct"},
				},
			},
		})
	})

	res, err := c.GetProductNames(context.Background(), model.DataStandardS100, []string{"101GB0001", "101GB0002"})
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	assert.Equal(t, 2, res.CountSummary.RequestedProductCount)
	require.Len(t, res.CountSummary.RequestedProductsNotReturned, 1)
	assert.Equal(t, "101GB0002", res.CountSummary.RequestedProductsNotReturned[0].ProductName)
}
