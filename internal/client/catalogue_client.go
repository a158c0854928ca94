package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/retry"
)

// CatalogueStatus is the outcome of an incremental catalogue query
type CatalogueStatus string

const (
	CatalogueOK          CatalogueStatus = "ok"
	CatalogueNotModified CatalogueStatus = "notModified"
	CatalogueError       CatalogueStatus = "error"
)

// ProductsSinceResult is returned by GetProductsSince
type ProductsSinceResult struct {
	Status       CatalogueStatus
	Products     []model.Product
	LastModified time.Time
}

// NotReturnedProduct is a requested product the catalogue could not supply
type NotReturnedProduct struct {
	ProductName string `json:"productName"`
	Reason      string `json:"reason"`
}

// CountSummary describes how a product name request was satisfied
type CountSummary struct {
	RequestedProductCount        int                  `json:"requestedProductCount"`
	ReturnedProductCount         int                  `json:"returnedProductCount"`
	RequestedProductsNotReturned []NotReturnedProduct `json:"requestedProductsNotReturned,omitempty"`
}

// ProductNamesResult is returned by GetProductNames
type ProductNamesResult struct {
	Products     []model.Product `json:"products"`
	CountSummary CountSummary    `json:"productCounts"`
}

// CatalogueClient queries the product catalogue over HTTP
type CatalogueClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCatalogueClient creates a catalogue client whose calls retry per policy
func NewCatalogueClient(cfg *config.CatalogueConfig, policy *retry.Policy) *CatalogueClient {
	return &CatalogueClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: retry.NewHTTPClient(policy, "catalogue", cfg.Timeout),
	}
}

// IsConfigured returns true if the client has a base URL
func (c *CatalogueClient) IsConfigured() bool {
	return c.baseURL != ""
}

type productsResponse struct {
	Products []model.Product `json:"products"`
}

// GetProductsSince returns products changed after since. A zero since asks
// for the full catalogue.
func (c *CatalogueClient) GetProductsSince(ctx context.Context, standard model.DataStandard, since time.Time) (*ProductsSinceResult, error) {
	endpoint := fmt.Sprintf("%s/v2/products/%s", c.baseURL, url.PathEscape(standard.String()))
	if !since.IsZero() {
		endpoint += "?sinceDateTime=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProductsSinceResult{Status: CatalogueError}, fmt.Errorf("catalogue request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &ProductsSinceResult{Status: CatalogueNotModified, LastModified: lastModified(resp)}, nil
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &ProductsSinceResult{Status: CatalogueError}, fmt.Errorf("catalogue error (status %d): %s", resp.StatusCode, string(body))
	}

	var result productsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &ProductsSinceResult{Status: CatalogueError}, fmt.Errorf("failed to decode products: %w", err)
	}

	return &ProductsSinceResult{
		Status:       CatalogueOK,
		Products:     result.Products,
		LastModified: lastModified(resp),
	}, nil
}

// GetProductNames returns the latest editions of the named products
func (c *CatalogueClient) GetProductNames(ctx context.Context, standard model.DataStandard, names []string) (*ProductNamesResult, error) {
	body, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal product names: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/products/%s/productNames", c.baseURL, url.PathEscape(standard.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalogue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("catalogue error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result ProductNamesResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return &result, nil
}

func (c *CatalogueClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// lastModified is zero when the catalogue sent no usable Last-Modified
func lastModified(resp *http.Response) time.Time {
	if v := resp.Header.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
