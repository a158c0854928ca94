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

// Batch status values
const (
	BatchStatusOpen      = "open"
	BatchStatusCommitted = "committed"
)

// Batch attribute keys written at creation and used by searches
const (
	attributeDataStandard  = "Data Standard"
	attributeCorrelationID = "Correlation Id"
)

// FileShareClient stages exchange set batches in the file share service
type FileShareClient struct {
	baseURL      string
	apiKey       string
	businessUnit string
	httpClient   *http.Client
}

// NewFileShareClient creates a file share client whose calls retry per policy
func NewFileShareClient(cfg *config.FileShareConfig, policy *retry.Policy) *FileShareClient {
	return &FileShareClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		businessUnit: cfg.BusinessUnit,
		httpClient:   retry.NewHTTPClient(policy, "fileshare", cfg.Timeout),
	}
}

// IsConfigured returns true if the client has a base URL
func (c *FileShareClient) IsConfigured() bool {
	return c.baseURL != ""
}

type batchAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type createBatchRequest struct {
	BusinessUnit string           `json:"businessUnit"`
	Attributes   []batchAttribute `json:"attributes"`
}

type createBatchResponse struct {
	BatchID string `json:"batchId"`
}

type searchBatchResponse struct {
	Entries []struct {
		BatchID string `json:"batchId"`
	} `json:"entries"`
}

type expiryRequest struct {
	ExpiryDate time.Time `json:"expiryDate"`
}

// CreateBatch opens a new batch and returns its id
func (c *FileShareClient) CreateBatch(ctx context.Context, correlationID string, standard model.DataStandard) (string, error) {
	payload := createBatchRequest{
		BusinessUnit: c.businessUnit,
		Attributes: []batchAttribute{
			{Key: attributeDataStandard, Value: standard.String()},
			{Key: attributeCorrelationID, Value: correlationID},
		},
	}

	var result createBatchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/batch", payload, &result, http.StatusCreated, http.StatusOK); err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}
	if result.BatchID == "" {
		return "", fmt.Errorf("failed to create batch: empty batch id")
	}
	return result.BatchID, nil
}

// AddFileToBatch uploads one file into an open batch
func (c *FileShareClient) AddFileToBatch(ctx context.Context, batchID string, content io.Reader, name, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", name, err)
	}

	path := fmt.Sprintf("/batch/%s/files/%s", url.PathEscape(batchID), url.PathEscape(name))
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	if err := c.do(req, nil, http.StatusCreated, http.StatusOK); err != nil {
		return fmt.Errorf("failed to add %s to batch %s: %w", name, batchID, err)
	}
	return nil
}

// CommitBatch makes a batch visible to consumers
func (c *FileShareClient) CommitBatch(ctx context.Context, batchID string) error {
	path := fmt.Sprintf("/batch/%s", url.PathEscape(batchID))
	if err := c.doJSON(ctx, http.MethodPut, path, struct{}{}, nil, http.StatusAccepted, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", batchID, err)
	}
	return nil
}

// SearchCommittedBatches returns committed batch ids of a standard, except excludeBatchID
func (c *FileShareClient) SearchCommittedBatches(ctx context.Context, standard model.DataStandard, excludeBatchID string) ([]string, error) {
	query := url.Values{}
	query.Set("businessUnit", c.businessUnit)
	query.Set("status", BatchStatusCommitted)
	query.Set("dataStandard", standard.String())

	var result searchBatchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/batch?"+query.Encode(), nil, &result, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to search batches: %w", err)
	}

	ids := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		if e.BatchID != "" && e.BatchID != excludeBatchID {
			ids = append(ids, e.BatchID)
		}
	}
	return ids, nil
}

// SetExpiryDate sets the expiry of every listed batch
func (c *FileShareClient) SetExpiryDate(ctx context.Context, batchIDs []string, expiry time.Time) error {
	for _, id := range batchIDs {
		path := fmt.Sprintf("/batch/%s/expiry", url.PathEscape(id))
		if err := c.doJSON(ctx, http.MethodPut, path, expiryRequest{ExpiryDate: expiry.UTC()}, nil, http.StatusNoContent, http.StatusOK); err != nil {
			return fmt.Errorf("failed to set expiry on batch %s: %w", id, err)
		}
	}
	return nil
}

func (c *FileShareClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *FileShareClient) doJSON(ctx context.Context, method, path string, payload, out any, accept ...int) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out, accept...)
}

func (c *FileShareClient) do(req *http.Request, out any, accept ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("file share error (status %d): %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
