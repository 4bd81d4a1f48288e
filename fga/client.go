// Package fga is the HTTP client for the relationship-based authorization
// backend (an OpenFGA-compatible tuple store). It owns the store/model
// bootstrap lifecycle and exposes check/write/delete/read/list primitives.
package fga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxWriteBatch is the backend's limit on tuple mutations per write call.
// Larger lists are split into consecutive chunks of this size; each chunk is
// all-or-nothing but there is no cross-chunk atomicity.
const maxWriteBatch = 10

// readPageSize is the page size used when draining paginated read results.
const readPageSize = 50

// Tuple is one relationship fact: (user, relation, object).
// User is "type:id" or a userset "type:id#relation"; Object is "type:id".
type Tuple struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// CheckItem is one (relation, object) pair for BatchCheck.
type CheckItem struct {
	Relation string
	Object   string
}

// Config points the client at the backend. Empty StoreID/ModelID triggers
// bootstrap on Init.
type Config struct {
	APIURL  string
	StoreID string
	ModelID string
}

// Client talks to the tuple store. After Init it is safe for concurrent use;
// StoreID/ModelID are set once and never mutated afterwards.
type Client struct {
	apiURL     string
	storeID    string
	modelID    string
	httpClient *http.Client
}

// NewClient creates a tuple-store client. Call Init before use.
func NewClient(cfg Config) *Client {
	return &Client{
		apiURL:  cfg.APIURL,
		storeID: cfg.StoreID,
		modelID: cfg.ModelID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StoreID returns the store id the client is bound to.
func (c *Client) StoreID() string { return c.storeID }

// ModelID returns the authorization model id the client is bound to.
func (c *Client) ModelID() string { return c.modelID }

// Init attaches to the pre-provisioned store/model when both ids are
// configured, otherwise bootstraps a new store and authorization model. The
// resulting ids are logged so operators can pin them in configuration and skip
// bootstrap on future runs.
func (c *Client) Init(ctx context.Context) error {
	if c.storeID != "" && c.modelID != "" {
		return c.HealthCheck(ctx)
	}
	return c.bootstrap(ctx)
}

type createStoreRequest struct {
	Name string `json:"name"`
}

type createStoreResponse struct {
	ID string `json:"id"`
}

type writeModelResponse struct {
	AuthorizationModelID string `json:"authorization_model_id"`
}

func (c *Client) bootstrap(ctx context.Context) error {
	var store createStoreResponse
	if err := c.post(ctx, "/stores", createStoreRequest{Name: "envhub"}, &store); err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	c.storeID = store.ID

	var model writeModelResponse
	if err := c.post(ctx, "/stores/"+c.storeID+"/authorization-models", json.RawMessage(authorizationModel), &model); err != nil {
		return fmt.Errorf("write authorization model: %w", err)
	}
	c.modelID = model.AuthorizationModelID

	logBootstrap(c.storeID, c.modelID)
	return nil
}

type checkRequest struct {
	TupleKey             Tuple  `json:"tuple_key"`
	AuthorizationModelID string `json:"authorization_model_id,omitempty"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// Check answers whether user has relation on object.
func (c *Client) Check(ctx context.Context, user, relation, object string) (bool, error) {
	req := checkRequest{
		TupleKey:             Tuple{User: user, Relation: relation, Object: object},
		AuthorizationModelID: c.modelID,
	}
	var resp checkResponse
	if err := c.post(ctx, "/stores/"+c.storeID+"/check", req, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// BatchCheck fans out one Check per item in parallel and assembles the results
// into a map keyed "relation:object". The backend has no batch-check
// primitive; these are N independent point queries.
func (c *Client) BatchCheck(ctx context.Context, user string, items []CheckItem) (map[string]bool, error) {
	results := make(map[string]bool, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			allowed, err := c.Check(gctx, user, item.Relation, item.Object)
			if err != nil {
				return err
			}
			mu.Lock()
			results[item.Relation+":"+item.Object] = allowed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type tupleKeys struct {
	TupleKeys []Tuple `json:"tuple_keys"`
}

type writeRequest struct {
	Writes               *tupleKeys `json:"writes,omitempty"`
	Deletes              *tupleKeys `json:"deletes,omitempty"`
	AuthorizationModelID string     `json:"authorization_model_id,omitempty"`
}

// WriteTuples adds tuples, splitting into chunks of at most 10 mutations per
// call. A failure partway leaves earlier chunks committed.
func (c *Client) WriteTuples(ctx context.Context, tuples []Tuple) error {
	for _, chunk := range chunkTuples(tuples) {
		req := writeRequest{Writes: &tupleKeys{TupleKeys: chunk}, AuthorizationModelID: c.modelID}
		if err := c.post(ctx, "/stores/"+c.storeID+"/write", req, nil); err != nil {
			return fmt.Errorf("write tuples: %w", err)
		}
	}
	return nil
}

// DeleteTuples removes tuples with the same chunking behavior as WriteTuples.
func (c *Client) DeleteTuples(ctx context.Context, tuples []Tuple) error {
	for _, chunk := range chunkTuples(tuples) {
		req := writeRequest{Deletes: &tupleKeys{TupleKeys: chunk}, AuthorizationModelID: c.modelID}
		if err := c.post(ctx, "/stores/"+c.storeID+"/write", req, nil); err != nil {
			return fmt.Errorf("delete tuples: %w", err)
		}
	}
	return nil
}

// WriteTx applies adds and removes in a single call, for replace flows that
// must avoid the race window of separate write+delete calls. The combined
// mutation count must fit the backend's per-call limit.
func (c *Client) WriteTx(ctx context.Context, writes, deletes []Tuple) error {
	if len(writes)+len(deletes) > maxWriteBatch {
		return fmt.Errorf("write tx: %d mutations exceed the per-call limit of %d", len(writes)+len(deletes), maxWriteBatch)
	}
	req := writeRequest{AuthorizationModelID: c.modelID}
	if len(writes) > 0 {
		req.Writes = &tupleKeys{TupleKeys: writes}
	}
	if len(deletes) > 0 {
		req.Deletes = &tupleKeys{TupleKeys: deletes}
	}
	if req.Writes == nil && req.Deletes == nil {
		return nil
	}
	if err := c.post(ctx, "/stores/"+c.storeID+"/write", req, nil); err != nil {
		return fmt.Errorf("write tx: %w", err)
	}
	return nil
}

func chunkTuples(tuples []Tuple) [][]Tuple {
	var chunks [][]Tuple
	for len(tuples) > 0 {
		n := len(tuples)
		if n > maxWriteBatch {
			n = maxWriteBatch
		}
		chunks = append(chunks, tuples[:n])
		tuples = tuples[n:]
	}
	return chunks
}

type listObjectsRequest struct {
	Type                 string `json:"type"`
	Relation             string `json:"relation"`
	User                 string `json:"user"`
	AuthorizationModelID string `json:"authorization_model_id,omitempty"`
}

type listObjectsResponse struct {
	Objects []string `json:"objects"`
}

// ListObjects returns every object of objectType the user has relation on,
// sorted for deterministic output.
func (c *Client) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	req := listObjectsRequest{
		Type:                 objectType,
		Relation:             relation,
		User:                 user,
		AuthorizationModelID: c.modelID,
	}
	var resp listObjectsResponse
	if err := c.post(ctx, "/stores/"+c.storeID+"/list-objects", req, &resp); err != nil {
		return nil, err
	}
	sort.Strings(resp.Objects)
	return resp.Objects, nil
}

type readRequest struct {
	TupleKey          *Tuple `json:"tuple_key,omitempty"`
	PageSize          int    `json:"page_size,omitempty"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

type readResponse struct {
	Tuples []struct {
		Key Tuple `json:"key"`
	} `json:"tuples"`
	ContinuationToken string `json:"continuation_token"`
}

// ReadTuples returns every tuple matching the partial key (empty fields are
// wildcards), draining all result pages.
func (c *Client) ReadTuples(ctx context.Context, partial Tuple) ([]Tuple, error) {
	var all []Tuple
	token := ""
	for {
		req := readRequest{PageSize: readPageSize, ContinuationToken: token}
		if partial != (Tuple{}) {
			k := partial
			req.TupleKey = &k
		}
		var resp readResponse
		if err := c.post(ctx, "/stores/"+c.storeID+"/read", req, &resp); err != nil {
			return nil, err
		}
		for _, t := range resp.Tuples {
			all = append(all, t.Key)
		}
		if resp.ContinuationToken == "" {
			return all, nil
		}
		token = resp.ContinuationToken
	}
}

// HealthCheck verifies the backend is reachable and serving.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tuple store unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tuple store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a JSON POST and decodes the response into out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tuple store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tuple store returned %d for %s: %s", resp.StatusCode, path, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
