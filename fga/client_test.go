package fga

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/internal/config"
)

// fakeBackend records write batches and serves canned check/read responses.
type fakeBackend struct {
	writeBatches  [][]Tuple
	deleteBatches [][]Tuple
	allowed       map[string]bool // "user|relation|object" -> allowed
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stores/test-store/write", func(w http.ResponseWriter, r *http.Request) {
		var req writeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Writes != nil {
			f.writeBatches = append(f.writeBatches, req.Writes.TupleKeys)
		}
		if req.Deletes != nil {
			f.deleteBatches = append(f.deleteBatches, req.Deletes.TupleKeys)
		}
		fmt.Fprint(w, "{}")
	})
	mux.HandleFunc("/stores/test-store/check", func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		key := req.TupleKey.User + "|" + req.TupleKey.Relation + "|" + req.TupleKey.Object
		_ = json.NewEncoder(w).Encode(checkResponse{Allowed: f.allowed[key]})
	})
	return mux
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{APIURL: srv.URL, StoreID: "test-store", ModelID: "test-model"})
}

func makeTuples(n int) []Tuple {
	tuples := make([]Tuple, n)
	for i := range tuples {
		tuples[i] = Tuple{User: "user:" + strconv.Itoa(i), Relation: "member", Object: "org:1"}
	}
	return tuples
}

func TestWriteTuplesBatching(t *testing.T) {
	cases := []struct {
		n           int
		wantBatches []int
	}{
		{0, nil},
		{1, []int{1}},
		{10, []int{10}},
		{11, []int{10, 1}},
		{25, []int{10, 10, 5}},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.n), func(t *testing.T) {
			backend := &fakeBackend{}
			client := newTestClient(t, backend)

			err := client.WriteTuples(context.Background(), makeTuples(tc.n))
			require.NoError(t, err)

			var sizes []int
			var total int
			for _, b := range backend.writeBatches {
				sizes = append(sizes, len(b))
				total += len(b)
			}
			assert.Equal(t, tc.wantBatches, sizes)
			assert.Equal(t, tc.n, total)
		})
	}
}

func TestDeleteTuplesBatching(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(t, backend)

	err := client.DeleteTuples(context.Background(), makeTuples(11))
	require.NoError(t, err)

	require.Len(t, backend.deleteBatches, 2)
	assert.Len(t, backend.deleteBatches[0], 10)
	assert.Len(t, backend.deleteBatches[1], 1)
	assert.Empty(t, backend.writeBatches)
}

func TestWriteTxCombinesAddsAndRemoves(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(t, backend)

	writes := makeTuples(3)
	deletes := []Tuple{{User: "user:x", Relation: "admin", Object: "org:1"}}
	err := client.WriteTx(context.Background(), writes, deletes)
	require.NoError(t, err)

	// One call carrying both sides.
	require.Len(t, backend.writeBatches, 1)
	require.Len(t, backend.deleteBatches, 1)
	assert.Len(t, backend.writeBatches[0], 3)
	assert.Len(t, backend.deleteBatches[0], 1)
}

func TestWriteTxRejectsOversizedMutation(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})

	err := client.WriteTx(context.Background(), makeTuples(6), makeTuples(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-call limit")
}

func TestBatchCheckFansOut(t *testing.T) {
	backend := &fakeBackend{allowed: map[string]bool{
		"user:42|can_view|org:1": true,
		"user:42|can_edit|org:1": false,
		"user:42|member|org:1":   true,
	}}
	client := newTestClient(t, backend)

	results, err := client.BatchCheck(context.Background(), "user:42", []CheckItem{
		{Relation: "can_view", Object: "org:1"},
		{Relation: "can_edit", Object: "org:1"},
		{Relation: "member", Object: "org:1"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		"can_view:org:1": true,
		"can_edit:org:1": false,
		"member:org:1":   true,
	}, results)
}

func TestReadTuplesDrainsPagination(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stores/test-store/read", r.URL.Path)
		var req readRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		page++
		switch page {
		case 1:
			assert.Empty(t, req.ContinuationToken)
			fmt.Fprint(w, `{"tuples":[{"key":{"user":"user:1","relation":"member","object":"org:1"}}],"continuation_token":"next"}`)
		default:
			assert.Equal(t, "next", req.ContinuationToken)
			fmt.Fprint(w, `{"tuples":[{"key":{"user":"user:2","relation":"member","object":"org:1"}}],"continuation_token":""}`)
		}
	}))
	defer srv.Close()
	client := NewClient(Config{APIURL: srv.URL, StoreID: "test-store", ModelID: "test-model"})

	tuples, err := client.ReadTuples(context.Background(), Tuple{Object: "org:1"})
	require.NoError(t, err)

	assert.Equal(t, 2, page)
	assert.Equal(t, []Tuple{
		{User: "user:1", Relation: "member", Object: "org:1"},
		{User: "user:2", Relation: "member", Object: "org:1"},
	}, tuples)
}

func TestBootstrapCreatesStoreAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stores":
			fmt.Fprint(w, `{"id":"new-store"}`)
		case "/stores/new-store/authorization-models":
			var model map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&model))
			assert.Equal(t, "1.1", model["schema_version"])
			fmt.Fprint(w, `{"authorization_model_id":"new-model"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{APIURL: srv.URL})
	require.NoError(t, client.Init(context.Background()))

	assert.Equal(t, "new-store", client.StoreID())
	assert.Equal(t, "new-model", client.ModelID())
}

func TestSharedRetriesAfterFailedInit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ResetShared()
	t.Cleanup(ResetShared)
	config.App.FGA = config.FGAConfig{APIURL: srv.URL, StoreID: "pinned-store", ModelID: "pinned-model"}

	_, err := Shared(context.Background())
	require.Error(t, err, "first init must fail")

	client, err := Shared(context.Background())
	require.NoError(t, err, "failed init must not poison the singleton")
	assert.Equal(t, "pinned-store", client.StoreID())

	// Third call returns the cached instance without another health check.
	again, err := Shared(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, again)
	assert.Equal(t, int32(2), calls.Load())
}
