package fga

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/envhub/envhub/internal/config"
)

var (
	sharedMu     sync.Mutex
	sharedClient *Client
	initGroup    singleflight.Group
)

// Shared returns the process-wide tuple-store client, initializing it on first
// use. Concurrent callers during initialization await the same in-flight
// attempt. A failed initialization caches nothing, so the next caller retries
// cleanly instead of seeing a poisoned handle.
func Shared(ctx context.Context) (*Client, error) {
	sharedMu.Lock()
	c := sharedClient
	sharedMu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := initGroup.Do("fga-client", func() (any, error) {
		client := NewClient(Config{
			APIURL:  config.App.FGA.APIURL,
			StoreID: config.App.FGA.StoreID,
			ModelID: config.App.FGA.ModelID,
		})
		if err := client.Init(ctx); err != nil {
			return nil, err
		}
		sharedMu.Lock()
		sharedClient = client
		sharedMu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// ResetShared clears the singleton. Only for tests.
func ResetShared() {
	sharedMu.Lock()
	sharedClient = nil
	sharedMu.Unlock()
}
