package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	discoveryAttempts = 10
	discoveryBackoff  = 500 * time.Millisecond
	discoveryTimeout  = 2 * time.Second
)

// ClusterClient discovers the current primary among a fixed set of client
// ports and routes every request to it, re-discovering once on a
// "not primary" response (spec section 7: "on not primary, the client
// clears its cached primary and re-discovers once, then retries the
// request").
type ClusterClient struct {
	host    string
	ports   []int
	timeout time.Duration

	mu            sync.Mutex
	primaryPort   int
	primaryCached bool
}

// NewClusterClient creates a ClusterClient for a cluster whose nodes all
// listen on host and the given client ports.
func NewClusterClient(host string, ports []int, timeout time.Duration) *ClusterClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ClusterClient{host: host, ports: append([]int(nil), ports...), timeout: timeout}
}

// discoverPrimary asks "role" of every known port, retrying the whole sweep
// up to discoveryAttempts times with a pause between sweeps, so a caller
// started concurrently with cluster startup does not have to poll itself.
func (cc *ClusterClient) discoverPrimary(ctx context.Context) (int, error) {
	for attempt := 0; attempt < discoveryAttempts; attempt++ {
		for _, port := range cc.ports {
			probeCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
			c := New(fmt.Sprintf("%s:%d", cc.host, port), discoveryTimeout)
			isPrimary, _, err := c.Role(probeCtx)
			cancel()
			if err != nil {
				continue
			}
			if isPrimary {
				return port, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(discoveryBackoff):
		}
	}
	return 0, fmt.Errorf("no primary found in cluster")
}

func (cc *ClusterClient) primary(ctx context.Context) (int, error) {
	cc.mu.Lock()
	if cc.primaryCached {
		port := cc.primaryPort
		cc.mu.Unlock()
		return port, nil
	}
	cc.mu.Unlock()

	port, err := cc.discoverPrimary(ctx)
	if err != nil {
		return 0, err
	}
	cc.mu.Lock()
	cc.primaryPort = port
	cc.primaryCached = true
	cc.mu.Unlock()
	return port, nil
}

func (cc *ClusterClient) forgetPrimary() {
	cc.mu.Lock()
	cc.primaryCached = false
	cc.mu.Unlock()
}

// do runs fn against the currently cached primary, and on a "not primary"
// error clears the cache and retries exactly once against a freshly
// discovered primary.
func (cc *ClusterClient) do(ctx context.Context, fn func(*Client) error) error {
	port, err := cc.primary(ctx)
	if err != nil {
		return err
	}
	err = fn(New(fmt.Sprintf("%s:%d", cc.host, port), cc.timeout))
	if err == nil {
		return nil
	}
	if err.Error() != "not primary" {
		return err
	}
	cc.forgetPrimary()
	port, err = cc.primary(ctx)
	if err != nil {
		return err
	}
	return fn(New(fmt.Sprintf("%s:%d", cc.host, port), cc.timeout))
}

// Get retrieves the value stored for key from the current primary.
func (cc *ClusterClient) Get(ctx context.Context, key string) (value any, found bool, err error) {
	err = cc.do(ctx, func(c *Client) error {
		v, f, e := c.Get(ctx, key)
		value, found = v, f
		return e
	})
	return value, found, err
}

// Set stores key=value via the current primary.
func (cc *ClusterClient) Set(ctx context.Context, key string, value any, debugSimulateFail bool) error {
	return cc.do(ctx, func(c *Client) error {
		return c.Set(ctx, key, value, debugSimulateFail)
	})
}

// Delete removes key via the current primary.
func (cc *ClusterClient) Delete(ctx context.Context, key string, debugSimulateFail bool) error {
	return cc.do(ctx, func(c *Client) error {
		return c.Delete(ctx, key, debugSimulateFail)
	})
}

// BulkSet applies items atomically via the current primary.
func (cc *ClusterClient) BulkSet(ctx context.Context, items []KV, debugSimulateFail bool) error {
	return cc.do(ctx, func(c *Client) error {
		return c.BulkSet(ctx, items, debugSimulateFail)
	})
}
