// Package client provides a Go SDK for talking to a single KV store node.
//
// Big idea:
//
// Instead of opening a socket and hand-rolling line-delimited JSON
// everywhere, we wrap that inside a clean Go API.
//
// So instead of:
//
//	conn, _ := net.Dial("tcp", addr)
//	conn.Write(encodeRequest(...))
//
// Users can simply call:
//
//	client.Get(ctx, "key")
//	client.Set(ctx, "key", "value", false)
//
// This is called a "client library" or "SDK". It hides:
//   - socket lifecycle (one connection per request, closed afterward)
//   - line-delimited JSON encoding/decoding
//   - error-token translation
//
// And exposes a clean Go interface.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client represents a connection to ONE KV node.
//
// Important:
//
// This client talks to a single node over its TCP client port. That node is
// responsible for coordinating replication and talking to other nodes; this
// client does not implement any distributed logic itself.
type Client struct {
	addr    string
	timeout time.Duration
}

// New creates a new Client. addr is a host:port pair, e.g. "127.0.0.1:9999".
// timeout protects every request from hanging forever; in distributed
// systems you never call the network without one.
func New(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

// request dials a fresh connection, writes one request line, and reads
// exactly one response line back, per the wire protocol (one JSON object
// terminated by '\n' each way). One connection per request mirrors the
// reference client: there is no connection pool to reason about.
func (c *Client) request(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	req := map[string]any{"method": method}
	for k, v := range fields {
		req[k] = v
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without a response")
	}

	var resp map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func asOK(resp map[string]any) bool {
	ok, _ := resp["ok"].(bool)
	return ok
}

func errorOf(resp map[string]any, fallback string) error {
	if msg, ok := resp["error"].(string); ok && msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s", fallback)
}

// Get retrieves the value stored for key. It returns (nil, false, nil) if
// the key does not exist, distinguishing that from a stored JSON null via
// the wire protocol's value-field presence convention.
func (c *Client) Get(ctx context.Context, key string) (any, bool, error) {
	resp, err := c.request(ctx, "get", map[string]any{"key": key})
	if err != nil {
		return nil, false, err
	}
	if !asOK(resp) {
		return nil, false, errorOf(resp, "get failed")
	}
	value, present := resp["value"]
	return value, present, nil
}

// Set stores key=value on the node. debugSimulateFail asks the server to
// exercise its snapshot-skip failure path for this write, for tests only.
func (c *Client) Set(ctx context.Context, key string, value any, debugSimulateFail bool) error {
	resp, err := c.request(ctx, "set", map[string]any{
		"key": key, "value": value, "debug_simulate_fail": debugSimulateFail,
	})
	if err != nil {
		return err
	}
	if !asOK(resp) {
		return errorOf(resp, "set failed")
	}
	return nil
}

// Delete removes key. A delete of an absent key still succeeds.
func (c *Client) Delete(ctx context.Context, key string, debugSimulateFail bool) error {
	resp, err := c.request(ctx, "delete", map[string]any{
		"key": key, "debug_simulate_fail": debugSimulateFail,
	})
	if err != nil {
		return err
	}
	if !asOK(resp) {
		return errorOf(resp, "delete failed")
	}
	return nil
}

// KV is one (key, value) pair for BulkSet.
type KV struct {
	Key   string
	Value any
}

// BulkSet applies every pair atomically. An empty slice is a no-op.
func (c *Client) BulkSet(ctx context.Context, items []KV, debugSimulateFail bool) error {
	if len(items) == 0 {
		return nil
	}
	wire := make([][2]any, len(items))
	for i, item := range items {
		wire[i] = [2]any{item.Key, item.Value}
	}
	resp, err := c.request(ctx, "bulk_set", map[string]any{
		"items": wire, "debug_simulate_fail": debugSimulateFail,
	})
	if err != nil {
		return err
	}
	if !asOK(resp) {
		return errorOf(resp, "bulk_set failed")
	}
	return nil
}

// Search runs a full-text AND query over stored values, returning matching
// keys. Returns an empty slice (not an error) if the server has indexes
// disabled.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	resp, err := c.request(ctx, "search", map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	if !asOK(resp) {
		return nil, errorOf(resp, "search failed")
	}
	return toStringSlice(resp["value"]), nil
}

// SearchResult is one (key, score) pair from SearchSimilar.
type SearchResult struct {
	Key   string
	Score float64
}

// SearchSimilar runs a bag-of-words similarity query, returning up to topK
// results ordered by descending score.
func (c *Client) SearchSimilar(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	resp, err := c.request(ctx, "search_similar", map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, err
	}
	if !asOK(resp) {
		return nil, errorOf(resp, "search_similar failed")
	}
	raw, _ := resp["value"].([]any)
	results := make([]SearchResult, 0, len(raw))
	for _, r := range raw {
		pair, ok := r.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		key, _ := pair[0].(string)
		score, _ := pair[1].(float64)
		results = append(results, SearchResult{Key: key, Score: score})
	}
	return results, nil
}

// Role reports whether this node currently considers itself primary.
func (c *Client) Role(ctx context.Context) (isPrimary bool, nodeID int, err error) {
	resp, err := c.request(ctx, "role", nil)
	if err != nil {
		return false, 0, err
	}
	if !asOK(resp) {
		return false, 0, errorOf(resp, "role failed")
	}
	isPrimary, _ = resp["primary"].(bool)
	if n, ok := resp["node_id"].(float64); ok {
		nodeID = int(n)
	}
	return isPrimary, nodeID, nil
}

func toStringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
