// Package protocol defines the TCP wire protocol and the per-connection
// request server: one JSON object per line in, one JSON object per line
// out (spec section 6). It is the seam between raw sockets and the storage
// engine/cluster subsystems.
package protocol

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Known error tokens (spec section 7). These strings are part of the wire
// contract; never change them without a protocol version bump.
const (
	ErrMissingKey = "missing key"
	ErrInvalidReq = "invalid request"
	ErrNotPrimary = "not primary"
	errUnknownFmt = "unknown method: %s"
)

// Request is the decoded shape of one inbound request line. Fields are
// validated per-method by the dispatcher, not here: a malformed request line
// is the only failure this type itself reports.
type Request struct {
	Method            string `json:"method"`
	Key               string `json:"key,omitempty"`
	Value             any    `json:"value,omitempty"`
	Items             []Pair `json:"items,omitempty"`
	Query             string `json:"query,omitempty"`
	TopK              int    `json:"top_k,omitempty"`
	DebugSimulateFail bool   `json:"debug_simulate_fail,omitempty"`

	hasKey bool
}

// Pair is the wire shape of one bulk_set item: a two-element [key, value]
// array (spec section 4.2/6).
type Pair struct {
	Key   string
	Value any
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var pair [2]any
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	key, _ := pair[0].(string)
	p.Key = key
	p.Value = pair[1]
	return nil
}

// decodeRequest parses one wire line. It also records, via a raw map probe,
// whether "key" was present at all so the dispatcher can distinguish an
// absent field from the empty string (spec section 4.1: empty-string keys
// are allowed, so "key":"" must not be treated as missing).
func decodeRequest(line []byte) (Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Request{}, err
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, err
	}
	_, req.hasKey = raw["key"]
	return req, nil
}

// Response is the encoded shape of one outbound response line. Exactly one
// of Value/Primary+NodeID/Error is meaningful, selected by the method that
// produced it; ok mirrors success/failure (spec section 6).
type Response struct {
	OK      bool   `json:"ok"`
	Value   any    `json:"value,omitempty"`
	Primary bool   `json:"primary,omitempty"`
	NodeID  int    `json:"node_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func okResponse(value any) Response {
	return Response{OK: true, Value: value}
}

func errResponse(token string) Response {
	return Response{OK: false, Error: token}
}

func encodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeGetResponse builds the "get" success response. Unlike the generic
// Response type, this must distinguish an absent key (no "value" field at
// all) from a present key holding JSON null ("value":null) — spec section 6.
// A plain map marshal gives us that for free: map encoding never applies
// omitempty, so a nil entry still serializes as null.
func encodeGetResponse(found bool, value any) ([]byte, error) {
	resp := map[string]any{"ok": true}
	if found {
		resp["value"] = value
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
