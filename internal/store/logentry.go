package store

import jsoniter "github.com/json-iterator/go"

// json is configured to match encoding/json's field tags and number
// handling; we use it in place of encoding/json throughout the store and
// wire codecs because it is the JSON library the rest of this corpus
// reaches for on the hot path (WAL append, snapshot write, protocol
// decode) rather than the stdlib encoder.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Op identifies the kind of mutation a LogEntry records.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
	OpBulk   Op = "bulk"
)

// KV is one (key, value) pair inside a bulk record. It marshals as a
// two-element JSON array, matching the wire format in spec section 4.2.
type KV struct {
	Key   string
	Value any
}

func (p KV) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

func (p *KV) UnmarshalJSON(data []byte) error {
	var pair [2]any
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	key, _ := pair[0].(string)
	p.Key = key
	p.Value = pair[1]
	return nil
}

// LogEntry is a single self-delimiting WAL line. Op selects which fields
// are meaningful: Key and Value for set, Key for delete, Items for bulk.
type LogEntry struct {
	Op    Op     `json:"op"`
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
	Items []KV   `json:"items,omitempty"`
}

// NewSetEntry builds a "set" log entry.
func NewSetEntry(key string, value any) LogEntry {
	return LogEntry{Op: OpSet, Key: key, Value: value}
}

// NewDeleteEntry builds a "delete" log entry.
func NewDeleteEntry(key string) LogEntry {
	return LogEntry{Op: OpDelete, Key: key}
}

// NewBulkEntry builds a "bulk" log entry covering items in list order.
func NewBulkEntry(items []KV) LogEntry {
	return LogEntry{Op: OpBulk, Items: items}
}

// encodeLine serializes entry as a single JSON line terminated by '\n'.
func encodeLine(entry LogEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeLine parses one WAL/replication line. A malformed line returns an
// error so the caller can treat it as end-of-log (spec section 4.2).
func decodeLine(line []byte) (LogEntry, error) {
	var entry LogEntry
	err := json.Unmarshal(line, &entry)
	return entry, err
}

// deepCopy round-trips v through the codec so the engine never hands a
// caller a value backed by the same map/slice it stores internally
// (spec section 3: "values are stored by deep copy").
func deepCopy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
