package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// naiveLayout matches datetime.isoformat() output without a zone; fractional
// seconds are optional when parsing.
const naiveLayout = "2006-01-02T15:04:05"

// document holds every record as raw JSON so that records this process cannot
// decode survive rewrites of the others.
type document map[string]json.RawMessage

type wireRecord struct {
	Password   string  `json:"password"`
	Token      string  `json:"Authorization"`
	Occupied   bool    `json:"is_occupancy"`
	LoginTime  *string `json:"login_time"`
	UpdateTime string  `json:"update_time"`
}

func decodeDocument(data []byte) (document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrStoreUnavailable)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed document", ErrStoreUnavailable)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: document is not an object", ErrStoreUnavailable)
	}
	doc := make(document)
	root.ForEach(func(key, value gjson.Result) bool {
		doc[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	return doc, nil
}

func encodeDocument(doc document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// usernames returns the document keys in sorted order.
func (d document) usernames() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d document) record(username string) (Record, error) {
	raw, ok := d[username]
	if !ok {
		return Record{}, ErrNotFound
	}
	return decodeRecord(username, raw)
}

func (d document) put(r Record) error {
	raw, err := encodeRecord(r)
	if err != nil {
		return err
	}
	d[r.Username] = raw
	return nil
}

func decodeRecord(username string, raw json.RawMessage) (Record, error) {
	v := gjson.ParseBytes(raw)
	if !v.IsObject() {
		return Record{}, fmt.Errorf("%w: %q is not an object", ErrCorruptRecord, username)
	}
	r := Record{Username: username}

	var err error
	if r.Password, err = stringField(v, FieldPassword); err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrCorruptRecord, username, err)
	}
	if r.Token, err = stringField(v, FieldToken); err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrCorruptRecord, username, err)
	}
	if r.Occupied, err = boolField(v, FieldOccupied); err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrCorruptRecord, username, err)
	}
	if lt, err := timeField(v, FieldLoginTime); err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrCorruptRecord, username, err)
	} else if !lt.IsZero() {
		r.LoginTime = &lt
	}
	if r.UpdateTime, err = timeField(v, FieldUpdateTime); err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrCorruptRecord, username, err)
	}
	return r, nil
}

func encodeRecord(r Record) (json.RawMessage, error) {
	w := wireRecord{
		Password:   r.Password,
		Token:      r.Token,
		Occupied:   r.Occupied,
		UpdateTime: formatTime(r.UpdateTime),
	}
	if r.LoginTime != nil {
		s := formatTime(*r.LoginTime)
		w.LoginTime = &s
	}
	return json.Marshal(w)
}

func stringField(v gjson.Result, name string) (string, error) {
	f := v.Get(name)
	switch f.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return f.Str, nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %s", name, f.Type)
	}
}

// boolField also accepts "true"/"False" style strings written by the legacy
// per-field update path.
func boolField(v gjson.Result, name string) (bool, error) {
	f := v.Get(name)
	switch f.Type {
	case gjson.Null:
		return false, nil
	case gjson.True, gjson.False:
		return f.Bool(), nil
	case gjson.String:
		b, err := strconv.ParseBool(strings.TrimSpace(f.Str))
		if err != nil {
			return false, fmt.Errorf("field %s: %w", name, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("field %s: expected bool, got %s", name, f.Type)
	}
}

func timeField(v gjson.Result, name string) (time.Time, error) {
	f := v.Get(name)
	switch f.Type {
	case gjson.Null:
		return time.Time{}, nil
	case gjson.String:
		if f.Str == "" {
			return time.Time{}, nil
		}
		return parseTime(f.Str)
	default:
		return time.Time{}, fmt.Errorf("field %s: expected timestamp, got %s", name, f.Type)
	}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return t, nil
}

// nextUpdateTime keeps update_time strictly increasing across writes even when
// the clock stalls or steps backwards.
func nextUpdateTime(prev, now time.Time) time.Time {
	if !prev.IsZero() && !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
