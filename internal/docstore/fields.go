package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// fieldMap decodes a document body keeping raw field values
func fieldMap(data json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fields, nil
}

// encodeValue marshals v, reporting whether it is null
func encodeValue(v any) (json.RawMessage, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode field: %w", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, true, nil
	}
	return raw, false, nil
}

// splitFields separates a field update into values to set and names to remove
func splitFields(fields map[string]any) (map[string]json.RawMessage, []string, error) {
	set := make(map[string]json.RawMessage, len(fields))
	var remove []string
	for name, v := range fields {
		raw, isNull, err := encodeValue(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		if isNull {
			remove = append(remove, name)
			continue
		}
		set[name] = raw
	}
	sort.Strings(remove)
	return set, remove, nil
}

// mergeFields applies an update to a document body
func mergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc, err := fieldMap(data)
	if err != nil {
		return nil, err
	}
	set, remove, err := splitFields(fields)
	if err != nil {
		return nil, err
	}
	for name, raw := range set {
		doc[name] = raw
	}
	for _, name := range remove {
		delete(doc, name)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return out, nil
}

// matches evaluates equality filters against a document body
func matches(data json.RawMessage, where []Filter) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	doc, err := fieldMap(data)
	if err != nil {
		return false, err
	}
	for _, f := range where {
		want, wantNull, err := encodeValue(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := doc[f.Field]
		gotNull := !ok || bytes.Equal(bytes.TrimSpace(got), []byte("null"))
		if wantNull || gotNull {
			if wantNull != gotNull {
				return false, nil
			}
			continue
		}
		if !jsonEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	switch x := av.(type) {
	case string, bool, float64:
		return x == bv
	}
	return bytes.Equal(a, b)
}

// timeField reads an RFC 3339 timestamp field; missing values sort first
func timeField(data json.RawMessage, name string) time.Time {
	doc, err := fieldMap(data)
	if err != nil {
		return time.Time{}
	}
	raw, ok := doc[name]
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}
	}
	return t
}

// applyQuery filters, orders and limits snapshots of a single collection
func applyQuery(snaps []*Snapshot, q Query) ([]*Snapshot, error) {
	out := make([]*Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if !s.Exists || s.Ref.Collection != q.Collection {
			continue
		}
		ok, err := matches(s.Data, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	if q.OrderByTime != "" {
		keys := make(map[*Snapshot]time.Time, len(out))
		for _, s := range out {
			keys[s] = timeField(s.Data, q.OrderByTime)
		}
		sort.SliceStable(out, func(i, j int) bool {
			ti, tj := keys[out[i]], keys[out[j]]
			if ti.Equal(tj) {
				return out[i].Ref.ID < out[j].Ref.ID
			}
			if q.Desc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// fingerprint identifies a query result by member ids and versions
func fingerprint(snaps []*Snapshot) string {
	var b strings.Builder
	for _, s := range snaps {
		b.WriteString(s.Ref.ID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(s.Version, 10))
		b.WriteByte(',')
	}
	return b.String()
}
