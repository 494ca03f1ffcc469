package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Shape identifies which of the gateway's list encodings a response uses.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeArray is a bare JSON array.
	ShapeArray
	// ShapeEnvelope is an object with a "data" array.
	ShapeEnvelope
	// ShapeIndexed is an object keyed by numeric indices, as produced by
	// spreading an array into the proxy's success object.
	ShapeIndexed
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeEnvelope:
		return "envelope"
	case ShapeIndexed:
		return "indexed"
	default:
		return "unknown"
	}
}

// Classify resolves the shape of raw and returns its entries in order.
// Unrecognised input yields ShapeUnknown and no entries.
func Classify(raw json.RawMessage) (Shape, []json.RawMessage) {
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		return ShapeArray, arr
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil || obj == nil {
		return ShapeUnknown, nil
	}
	if data, ok := obj["data"]; ok {
		if json.Unmarshal(data, &arr) == nil {
			return ShapeEnvelope, arr
		}
	}

	type indexed struct {
		idx int
		val json.RawMessage
	}
	var items []indexed
	for k, v := range obj {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 {
			continue
		}
		items = append(items, indexed{n, v})
	}
	if len(items) == 0 {
		return ShapeUnknown, nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = it.val
	}
	return ShapeIndexed, out
}
