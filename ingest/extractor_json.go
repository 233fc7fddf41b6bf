package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxJSONDepth bounds recursion over nested JSON input.
const maxJSONDepth = 100

// JSONExtractor flattens arbitrary JSON into readable "path: value" lines
// so structured exports (API dumps, notebook metadata) can be indexed like
// prose.
type JSONExtractor struct{}

var _ Extractor = JSONExtractor{}

func (JSONExtractor) Extract(content []byte) (string, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return "", nil
	}
	var data any
	if err := json.Unmarshal(content, &data); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	var lines []string
	flattenJSON("", data, &lines, 0)
	return Normalize(strings.Join(lines, "\n")), nil
}

func flattenJSON(prefix string, v any, lines *[]string, depth int) {
	if depth >= maxJSONDepth {
		*lines = append(*lines, labelFor(prefix)+": <truncated>")
		return
	}
	switch val := v.(type) {
	case map[string]any:
		// Deterministic output independent of map iteration order.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenJSON(key, val[k], lines, depth+1)
		}
	case []any:
		if scalarsOnly(val) {
			strs := make([]string, len(val))
			for i, item := range val {
				strs[i] = jsonScalar(item)
			}
			*lines = append(*lines, labelFor(prefix)+": "+strings.Join(strs, ", "))
			return
		}
		for _, item := range val {
			flattenJSON(prefix, item, lines, depth+1)
		}
	case nil:
		// Nulls carry no retrievable content.
	default:
		*lines = append(*lines, labelFor(prefix)+": "+jsonScalar(val))
	}
}

func labelFor(prefix string) string {
	if prefix == "" {
		return "value"
	}
	return prefix
}

func scalarsOnly(arr []any) bool {
	for _, v := range arr {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func jsonScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}
