package resume

import (
	"encoding/json"
	"math"
	"strconv"
)

const completenessKey = "completenessPercent"

// CompletenessPercent reads the externally-maintained completeness
// figure out of a snapshot's passthrough metadata. Missing or
// malformed values read as zero; a snapshot is never rejected over it.
func CompletenessPercent(c Content) int {
	raw, ok := c.Extra[completenessKey]
	if !ok {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return parsePercent(v)
}

func parsePercent(v any) int {
	switch n := v.(type) {
	case bool:
		return 0
	case int:
		return n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0
		}
		return int(parsed)
	default:
		return 0
	}
}
