package httpserver

import (
	"encoding/json"
	"strings"

	"github.com/lifeadmin/commitd/internal/models"
)

func trim(s string) string { return strings.TrimSpace(s) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stakeFromRaw resolves stake aliases where each candidate may be a JSON
// number, a numeric string, or a "<number> <unit>" string; first usable value
// wins, anything unparsable counts as zero.
func stakeFromRaw(candidates ...json.RawMessage) float64 {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v := models.ParseStake(s); v > 0 {
				return v
			}
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
			return f
		}
	}
	return 0
}
