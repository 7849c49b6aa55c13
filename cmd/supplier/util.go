package supplier

import (
	"errors"
	"strings"
)

// parseEquipment splits a comma-separated list of equipment types, trimming
// blanks and dropping duplicates while keeping the first-seen order.
func parseEquipment(csv string) ([]string, error) {
	seen := map[string]bool{}
	var out []string

	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, errors.New("--equipment must list at least one equipment type")
	}
	return out, nil
}
