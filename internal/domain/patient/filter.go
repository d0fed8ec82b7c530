package patient

import "strings"

// Criteria narrows a listing. Zero-valued fields do not filter.
type Criteria struct {
	Name   string `query:"name"`
	Source Source `query:"source"`
	Gender string `query:"gender"`
}

// Filter returns the records matching c in their original order. Name is a
// case-insensitive substring match; Source and Gender must match exactly.
func Filter(records []Record, c Criteria) []Record {
	name := strings.ToLower(c.Name)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		if c.Source != "" && r.Source != c.Source {
			continue
		}
		if c.Gender != "" && r.Gender != c.Gender {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CountBySource counts records per source. Every source is present.
func CountBySource(records []Record) map[Source]int {
	counts := make(map[Source]int, len(Sources))
	for _, s := range Sources {
		counts[s] = 0
	}
	for _, r := range records {
		counts[r.Source]++
	}
	return counts
}
