package chapters

import "strings"

// Ref is a chapter's identity as reported by the metadata source. Ordinal
// is its 0-based position in that listing.
type Ref struct {
	ID      string
	Title   string
	Ordinal int
}

// DisplayTitle joins the listing title with the title an endpoint returned,
// unless the latter adds nothing.
func DisplayTitle(base, fetched string) string {
	base = strings.TrimSpace(base)
	fetched = strings.TrimSpace(fetched)

	switch {
	case fetched == "" || strings.Contains(base, fetched):
		return base
	case base == "" || strings.Contains(fetched, base):
		return fetched
	default:
		return base + " " + fetched
	}
}

func IDs(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}
