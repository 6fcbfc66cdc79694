package chapters

import (
	"strconv"
	"strings"
)

// Filter narrows the listing by a 1-based range ("5-12") or list ("1,3,5").
// Range wins when both are set.
func Filter(all []Ref, rng string, list string) []Ref {
	if strings.TrimSpace(rng) != "" {
		return FilterRange(all, rng)
	}
	if strings.TrimSpace(list) != "" {
		return FilterList(all, list)
	}
	return all
}

func FilterRange(all []Ref, rng string) []Ref {
	parts := strings.Split(rng, "-")
	if len(parts) != 2 {
		return nil
	}
	start, err1 := atoi(parts[0])
	end, err2 := atoi(parts[1])
	if err1 != nil || err2 != nil {
		return nil
	}
	if start <= 0 || end <= 0 || start > end {
		return nil
	}
	if end > len(all) {
		end = len(all)
	}
	if start > end {
		return nil
	}
	return all[start-1 : end]
}

func FilterList(all []Ref, list string) []Ref {
	seen := map[int]bool{}
	out := []Ref{}
	for n := range strings.SplitSeq(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		idx, err := atoi(n)
		if err != nil || seen[idx] {
			continue
		}
		if idx > 0 && idx <= len(all) {
			seen[idx] = true
			out = append(out, all[idx-1])
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
