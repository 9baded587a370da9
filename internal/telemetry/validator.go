package telemetry

// MissingFields reports, per category, the fields the known packet
// definitions expect that the header list does not carry. A non-empty
// result degrades decoding for those categories but never blocks it.
func MissingFields(headers []string) map[Category][]string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	missing := make(map[Category][]string)
	for _, cat := range categoryOrder {
		for _, field := range categoryFields[cat] {
			if _, ok := present[field]; !ok {
				missing[cat] = append(missing[cat], field)
			}
		}
	}
	return missing
}

// DuplicateFields returns header names that occur more than once, in first
// occurrence order. Duplicates are tolerated: later columns shadow earlier
// ones in the decoded snapshot.
func DuplicateFields(headers []string) []string {
	seen := make(map[string]int, len(headers))
	var dups []string
	for _, h := range headers {
		seen[h]++
		if seen[h] == 2 {
			dups = append(dups, h)
		}
	}
	return dups
}
