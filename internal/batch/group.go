package batch

// rangeGroup is a run of entries fetched with a single read.
type rangeGroup struct {
	start   uint64 // first byte of the read
	end     uint64 // end of the read (exclusive)
	entries []*Entry
}

// groupEntries splits entries into groups whose ranges are at most maxGap
// apart and whose reads stay within maxBytes. Entries must be sorted by
// offset and non-empty.
func groupEntries(entries []*Entry, maxGap, maxBytes uint64) []rangeGroup {
	groups := make([]rangeGroup, 0, len(entries))
	current := rangeGroup{
		start:   entries[0].Offset,
		end:     entries[0].end(),
		entries: []*Entry{entries[0]},
	}

	for _, e := range entries[1:] {
		end := max(current.end, e.end())
		joins := e.Offset <= current.end || e.Offset-current.end <= maxGap
		if joins && end-current.start <= maxBytes {
			current.end = end
			current.entries = append(current.entries, e)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{start: e.Offset, end: e.end(), entries: []*Entry{e}}
	}
	return append(groups, current)
}
