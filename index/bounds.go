package index

import (
	"iter"
	"sort"
)

// PrefixUpperBound returns the smallest byte string greater than every string
// starting with prefix, or nil when no such bound exists (prefix is empty or
// made only of 0xff bytes). Range scans use [prefix, bound).
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Collect merges (record id, exact) hits into one Match per record, ordered
// by record id. A record is exact when any of its hits was.
func Collect(hits iter.Seq2[string, bool]) []Match {
	byID := map[string]bool{}
	for recordID, exact := range hits {
		byID[recordID] = byID[recordID] || exact
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Match, 0, len(ids))
	for _, id := range ids {
		out = append(out, Match{RecordID: id, Exact: byID[id]})
	}
	return out
}
