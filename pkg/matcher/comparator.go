package matcher

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Comparator computes the similarity of two records and of their attributes.
type Comparator interface {
	Compare(left, right *models.Record) (similarity float64, attributes map[string]float64)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(left, right *models.Record) (float64, map[string]float64)

func (f ComparatorFunc) Compare(left, right *models.Record) (float64, map[string]float64) {
	return f(left, right)
}

// DiceComparator compares encoded attribute values by the Dice coefficient of
// their character bigrams and averages over the attributes.
type DiceComparator struct {
	// Attributes to compare. Empty means the union of both records' attributes.
	Attributes []string
}

func (d DiceComparator) Compare(left, right *models.Record) (float64, map[string]float64) {
	attrs := d.Attributes
	if len(attrs) == 0 {
		attrs = attributeUnion(left, right)
	}
	if len(attrs) == 0 {
		return 0, map[string]float64{}
	}
	sims := make(map[string]float64, len(attrs))
	total := 0.0
	for _, a := range attrs {
		s := dice(left.Attributes[a], right.Attributes[a])
		sims[a] = s
		total += s
	}
	return total / float64(len(attrs)), sims
}

func attributeUnion(left, right *models.Record) []string {
	seen := map[string]struct{}{}
	for k := range left.Attributes {
		seen[k] = struct{}{}
	}
	for k := range right.Attributes {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func bigrams(s string) map[string]int {
	s = strings.ToLower(strings.TrimSpace(s))
	out := map[string]int{}
	runes := []rune(s)
	if len(runes) == 1 {
		out[s]++
		return out
	}
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

func dice(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1
	}
	ga, gb := bigrams(a), bigrams(b)
	na, nb, shared := 0, 0, 0
	for g, c := range ga {
		na += c
		shared += min(c, gb[g])
	}
	for _, c := range gb {
		nb += c
	}
	if na+nb == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(na+nb)
}

// Blocker produces the candidate record pairs for the focus records.
type Blocker interface {
	Candidates(all []*models.Record, focus []*models.Record) [][2]*models.Record
}

// BlockIDBlocker pairs records sharing the same block id. Records without a
// block id form one block.
type BlockIDBlocker struct{}

func (BlockIDBlocker) Candidates(all []*models.Record, focus []*models.Record) [][2]*models.Record {
	blocks := map[string][]*models.Record{}
	for _, r := range all {
		blocks[r.ID.BlockID] = append(blocks[r.ID.BlockID], r)
	}
	seen := map[string]struct{}{}
	var out [][2]*models.Record
	for _, f := range focus {
		for _, other := range blocks[f.ID.BlockID] {
			if other.ID.UniqueLikeID() == f.ID.UniqueLikeID() {
				continue
			}
			id := models.PairID(f.ID, other.ID)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, [2]*models.Record{f, other})
		}
	}
	return out
}
