package transform

import (
	"sort"

	"metaetl/internal/domain"
)

// TypeSet is a set of action type names.
type TypeSet map[string]struct{}

func NewTypeSet(types ...string) TypeSet {
	set := make(TypeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func (s TypeSet) Contains(actionType string) bool {
	_, ok := s[actionType]
	return ok
}

// Names returns the members sorted.
func (s TypeSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SumMatching adds up the values of every entry whose type is in types.
// A nil list sums to zero and unparseable values count as zero. Repeated
// types are all added.
func SumMatching(values domain.TaggedValues, types TypeSet) int64 {
	total, _ := sumMatching(values, types)
	return total
}

// sumMatching also reports the matching entries whose value was not a number.
func sumMatching(values domain.TaggedValues, types TypeSet) (int64, []domain.TaggedValue) {
	var (
		total int64
		bad   []domain.TaggedValue
	)
	for _, v := range values {
		if !types.Contains(v.Type) {
			continue
		}
		n, ok := ParseCount(v.Value)
		if !ok {
			bad = append(bad, v)
			continue
		}
		total += n
	}
	return total, bad
}
