package eval

import (
	"github.com/mrc-ide/outpack-server/internal/metadata"
)

// SelectionKind distinguishes filter results from single-packet results
type SelectionKind int

const (
	// SelectionSet is an id-ordered set of packets, possibly empty
	SelectionSet SelectionKind = iota
	// SelectionSingle is exactly one packet chosen by latest or single
	SelectionSingle
)

// String returns a short name for the kind
func (k SelectionKind) String() string {
	if k == SelectionSingle {
		return "single"
	}
	return "set"
}

// Selection is the result of evaluating a query
type Selection struct {
	Kind SelectionKind `json:"kind"`
	IDs  []string      `json:"ids"`
}

// Len returns the number of selected packets
func (s Selection) Len() int { return len(s.IDs) }

// IsEmpty reports whether nothing was selected
func (s Selection) IsEmpty() bool { return len(s.IDs) == 0 }

// Contains reports whether id was selected
func (s Selection) Contains(id string) bool {
	for _, x := range s.IDs {
		if x == id {
			return true
		}
	}
	return false
}

func setSelection(packets []*metadata.Packet) Selection {
	ids := make([]string, len(packets))
	for i, p := range packets {
		ids[i] = p.ID
	}
	return Selection{Kind: SelectionSet, IDs: ids}
}

func singleSelection(p *metadata.Packet) Selection {
	return Selection{Kind: SelectionSingle, IDs: []string{p.ID}}
}

// Set operations over id-ordered packet slices. All inputs must be sorted by
// id and free of duplicates; outputs are too.

func intersect(a, b []*metadata.Packet) []*metadata.Packet {
	out := make([]*metadata.Packet, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].ID < b[j].ID:
			i++
		case a[i].ID > b[j].ID:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func union(a, b []*metadata.Packet) []*metadata.Packet {
	out := make([]*metadata.Packet, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].ID < b[j].ID:
			out = append(out, a[i])
			i++
		case a[i].ID > b[j].ID:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// difference returns the members of universe not in s
func difference(universe, s []*metadata.Packet) []*metadata.Packet {
	out := make([]*metadata.Packet, 0, len(universe))
	j := 0
	for _, p := range universe {
		for j < len(s) && s[j].ID < p.ID {
			j++
		}
		if j < len(s) && s[j].ID == p.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}
