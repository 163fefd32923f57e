// Package patch groups pending edits whose target ranges overlap.
package patch

import (
	"errors"
	"fmt"
	"sort"

	"quill/api/internal/textpatch"
	"quill/api/internal/util"
)

var (
	ErrPatchNotFound = errors.New("patch not found")
	ErrInvalidGroups = errors.New("invalid patch groups")
)

// Patch is a proposed edit against the current text. Start and End are
// character offsets; Patch is the serialized diff payload.
type Patch struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Patch string `json:"patch"`
}

// ConflictGroup is a maximal set of patches whose ranges are transitively
// connected by overlap. Start and End bound every member.
type ConflictGroup struct {
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Patches []Patch `json:"patches"`
}

func (g ConflictGroup) contains(id string) bool {
	for _, p := range g.Patches {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Overlaps reports whether two closed ranges share at least one offset.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// Manager keeps conflict groups sorted by Start with no two groups
// overlapping. It is not safe for concurrent use; the owning chapter
// coordinator serializes access.
type Manager struct {
	codec  textpatch.Codec
	groups []ConflictGroup
	newID  func() string
}

func NewManager(codec textpatch.Codec, groups []ConflictGroup) *Manager {
	return &Manager{
		codec:  codec,
		groups: CloneGroups(groups),
		newID:  func() string { return util.NewID("") },
	}
}

// Groups returns a copy of the current groups.
func (m *Manager) Groups() []ConflictGroup {
	return CloneGroups(m.groups)
}

// Add validates p, assigns it a fresh id and merges it with every group its
// range overlaps, directly or through a bridging group.
func (m *Manager) Add(p Patch) (Patch, error) {
	if err := m.codec.Validate(p.Patch); err != nil {
		return Patch{}, err
	}
	p.ID = m.newID()

	start, end := p.Start, p.End
	collected := []Patch{p}
	next := make([]ConflictGroup, 0, len(m.groups)+1)
	inserted := false
	for _, g := range m.groups {
		if Overlaps(start, end, g.Start, g.End) {
			start = min(start, g.Start)
			end = max(end, g.End)
			collected = append(collected, g.Patches...)
			continue
		}
		if !inserted && g.Start > end {
			next = append(next, ConflictGroup{Start: start, End: end, Patches: collected})
			inserted = true
		}
		next = append(next, g)
	}
	if !inserted {
		next = append(next, ConflictGroup{Start: start, End: end, Patches: collected})
	}
	m.groups = next
	return p, nil
}

// ApplyByID applies the patch with the given id to base and, on success,
// drops the whole group that held it. Siblings are discarded, not retried.
func (m *Manager) ApplyByID(base, id string) (string, error) {
	for i, g := range m.groups {
		for _, p := range g.Patches {
			if p.ID != id {
				continue
			}
			result, err := m.codec.Apply(base, p.Patch)
			if err != nil {
				return "", fmt.Errorf("apply patch %s: %w", id, err)
			}
			m.groups = append(m.groups[:i:i], m.groups[i+1:]...)
			return result.Text, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPatchNotFound, id)
}

// Find returns the group holding id.
func (m *Manager) Find(id string) (ConflictGroup, bool) {
	for _, g := range m.groups {
		if g.contains(id) {
			return g, true
		}
	}
	return ConflictGroup{}, false
}

// Len returns the number of pending patches across all groups.
func (m *Manager) Len() int {
	n := 0
	for _, g := range m.groups {
		n += len(g.Patches)
	}
	return n
}

// Rebuild regroups the patches of groups as if each had been added in order of
// Start, keeping their ids. Group bounds in the input are ignored. Every
// payload must pass the codec and every id must be present and unique.
func Rebuild(codec textpatch.Codec, groups []ConflictGroup) ([]ConflictGroup, error) {
	var patches []Patch
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, p := range g.Patches {
			if p.ID == "" {
				return nil, fmt.Errorf("%w: patch without id", ErrInvalidGroups)
			}
			if seen[p.ID] {
				return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidGroups, p.ID)
			}
			if p.Start < 0 || p.End < p.Start {
				return nil, fmt.Errorf("%w: patch %s has range [%d, %d]", ErrInvalidGroups, p.ID, p.Start, p.End)
			}
			seen[p.ID] = true
			patches = append(patches, p)
		}
	}
	sort.SliceStable(patches, func(i, j int) bool {
		if patches[i].Start != patches[j].Start {
			return patches[i].Start < patches[j].Start
		}
		return patches[i].ID < patches[j].ID
	})

	m := NewManager(codec, nil)
	for _, p := range patches {
		id := p.ID
		m.newID = func() string { return id }
		if _, err := m.Add(p); err != nil {
			return nil, fmt.Errorf("patch %s: %w", id, err)
		}
	}
	return m.groups, nil
}

// CloneGroups deep-copies groups; the result is never nil.
func CloneGroups(groups []ConflictGroup) []ConflictGroup {
	out := make([]ConflictGroup, len(groups))
	for i, g := range groups {
		out[i] = ConflictGroup{Start: g.Start, End: g.End, Patches: append([]Patch(nil), g.Patches...)}
	}
	return out
}
