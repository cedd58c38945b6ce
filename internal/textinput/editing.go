package textinput

import (
	"encoding/json"
	"unicode/utf16"
)

// Affinity disambiguates a caret sitting exactly on a line break:
// whether it renders at the end of the upstream line or the start of the
// downstream one.
type Affinity int

const (
	// AffinityDownstream places the caret at the start of the line after
	// the break. This is the default.
	AffinityDownstream Affinity = iota
	// AffinityUpstream places the caret at the end of the line before
	// the break.
	AffinityUpstream
)

const (
	affinityDownstreamTag = "TextAffinity.downstream"
	affinityUpstreamTag   = "TextAffinity.upstream"
)

// String returns the wire tag of the affinity.
func (a Affinity) String() string {
	if a == AffinityUpstream {
		return affinityUpstreamTag
	}
	return affinityDownstreamTag
}

// affinityFromTag maps a wire tag to an Affinity. Unknown or missing
// tags read as downstream.
func affinityFromTag(tag string) Affinity {
	if tag == affinityUpstreamTag {
		return AffinityUpstream
	}
	return AffinityDownstream
}

// MarshalJSON encodes the affinity as its wire tag.
func (a Affinity) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a wire tag, reading unknown tags as downstream.
func (a *Affinity) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	*a = affinityFromTag(tag)
	return nil
}

// EditingState is the text model shared with the platform input system:
// the text, the selection, and the composing range the input method is
// still transforming.
//
// Offsets count UTF-16 code units, the unit the wire protocol uses. A
// selection or composing range is absent when its offsets are -1.
// EditingState is a value: construct a new one instead of mutating.
type EditingState struct {
	Text                   string
	SelectionBase          int
	SelectionExtent        int
	SelectionAffinity      Affinity
	SelectionIsDirectional bool
	ComposingBase          int
	ComposingExtent        int
}

// EmptyEditingState returns the canonical empty state: no text, no
// selection, no composing range.
func EmptyEditingState() EditingState {
	return EditingState{
		SelectionBase:   -1,
		SelectionExtent: -1,
		ComposingBase:   -1,
		ComposingExtent: -1,
	}
}

// HasSelection reports whether a selection is present.
func (s EditingState) HasSelection() bool {
	return s.SelectionBase >= 0 && s.SelectionExtent >= 0
}

// ComposingRangeValid reports whether the composing range denotes a
// non-empty span inside Text. An invalid range is not an error;
// consumers simply ignore it.
func (s EditingState) ComposingRangeValid() bool {
	return s.ComposingBase >= 0 &&
		s.ComposingBase < s.ComposingExtent &&
		s.ComposingExtent <= UTF16Length(s.Text)
}

// UTF16Length returns the length of s in UTF-16 code units, the unit
// wire offsets count. Invalid UTF-8 sequences count one unit per
// replacement character.
func UTF16Length(s string) int {
	n := 0
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

type editingStateWire struct {
	Text                   string `json:"text"`
	SelectionBase          *int   `json:"selectionBase"`
	SelectionExtent        *int   `json:"selectionExtent"`
	SelectionAffinity      string `json:"selectionAffinity"`
	SelectionIsDirectional bool   `json:"selectionIsDirectional"`
	ComposingBase          *int   `json:"composingBase"`
	ComposingExtent        *int   `json:"composingExtent"`
}

// MarshalJSON encodes the state with every wire key present. Absent
// ranges encode their offsets as -1.
func (s EditingState) MarshalJSON() ([]byte, error) {
	base, extent := s.SelectionBase, s.SelectionExtent
	composingBase, composingExtent := s.ComposingBase, s.ComposingExtent
	return json.Marshal(editingStateWire{
		Text:                   s.Text,
		SelectionBase:          &base,
		SelectionExtent:        &extent,
		SelectionAffinity:      s.SelectionAffinity.String(),
		SelectionIsDirectional: s.SelectionIsDirectional,
		ComposingBase:          &composingBase,
		ComposingExtent:        &composingExtent,
	})
}

// UnmarshalJSON decodes a wire map. Missing offsets read as -1, a
// missing or unknown affinity as downstream.
func (s *EditingState) UnmarshalJSON(data []byte) error {
	var w editingStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = EditingState{
		Text:                   w.Text,
		SelectionBase:          offsetOrAbsent(w.SelectionBase),
		SelectionExtent:        offsetOrAbsent(w.SelectionExtent),
		SelectionAffinity:      affinityFromTag(w.SelectionAffinity),
		SelectionIsDirectional: w.SelectionIsDirectional,
		ComposingBase:          offsetOrAbsent(w.ComposingBase),
		ComposingExtent:        offsetOrAbsent(w.ComposingExtent),
	}
	return nil
}

func offsetOrAbsent(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
