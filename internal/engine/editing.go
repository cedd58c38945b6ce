package engine

import (
	"unicode/utf16"

	"textinputd/internal/textinput"
)

// commitText replaces the composing range with text, or the selection
// when nothing is composing, and leaves the caret collapsed after the
// inserted text. Offsets work in UTF-16 code units throughout, matching
// the wire protocol.
func commitText(state textinput.EditingState, text string) textinput.EditingState {
	units := utf16.Encode([]rune(state.Text))
	start, end := replaceTarget(state, len(units))
	inserted := utf16.Encode([]rune(text))

	out := make([]uint16, 0, len(units)-(end-start)+len(inserted))
	out = append(out, units[:start]...)
	out = append(out, inserted...)
	out = append(out, units[end:]...)
	caret := start + len(inserted)

	return textinput.EditingState{
		Text:            string(utf16.Decode(out)),
		SelectionBase:   caret,
		SelectionExtent: caret,
		ComposingBase:   -1,
		ComposingExtent: -1,
	}
}

// applyPreedit replaces the current composing range (or the selection on
// the first update) with the uncommitted preedit text and marks the new
// span as composing. cursorRunes is the caret position inside the
// preedit counted in runes, the unit input methods report. An empty
// preedit removes the composing span and collapses the caret where it
// started.
func applyPreedit(state textinput.EditingState, preedit string, cursorRunes int) textinput.EditingState {
	units := utf16.Encode([]rune(state.Text))
	start, end := replaceTarget(state, len(units))
	inserted := utf16.Encode([]rune(preedit))

	out := make([]uint16, 0, len(units)-(end-start)+len(inserted))
	out = append(out, units[:start]...)
	out = append(out, inserted...)
	out = append(out, units[end:]...)

	next := textinput.EditingState{
		Text:            string(utf16.Decode(out)),
		SelectionBase:   start,
		SelectionExtent: start,
		ComposingBase:   -1,
		ComposingExtent: -1,
	}
	if len(inserted) > 0 {
		next.ComposingBase = start
		next.ComposingExtent = start + len(inserted)
		caret := start + utf16PrefixLen(preedit, cursorRunes)
		if caret > next.ComposingExtent {
			caret = next.ComposingExtent
		}
		next.SelectionBase = caret
		next.SelectionExtent = caret
	}
	return next
}

// replaceTarget picks the span an edit replaces: the composing range
// when one is active, otherwise the selection, otherwise a collapsed
// caret at the end of the text. Returned offsets are ordered and
// clamped into [0, n].
func replaceTarget(state textinput.EditingState, n int) (int, int) {
	if state.ComposingRangeValid() {
		return clampRange(state.ComposingBase, state.ComposingExtent, n)
	}
	if state.HasSelection() {
		return clampRange(state.SelectionBase, state.SelectionExtent, n)
	}
	return n, n
}

func clampRange(base, extent, n int) (int, int) {
	if base > extent {
		base, extent = extent, base
	}
	if base < 0 {
		base = 0
	}
	if extent > n {
		extent = n
	}
	if base > extent {
		base = extent
	}
	return base, extent
}

// utf16PrefixLen returns the UTF-16 length of the first runes runes of
// s, clamped to the whole string.
func utf16PrefixLen(s string, runes int) int {
	if runes <= 0 {
		return 0
	}
	n := 0
	for _, r := range s {
		if runes == 0 {
			break
		}
		runes--
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
