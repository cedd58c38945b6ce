package textinput

import (
	"encoding/json"
	"slices"
)

// InputKind enumerates the keyboard variants a client can request.
type InputKind int

const (
	KindText InputKind = iota
	KindMultiline
	KindNumber
	KindPhone
	KindDatetime
	KindEmailAddress
	KindURL
	KindVisiblePassword
	KindName
	KindAddress
	KindNone
)

var kindNames = [...]string{
	KindText:            "TextInputType.text",
	KindMultiline:       "TextInputType.multiline",
	KindNumber:          "TextInputType.number",
	KindPhone:           "TextInputType.phone",
	KindDatetime:        "TextInputType.datetime",
	KindEmailAddress:    "TextInputType.emailAddress",
	KindURL:             "TextInputType.url",
	KindVisiblePassword: "TextInputType.visiblePassword",
	KindName:            "TextInputType.name",
	KindAddress:         "TextInputType.address",
	KindNone:            "TextInputType.none",
}

// String returns the wire name of the kind.
func (k InputKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindText]
	}
	return kindNames[k]
}

func kindFromName(name string) InputKind {
	for k, n := range kindNames {
		if n == name {
			return InputKind(k)
		}
	}
	return KindText
}

// InputType selects the keyboard variant for a client. Signed and
// Decimal refine KindNumber only; the constructors keep them false for
// every other kind so values compare with ==.
type InputType struct {
	Kind    InputKind
	Signed  bool
	Decimal bool
}

// TypeText requests the plain text keyboard.
func TypeText() InputType { return InputType{Kind: KindText} }

// TypeMultiline requests a keyboard whose action key inserts newlines.
func TypeMultiline() InputType { return InputType{Kind: KindMultiline} }

// TypeNumber requests the numeric keyboard, optionally with sign and
// decimal-point keys.
func TypeNumber(signed, decimal bool) InputType {
	return InputType{Kind: KindNumber, Signed: signed, Decimal: decimal}
}

// TypePhone requests the telephone keypad.
func TypePhone() InputType { return InputType{Kind: KindPhone} }

// TypeDatetime requests a keyboard suited to dates and times.
func TypeDatetime() InputType { return InputType{Kind: KindDatetime} }

// TypeEmailAddress requests a keyboard with @ and . prominent.
func TypeEmailAddress() InputType { return InputType{Kind: KindEmailAddress} }

// TypeURL requests a keyboard with / and . prominent.
func TypeURL() InputType { return InputType{Kind: KindURL} }

// TypeVisiblePassword requests a keyboard for passwords that stay
// visible while typed.
func TypeVisiblePassword() InputType { return InputType{Kind: KindVisiblePassword} }

// TypeName requests a keyboard suited to person names.
func TypeName() InputType { return InputType{Kind: KindName} }

// TypeAddress requests a keyboard suited to postal addresses.
func TypeAddress() InputType { return InputType{Kind: KindAddress} }

// TypeNone tells the platform not to raise a keyboard at all. The
// registry substitutes this type on the wire while a custom control is
// primary.
func TypeNone() InputType { return InputType{Kind: KindNone} }

type inputTypeWire struct {
	Name    string `json:"name"`
	Signed  *bool  `json:"signed"`
	Decimal *bool  `json:"decimal"`
}

// MarshalJSON encodes the nested inputType object. Signed and decimal
// are real booleans for the number kind and null for every other kind.
func (t InputType) MarshalJSON() ([]byte, error) {
	w := inputTypeWire{Name: t.Kind.String()}
	if t.Kind == KindNumber {
		signed, decimal := t.Signed, t.Decimal
		w.Signed, w.Decimal = &signed, &decimal
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the nested object. For the number kind a
// missing signed or decimal reads as false; for other kinds both are
// discarded.
func (t *InputType) UnmarshalJSON(data []byte) error {
	var w inputTypeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := InputType{Kind: kindFromName(w.Name)}
	if out.Kind == KindNumber {
		out.Signed = w.Signed != nil && *w.Signed
		out.Decimal = w.Decimal != nil && *w.Decimal
	}
	*t = out
	return nil
}

// Capitalization tells the platform keyboard which characters to
// uppercase automatically.
type Capitalization int

const (
	CapitalizationNone Capitalization = iota
	CapitalizationCharacters
	CapitalizationWords
	CapitalizationSentences
)

var capitalizationTags = [...]string{
	CapitalizationNone:       "TextCapitalization.none",
	CapitalizationCharacters: "TextCapitalization.characters",
	CapitalizationWords:      "TextCapitalization.words",
	CapitalizationSentences:  "TextCapitalization.sentences",
}

// String returns the wire tag of the capitalization mode.
func (c Capitalization) String() string {
	if c < 0 || int(c) >= len(capitalizationTags) {
		return capitalizationTags[CapitalizationNone]
	}
	return capitalizationTags[c]
}

func capitalizationFromTag(tag string) Capitalization {
	for c, t := range capitalizationTags {
		if t == tag {
			return Capitalization(c)
		}
	}
	return CapitalizationNone
}

// Action identifies the keyboard's action key.
type Action int

const (
	ActionNone Action = iota
	ActionUnspecified
	ActionDone
	ActionGo
	ActionSearch
	ActionSend
	ActionNext
	ActionPrevious
	ActionContinue
	ActionJoin
	ActionRoute
	ActionEmergencyCall
	ActionNewline
)

var actionTags = [...]string{
	ActionNone:          "TextInputAction.none",
	ActionUnspecified:   "TextInputAction.unspecified",
	ActionDone:          "TextInputAction.done",
	ActionGo:            "TextInputAction.go",
	ActionSearch:        "TextInputAction.search",
	ActionSend:          "TextInputAction.send",
	ActionNext:          "TextInputAction.next",
	ActionPrevious:      "TextInputAction.previous",
	ActionContinue:      "TextInputAction.continueAction",
	ActionJoin:          "TextInputAction.join",
	ActionRoute:         "TextInputAction.route",
	ActionEmergencyCall: "TextInputAction.emergencyCall",
	ActionNewline:       "TextInputAction.newline",
}

// String returns the wire tag of the action.
func (a Action) String() string {
	if a < 0 || int(a) >= len(actionTags) {
		return actionTags[ActionNone]
	}
	return actionTags[a]
}

func actionFromTag(tag string) (Action, bool) {
	for a, t := range actionTags {
		if t == tag {
			return Action(a), true
		}
	}
	return ActionNone, false
}

// Appearance selects the light or dark platform keyboard theme.
type Appearance int

const (
	AppearanceLight Appearance = iota
	AppearanceDark
)

// String returns the wire tag of the appearance.
func (a Appearance) String() string {
	if a == AppearanceDark {
		return "Brightness.dark"
	}
	return "Brightness.light"
}

func appearanceFromTag(tag string) Appearance {
	if tag == "Brightness.dark" {
		return AppearanceDark
	}
	return AppearanceLight
}

// AutofillConfig opts a client into platform autofill: a stable field
// identifier, the semantic hints describing the field, and the value
// the platform prefills from.
type AutofillConfig struct {
	UniqueIdentifier string
	Hints            []string
	CurrentValue     EditingState
}

// Equal reports structural equality.
func (a AutofillConfig) Equal(o AutofillConfig) bool {
	return a.UniqueIdentifier == o.UniqueIdentifier &&
		slices.Equal(a.Hints, o.Hints) &&
		a.CurrentValue == o.CurrentValue
}

type autofillWire struct {
	UniqueIdentifier string       `json:"uniqueIdentifier"`
	Hints            []string     `json:"hints"`
	EditingValue     EditingState `json:"editingValue"`
}

// MarshalJSON encodes the autofill section.
func (a AutofillConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(autofillWire{
		UniqueIdentifier: a.UniqueIdentifier,
		Hints:            a.Hints,
		EditingValue:     a.CurrentValue,
	})
}

// UnmarshalJSON decodes the autofill section.
func (a *AutofillConfig) UnmarshalJSON(data []byte) error {
	var w autofillWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = AutofillConfig{
		UniqueIdentifier: w.UniqueIdentifier,
		Hints:            w.Hints,
		CurrentValue:     w.EditingValue,
	}
	return nil
}

// Configuration describes how the platform input system should behave
// for an attached client. It is sent wholesale at attach time and on
// every change; there are no partial updates.
type Configuration struct {
	InputType      InputType
	ReadOnly       bool
	ObscureText    bool
	Autocorrect    bool
	Capitalization Capitalization
	ActionLabel    string
	Action         Action
	Appearance     Appearance
	Autofill       *AutofillConfig
}

// DefaultConfiguration returns the configuration a plain text field
// attaches with.
func DefaultConfiguration() Configuration {
	return Configuration{
		InputType:   TypeText(),
		Autocorrect: true,
		Action:      ActionDone,
	}
}

// Equal reports structural equality, including the autofill section.
func (c Configuration) Equal(o Configuration) bool {
	if (c.Autofill == nil) != (o.Autofill == nil) {
		return false
	}
	if c.Autofill != nil && !c.Autofill.Equal(*o.Autofill) {
		return false
	}
	c.Autofill, o.Autofill = nil, nil
	return c == o
}

type configurationWire struct {
	InputType      InputType       `json:"inputType"`
	ReadOnly       bool            `json:"readOnly"`
	ObscureText    bool            `json:"obscureText"`
	Autocorrect    *bool           `json:"autocorrect"`
	ActionLabel    *string         `json:"actionLabel"`
	Action         string          `json:"inputAction"`
	Capitalization string          `json:"textCapitalization"`
	Appearance     string          `json:"keyboardAppearance"`
	Autofill       *AutofillConfig `json:"autofill,omitempty"`
}

// MarshalJSON encodes the configuration. Every key is present except
// autofill, which appears only when configured; an empty action label
// encodes as null.
func (c Configuration) MarshalJSON() ([]byte, error) {
	autocorrect := c.Autocorrect
	w := configurationWire{
		InputType:      c.InputType,
		ReadOnly:       c.ReadOnly,
		ObscureText:    c.ObscureText,
		Autocorrect:    &autocorrect,
		Action:         c.Action.String(),
		Capitalization: c.Capitalization.String(),
		Appearance:     c.Appearance.String(),
		Autofill:       c.Autofill,
	}
	if c.ActionLabel != "" {
		label := c.ActionLabel
		w.ActionLabel = &label
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire map. A missing autocorrect reads as
// true, a missing action as done, and unknown enum tags fall back to
// their defaults.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var w configurationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	action, ok := actionFromTag(w.Action)
	if !ok {
		action = ActionDone
	}
	out := Configuration{
		InputType:      w.InputType,
		ReadOnly:       w.ReadOnly,
		ObscureText:    w.ObscureText,
		Autocorrect:    w.Autocorrect == nil || *w.Autocorrect,
		Capitalization: capitalizationFromTag(w.Capitalization),
		Action:         action,
		Appearance:     appearanceFromTag(w.Appearance),
		Autofill:       w.Autofill,
	}
	if w.ActionLabel != nil {
		out.ActionLabel = *w.ActionLabel
	}
	*c = out
	return nil
}
