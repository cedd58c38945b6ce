// Package theme carries the demo's colors and metrics.
package theme

import (
	"image/color"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the demo colors.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Primary    color.NRGBA
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Border     color.NRGBA
	Success    color.NRGBA
}

// Config defines the demo metrics.
type Config struct {
	CornerRadius unit.Dp
	Spacing      unit.Dp
	Padding      unit.Dp
	FontTitle    unit.Sp
	FontBody     unit.Sp
	FontCaption  unit.Sp
}

// Theme wraps the material theme with demo styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme builds the demo's dark theme.
func NewTheme(mtheme *material.Theme) *Theme {
	return &Theme{
		Theme: mtheme,
		Palette: Palette{
			Background: color.NRGBA{R: 0x1C, G: 0x1D, B: 0x22, A: 0xFF},
			Surface:    color.NRGBA{R: 0x26, G: 0x28, B: 0x2E, A: 0xFF},
			Primary:    color.NRGBA{R: 0x4C, G: 0x8F, B: 0xE8, A: 0xFF},
			Text:       color.NRGBA{R: 0xEC, G: 0xED, B: 0xF0, A: 0xFF},
			TextMuted:  color.NRGBA{R: 0x8B, G: 0x8E, B: 0x98, A: 0xFF},
			Border:     color.NRGBA{R: 0x3A, G: 0x3D, B: 0x45, A: 0xFF},
			Success:    color.NRGBA{R: 0x4F, G: 0xC2, B: 0x6B, A: 0xFF},
		},
		Config: Config{
			CornerRadius: unit.Dp(6),
			Spacing:      unit.Dp(10),
			Padding:      unit.Dp(20),
			FontTitle:    unit.Sp(20),
			FontBody:     unit.Sp(14),
			FontCaption:  unit.Sp(11),
		},
	}
}
