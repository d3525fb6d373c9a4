package models

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Effect identifies a visual filter applied to an artifact.
type Effect string

const (
	EffectNone     Effect = ""
	EffectMono     Effect = "mono"
	EffectSepia    Effect = "sepia"
	EffectVintage  Effect = "vintage"
	EffectNegative Effect = "negative"
	EffectBlur     Effect = "blur"
)

// effectFilters maps every known effect to its ffmpeg video filter.
var effectFilters = map[Effect]string{
	EffectMono:     "hue=s=0",
	EffectSepia:    "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131",
	EffectVintage:  "curves=preset=vintage",
	EffectNegative: "negate",
	EffectBlur:     "boxblur=2:1",
}

var titleCaser = cases.Title(language.English)

// ParseEffect normalises user input into a known effect. The empty string and
// "none" both map to EffectNone.
func ParseEffect(raw string) (Effect, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || name == "none" {
		return EffectNone, true
	}
	effect := Effect(name)
	if _, ok := effectFilters[effect]; !ok {
		return EffectNone, false
	}
	return effect, true
}

// Filter returns the ffmpeg filter expression for the effect, or "" for EffectNone.
func (e Effect) Filter() string {
	return effectFilters[e]
}

// DisplayName renders the effect for menus.
func (e Effect) DisplayName() string {
	if e == EffectNone {
		return "None"
	}
	return titleCaser.String(string(e))
}

// Effects lists the selectable effects in a stable order.
func Effects() []Effect {
	out := make([]Effect, 0, len(effectFilters))
	for effect := range effectFilters {
		out = append(out, effect)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
