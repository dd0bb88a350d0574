package voice

import (
	"fmt"
	"strings"
)

// Field names accepted by Manager.Set and stored in the brand_voice table.
const (
	FieldTone       = "tone"
	FieldStyle      = "style"
	FieldValues     = "values"
	FieldAvoid      = "avoid"
	FieldGuidelines = "guidelines"
)

// Fields lists every settable voice field.
var Fields = []string{FieldTone, FieldStyle, FieldValues, FieldAvoid, FieldGuidelines}

// Voice is the brand persona every reply and content draft is written in.
type Voice struct {
	Tone       string   `json:"tone" yaml:"tone"`
	Style      string   `json:"style" yaml:"style"`
	Values     []string `json:"values" yaml:"values"`
	Avoid      []string `json:"avoid" yaml:"avoid"`
	Guidelines string   `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
}

// Default returns the built-in voice used until the operator configures one.
func Default() Voice {
	return Voice{
		Tone:   "inspirational, authentic, faith-based",
		Style:  "conversational, encouraging, professional",
		Values: []string{"faith", "motivation", "community", "growth"},
		Avoid:  []string{"overly promotional", "generic responses", "religious preaching"},
	}
}

// merge fills empty fields of v from base.
func (v Voice) merge(base Voice) Voice {
	if v.Tone == "" {
		v.Tone = base.Tone
	}
	if v.Style == "" {
		v.Style = base.Style
	}
	if len(v.Values) == 0 {
		v.Values = base.Values
	}
	if len(v.Avoid) == 0 {
		v.Avoid = base.Avoid
	}
	if v.Guidelines == "" {
		v.Guidelines = base.Guidelines
	}
	return v
}

func (v Voice) clone() Voice {
	cp := v
	cp.Values = append([]string(nil), v.Values...)
	cp.Avoid = append([]string(nil), v.Avoid...)
	return cp
}

// maxSummaryGuidelines bounds how much free-form guidance reaches a prompt.
const maxSummaryGuidelines = 1500

// Summary renders the voice as a prompt block.
func (v Voice) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Tone: %s\n", v.Tone)
	fmt.Fprintf(&b, "- Style: %s\n", v.Style)
	fmt.Fprintf(&b, "- Values: %s\n", strings.Join(v.Values, ", "))
	fmt.Fprintf(&b, "- Avoid: %s", strings.Join(v.Avoid, ", "))
	if g := strings.TrimSpace(v.Guidelines); g != "" {
		b.WriteString("\n- Guidelines:\n")
		b.WriteString(truncateRunes(g, maxSummaryGuidelines))
	}
	return b.String()
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
