package event

import (
	"strings"

	"github.com/tidwall/sjson"
)

// MaskedValue replaces any value captured from a password-like field.
const MaskedValue = "[masked]"

// DefaultMaxText bounds elementText and value length in a CapturedEvent.
const DefaultMaxText = 160

// controlKeys is the keydown/keyup allow-list; everything else is dropped so
// plain typing never leaks through key events.
var controlKeys = map[string]bool{
	"Enter":      true,
	"Escape":     true,
	"Tab":        true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
}

// Normalizer converts raw bridge records into CapturedEvents, applying the
// masking, truncation and metadata rules of the recorder wire format.
type Normalizer struct {
	MaxText int
}

func NewNormalizer() *Normalizer {
	return &Normalizer{MaxText: DefaultMaxText}
}

// Normalize produces the canonical event for a raw record. The selector has
// already been resolved by the caller (empty when none could be built).
// It returns false when the record is of a kind that must not be emitted,
// such as a non-control key press.
func (n *Normalizer) Normalize(raw RawEvent, sel string, pointer PointerPosition) (CapturedEvent, bool) {
	ev := CapturedEvent{
		EventType: raw.Type,
		Selector:  sel,
		URL:       raw.URL,
		Ts:        raw.Ts,
	}

	x, y := raw.X, raw.Y
	if x == 0 && y == 0 {
		x, y = pointer.X, pointer.Y
	}

	switch raw.Type {
	case "click", "dblclick", "contextmenu":
		ev.ElementText = n.displayText(raw.Target)
		ev.MetaJSON = metaJSON(
			metaStr("tag", targetTag(raw.Target)),
			metaStr("type", targetInputType(raw.Target)),
			metaBool("editable", targetEditable(raw.Target)),
			metaNum("x", x),
			metaNum("y", y),
		)
	case "input":
		ev.Value = n.controlValue(raw.Target)
		ev.MetaJSON = metaJSON(
			metaStr("inputType", raw.InputType),
			metaStr("tag", targetTag(raw.Target)),
			metaStr("type", targetInputType(raw.Target)),
			metaNum("x", x),
			metaNum("y", y),
		)
	case "change":
		ev.Value = n.controlValue(raw.Target)
		ev.ElementText = n.displayText(raw.Target)
		ev.MetaJSON = metaJSON(
			metaStr("tag", targetTag(raw.Target)),
			metaStr("type", targetInputType(raw.Target)),
			metaNum("x", x),
			metaNum("y", y),
		)
	case "submit":
		ev.ElementText = n.displayText(raw.Target)
		ev.MetaJSON = metaJSON(
			metaStr("tag", targetTag(raw.Target)),
			metaStr("action", raw.FormAction),
			metaStr("method", raw.FormMethod),
		)
	case "keydown", "keyup":
		if !controlKeys[raw.Key] {
			return CapturedEvent{}, false
		}
		ev.Value = raw.Key
		ev.MetaJSON = metaJSON(
			metaStr("tag", targetTag(raw.Target)),
			metaBool("alt", raw.AltKey),
			metaBool("ctrl", raw.CtrlKey),
			metaBool("shift", raw.ShiftKey),
			metaBool("meta", raw.MetaKey),
			metaNum("x", x),
			metaNum("y", y),
		)
	case "scroll":
		ev.Selector = ""
		ev.MetaJSON = metaJSON(
			metaNum("scrollX", raw.ScrollX),
			metaNum("scrollY", raw.ScrollY),
		)
	case "resize":
		ev.Selector = ""
		ev.MetaJSON = metaJSON(
			metaInt("innerWidth", raw.InnerWidth),
			metaInt("innerHeight", raw.InnerHeight),
			metaInt("outerWidth", raw.OuterWidth),
			metaInt("outerHeight", raw.OuterHeight),
		)
	case "focusin", "focusout":
		if raw.Type == "focusin" {
			ev.EventType = "focus"
		} else {
			ev.EventType = "blur"
		}
		ev.ElementText = n.displayText(raw.Target)
		ev.MetaJSON = metaJSON(metaStr("tag", targetTag(raw.Target)))
	default:
		return CapturedEvent{}, false
	}

	return ev, true
}

// controlValue reads the target's form value and masks it when the field
// looks password-bearing.
func (n *Normalizer) controlValue(ref *ElementRef) string {
	if ref == nil {
		return ""
	}
	if Sensitive(*ref) {
		return MaskedValue
	}
	return Truncate(ref.Value, n.max())
}

// displayText resolves human-readable text for the target: form value text
// first (selected option label for selects), then aria-label, placeholder and
// name, then rendered innerText, and finally raw textContent.
func (n *Normalizer) displayText(ref *ElementRef) string {
	if ref == nil {
		return ""
	}
	candidates := []string{
		ref.OptionText,
		ref.Attr("aria-label"),
		ref.Attr("placeholder"),
		ref.Attr("name"),
		ref.InnerText,
		ref.TextContent,
	}
	for _, c := range candidates {
		if t := trim(c); t != "" {
			return Truncate(t, n.max())
		}
	}
	return ""
}

func (n *Normalizer) max() int {
	if n.MaxText <= 0 {
		return DefaultMaxText
	}
	return n.MaxText
}

// Sensitive reports whether a field must have its value masked: password
// inputs, or any control whose name, id or aria-label mentions "password".
func Sensitive(ref ElementRef) bool {
	if strings.EqualFold(ref.InputType, "password") {
		return true
	}
	for _, attr := range []string{"name", "id", "aria-label"} {
		if strings.Contains(strings.ToLower(ref.Attr(attr)), "password") {
			return true
		}
	}
	return false
}

// Truncate trims whitespace and caps the text at max runes.
func Truncate(s string, max int) string {
	s = trim(s)
	if max <= 0 {
		max = DefaultMaxText
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func trim(s string) string { return strings.TrimSpace(s) }

func targetTag(ref *ElementRef) string {
	if ref == nil {
		return ""
	}
	return strings.ToLower(ref.Tag)
}

func targetInputType(ref *ElementRef) string {
	if ref == nil {
		return ""
	}
	return ref.InputType
}

func targetEditable(ref *ElementRef) bool {
	return ref != nil && ref.Editable
}

type metaField struct {
	key  string
	val  any
	keep bool
}

func metaStr(key, val string) metaField {
	return metaField{key: key, val: val, keep: trim(val) != ""}
}

func metaNum(key string, val float64) metaField {
	return metaField{key: key, val: val, keep: true}
}

func metaInt(key string, val int) metaField {
	return metaField{key: key, val: val, keep: val != 0}
}

func metaBool(key string, val bool) metaField {
	return metaField{key: key, val: val, keep: val}
}

// metaJSON builds the compact metadata object. Fields marked keep=false are
// never serialized, so the result contains no empty strings or nulls. Returns
// "" when nothing qualifies.
func metaJSON(fields ...metaField) string {
	out := []byte("{}")
	n := 0
	for _, f := range fields {
		if !f.keep {
			continue
		}
		b, err := sjson.SetBytes(out, f.key, f.val)
		if err != nil {
			continue
		}
		out = b
		n++
	}
	if n == 0 {
		return ""
	}
	return string(out)
}
