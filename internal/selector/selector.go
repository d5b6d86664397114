// Package selector derives stable CSS selectors for captured elements.
// Attribute-based selectors are preferred because they survive DOM
// reshuffling; the structural fallback is depth-capped to bound fragility.
package selector

import (
	"fmt"
	"strings"

	"qarecorder/internal/event"
)

// attrPriority is scanned in order; the first present, non-empty attribute
// wins and short-circuits the structural walk.
var attrPriority = []string{"data-testid", "data-purpose", "id", "name", "aria-label", "role"}

// MaxPathDepth caps the structural fallback path length.
const MaxPathDepth = 4

// Build returns a selector for the described element, or false when none can
// be derived (an element with no ancestry information at all).
func Build(ref event.ElementRef) (string, bool) {
	tag := strings.ToLower(strings.TrimSpace(ref.Tag))

	for _, attr := range attrPriority {
		val := ref.Attr(attr)
		if val == "" {
			continue
		}
		if attr == "id" {
			return "#" + EscapeIdent(val), true
		}
		return fmt.Sprintf(`%s[%s="%s"]`, tag, attr, EscapeAttr(val)), true
	}

	if len(ref.Path) == 0 {
		return "", false
	}

	depth := len(ref.Path)
	if depth > MaxPathDepth {
		depth = MaxPathDepth
	}
	segments := make([]string, 0, depth)
	// Path is recorded element-first; the selector reads top-down.
	for i := depth - 1; i >= 0; i-- {
		step := ref.Path[i]
		segTag := strings.ToLower(strings.TrimSpace(step.Tag))
		if segTag == "" {
			continue
		}
		idx := step.Index
		if idx < 1 {
			idx = 1
		}
		segments = append(segments, fmt.Sprintf("%s:nth-of-type(%d)", segTag, idx))
	}
	if len(segments) == 0 {
		return "", false
	}
	return strings.Join(segments, " > "), true
}

// EscapeAttr escapes a value for use inside a double-quoted CSS attribute
// selector.
func EscapeAttr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// EscapeIdent escapes a value for use as a CSS identifier, close enough to
// CSS.escape for the identifiers real pages carry.
func EscapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r > 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				// A leading digit needs the code-point escape form.
				fmt.Fprintf(&b, `\3%c `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
