package event

// CapturedEvent is the portable record of one user interaction, shaped for
// storage and later replay by the controller process.
type CapturedEvent struct {
	EventID           string `json:"eventId"`
	EventType         string `json:"eventType"`
	Selector          string `json:"selector,omitempty"`
	ElementText       string `json:"elementText,omitempty"`
	Value             string `json:"value,omitempty"`
	URL               string `json:"url"`
	MetaJSON          string `json:"metaJson,omitempty"`
	Origin            string `json:"origin,omitempty"` // user, ai, system
	ScreenshotDataURL string `json:"screenshotDataUrl,omitempty"`
	Ts                int64  `json:"ts"`
	Seq               int64  `json:"seq"`
}

// NetworkRequest summarizes one observed page request. Only document and
// API-style traffic is reported; static assets stay out of the stream.
type NetworkRequest struct {
	Method   string `json:"method"`
	URL      string `json:"url"`
	Status   int    `json:"status,omitempty"`
	TimingMs int64  `json:"timingMs,omitempty"`
	Resource string `json:"resourceType,omitempty"`
	Ts       int64  `json:"ts"`
}

// PointerPosition is the most recently observed pointer location. It serves as
// a coordinate fallback for events that carry none (keyboard-triggered input).
type PointerPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathStep is one segment of an element's structural ancestry: the tag name
// and the 1-based position among same-tag siblings.
type PathStep struct {
	Tag   string `json:"tag"`
	Index int    `json:"index"`
}

// ElementRef describes the target element of a raw event as observed inside
// the page. The capture bridge builds it at event time because the element
// reference itself cannot leave the browser.
type ElementRef struct {
	Tag         string            `json:"tag"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Path        []PathStep        `json:"path,omitempty"` // element first, walking toward body
	Editable    bool              `json:"editable,omitempty"`
	InputType   string            `json:"inputType,omitempty"` // type attribute for <input>
	Value       string            `json:"value,omitempty"`
	OptionText  string            `json:"optionText,omitempty"` // selected option label for <select>
	InnerText   string            `json:"innerText,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
}

// Attr returns a trimmed attribute value, or "" when absent.
func (r ElementRef) Attr(name string) string {
	if r.Attrs == nil {
		return ""
	}
	return trim(r.Attrs[name])
}

// RawEvent is the unnormalized record drained from the capture bridge.
type RawEvent struct {
	Type        string      `json:"type"`
	URL         string      `json:"url"`
	Ts          int64       `json:"ts"`
	Target      *ElementRef `json:"target,omitempty"`
	X           float64     `json:"x,omitempty"`
	Y           float64     `json:"y,omitempty"`
	Key         string      `json:"key,omitempty"`
	AltKey      bool        `json:"altKey,omitempty"`
	CtrlKey     bool        `json:"ctrlKey,omitempty"`
	ShiftKey    bool        `json:"shiftKey,omitempty"`
	MetaKey     bool        `json:"metaKey,omitempty"`
	InputType   string      `json:"inputType,omitempty"` // InputEvent.inputType, e.g. insertText
	ScrollX     float64     `json:"scrollX,omitempty"`
	ScrollY     float64     `json:"scrollY,omitempty"`
	InnerWidth  int         `json:"innerWidth,omitempty"`
	InnerHeight int         `json:"innerHeight,omitempty"`
	OuterWidth  int         `json:"outerWidth,omitempty"`
	OuterHeight int         `json:"outerHeight,omitempty"`
	FormAction  string      `json:"formAction,omitempty"`
	FormMethod  string      `json:"formMethod,omitempty"`
}
