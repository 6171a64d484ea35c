package dispatch

import "strings"

// UnitKind is the media type of one dispatchable unit.
type UnitKind string

const (
	UnitAudio UnitKind = "audio"
	UnitImage UnitKind = "image"
	UnitText  UnitKind = "text"
)

// Unit is one piece of content to deliver. Audio and image units carry a
// symbolic AssetID resolved to a URL at send time; text units carry the body.
type Unit struct {
	Kind    UnitKind
	Body    string
	AssetID string
}

// Plan is an ordered list of units delivered to one conversation exactly
// once. Both the funnel's fixed packages and the model gateway produce this
// shape, so the dispatcher never parses markers out of natural language.
type Plan []Unit

// Text builds a single-text plan.
func Text(body string) Plan {
	return Plan{{Kind: UnitText, Body: body}}
}

// IsEmpty reports whether the plan has nothing to send.
func (p Plan) IsEmpty() bool {
	for _, u := range p {
		switch u.Kind {
		case UnitText:
			if strings.TrimSpace(u.Body) != "" {
				return false
			}
		case UnitAudio, UnitImage:
			if u.AssetID != "" {
				return false
			}
		}
	}
	return true
}
