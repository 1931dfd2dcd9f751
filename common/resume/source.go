package resume

import "strings"

// SourceType enumerates where a field value came from
type SourceType string

const (
	SourceUserInput SourceType = "user_input"
	SourceDocument  SourceType = "document"
	SourceExternal  SourceType = "external"
	SourceDerived   SourceType = "derived"
)

// Source is the provenance tag attached to a field value. Name carries
// the document name, service, or derivation method depending on Type.
type Source struct {
	Type SourceType `json:"type"`
	Name string     `json:"name,omitempty"`
}

// UserInput returns the provenance tag for manually entered values
func UserInput() *Source {
	return &Source{Type: SourceUserInput}
}

// Document returns the provenance tag for a value extracted from a named document
func Document(name string) *Source {
	return &Source{Type: SourceDocument, Name: name}
}

// NormalizeSource coerces the shapes provenance has historically been
// stored in (bare strings, arrays of tags, typed objects) into a
// canonical Source. Unknown shapes degrade to user input rather than
// erroring so stored content always loads.
func NormalizeSource(raw any) *Source {
	switch v := raw.(type) {
	case nil:
		return UserInput()
	case *Source:
		if v == nil {
			return UserInput()
		}
		cp := *v
		return normalizeTyped(&cp)
	case Source:
		cp := v
		return normalizeTyped(&cp)
	case map[string]any:
		if t, ok := v["type"].(string); ok && t != "" {
			s := &Source{Type: SourceType(t)}
			if n, ok := v["name"].(string); ok {
				s.Name = n
			}
			return normalizeTyped(s)
		}
		return UserInput()
	case []any:
		if len(v) == 0 {
			return UserInput()
		}
		return NormalizeSource(v[0])
	case string:
		t := strings.ToLower(strings.TrimSpace(v))
		if t == "" {
			return UserInput()
		}
		if t == "user_input" || t == "user input" {
			return UserInput()
		}
		return Document(v)
	default:
		return UserInput()
	}
}

func normalizeTyped(s *Source) *Source {
	if s.Type == "" {
		s.Type = SourceUserInput
	}
	return s
}
