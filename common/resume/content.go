// Package resume defines the structured content model for a loan
// origination resume: sections of provenance-tagged fields, a lock map
// that travels inside the content payload, and the merge policies that
// combine interactive edits and autofill batches with the latest
// persisted snapshot.
package resume

import (
	"encoding/json"
	"fmt"
	"strings"
)

// lockedFieldsKey is the reserved root key holding the lock map, so
// locks are versioned atomically with the content they protect.
const lockedFieldsKey = "_lockedFields"

// LockMap flags individual fields as locked against autofill overwrite.
type LockMap map[string]bool

// ValueWitness is an alternative or previously-held value retained on a
// field for reviewer comparison.
type ValueWitness struct {
	Value  any     `json:"value"`
	Source *Source `json:"source,omitempty"`
}

// FieldRecord is one field's value together with its provenance and
// review metadata. A record whose Value is nil carries no source.
type FieldRecord struct {
	Value       any            `json:"value"`
	Source      *Source        `json:"source,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	OtherValues []ValueWitness `json:"other_values,omitempty"`
}

// Section maps field ids to their records
type Section map[string]*FieldRecord

// Content is the full structured document for one resume. Sections hold
// the field records, Locks is the embedded lock map, and Extra carries
// root-level keys owned by external schemas (timestamps, completeness,
// custom metadata) through load/persist unmodified.
type Content struct {
	Sections map[string]Section
	Locks    LockMap
	Extra    map[string]json.RawMessage
}

// NewContent returns an empty content document
func NewContent() Content {
	return Content{Sections: make(map[string]Section)}
}

// Field returns the record for a field, or nil when the section or
// field is absent.
func (c Content) Field(sectionID, fieldID string) *FieldRecord {
	sec, ok := c.Sections[sectionID]
	if !ok {
		return nil
	}
	return sec[fieldID]
}

// Locked reports whether a field is flagged in the lock map
func (c Content) Locked(fieldID string) bool {
	return c.Locks[fieldID]
}

// Clone returns a deep copy of the content. Field values are copied by
// JSON round-trip since they are arbitrary decoded JSON.
func (c Content) Clone() (Content, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return Content{}, fmt.Errorf("clone content: %w", err)
	}
	var out Content
	if err := json.Unmarshal(raw, &out); err != nil {
		return Content{}, fmt.Errorf("clone content: %w", err)
	}
	return out, nil
}

// MarshalJSON flattens sections, extra keys, and the lock map into the
// single root object persisted as one version snapshot.
func (c Content) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Sections)+len(c.Extra)+1)
	for id, sec := range c.Sections {
		out[id] = sec
	}
	for key, raw := range c.Extra {
		out[key] = raw
	}
	if len(c.Locks) > 0 {
		out[lockedFieldsKey] = c.Locks
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a stored snapshot back into sections, locks, and
// passthrough extras. Root objects decode as sections; every other root
// value is external metadata and is kept verbatim.
func (c *Content) UnmarshalJSON(data []byte) error {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}

	c.Sections = make(map[string]Section, len(root))
	c.Locks = nil
	c.Extra = nil

	for key, raw := range root {
		switch {
		case key == lockedFieldsKey:
			locks := LockMap{}
			if err := json.Unmarshal(raw, &locks); err != nil {
				return fmt.Errorf("decode %s: %w", lockedFieldsKey, err)
			}
			c.Locks = locks
		case !strings.HasPrefix(key, "_") && isJSONObject(raw):
			var sec Section
			if err := json.Unmarshal(raw, &sec); err != nil {
				return fmt.Errorf("decode section %q: %w", key, err)
			}
			c.Sections[key] = sec
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[key] = raw
		}
	}
	return nil
}

// UnmarshalJSON accepts both the rich record shape and legacy bare
// values. Bare values (including objects without record keys) become
// the record's value with user-input provenance.
func (f *FieldRecord) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil && isRichRecord(probe) {
		var rec struct {
			Value       any            `json:"value"`
			Source      any            `json:"source"`
			Sources     []any          `json:"sources"`
			Warnings    []string       `json:"warnings"`
			OtherValues []ValueWitness `json:"other_values"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode field record: %w", err)
		}
		f.Value = rec.Value
		f.Warnings = rec.Warnings
		f.OtherValues = rec.OtherValues
		switch {
		case rec.Value == nil:
			f.Source = nil
		case rec.Source != nil:
			f.Source = NormalizeSource(rec.Source)
		case len(rec.Sources) > 0:
			f.Source = NormalizeSource(rec.Sources[0])
		default:
			f.Source = UserInput()
		}
		return nil
	}

	var bare any
	if err := json.Unmarshal(data, &bare); err != nil {
		return fmt.Errorf("decode field value: %w", err)
	}
	f.Value = bare
	f.Warnings = nil
	f.OtherValues = nil
	if bare != nil {
		f.Source = UserInput()
	} else {
		f.Source = nil
	}
	return nil
}

// UnmarshalJSON tolerates legacy witness shapes the same way
// FieldRecord does.
func (w *ValueWitness) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil && isRichRecord(probe) {
		var rec struct {
			Value   any   `json:"value"`
			Source  any   `json:"source"`
			Sources []any `json:"sources"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode value witness: %w", err)
		}
		w.Value = rec.Value
		switch {
		case rec.Value == nil:
			w.Source = nil
		case rec.Source != nil:
			w.Source = NormalizeSource(rec.Source)
		case len(rec.Sources) > 0:
			w.Source = NormalizeSource(rec.Sources[0])
		default:
			w.Source = UserInput()
		}
		return nil
	}

	var bare any
	if err := json.Unmarshal(data, &bare); err != nil {
		return fmt.Errorf("decode value witness: %w", err)
	}
	w.Value = bare
	if bare != nil {
		w.Source = UserInput()
	} else {
		w.Source = nil
	}
	return nil
}

func isRichRecord(obj map[string]json.RawMessage) bool {
	if _, ok := obj["value"]; ok {
		return true
	}
	if _, ok := obj["source"]; ok {
		return true
	}
	if _, ok := obj["sources"]; ok {
		return true
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
