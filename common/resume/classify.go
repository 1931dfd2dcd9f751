package resume

// State is the derived display/consistency state of a field. It is
// computed on demand, never stored.
type State string

const (
	StateEmpty    State = "empty"
	StateEditable State = "editable"
	StateLocked   State = "locked"
)

// Classify computes a field's state from value presence and the lock
// flag. Provenance is accepted for symmetry with the stored record but
// never changes the outcome: a field with no value is empty no matter
// what its source claims.
func Classify(value any, locked bool, source *Source) State {
	if !valuePresent(value) {
		return StateEmpty
	}
	if locked {
		return StateLocked
	}
	return StateEditable
}

// valuePresent reports whether a field holds a meaningful value. Nil
// and the empty string do not count; zero, false, and empty composites
// do.
func valuePresent(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}
