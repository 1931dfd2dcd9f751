package resume

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Policy selects how an update combines with the latest snapshot
type Policy string

const (
	// PolicyInteractive is for human edits: every targeted field is
	// overwritten unconditionally, since locking and unlocking are
	// themselves side effects of the same update.
	PolicyInteractive Policy = "interactive"
	// PolicyAutofill is for extraction batches: locked fields are
	// never overwritten, and applied candidates are locked by default
	// to signal they need review.
	PolicyAutofill Policy = "autofill"
)

// Outcome classifies what the merge did with one field
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomePreservedLocked Outcome = "preserved-locked"
	OutcomeUnchanged       Outcome = "unchanged"
)

// Decision is one row of the merge decision log
type Decision struct {
	Section string  `json:"section"`
	Field   string  `json:"field"`
	Outcome Outcome `json:"outcome"`
}

// Update is a partial change set to merge with the latest snapshot.
// A nil Locks map leaves the lock map untouched; entries set a field's
// lock when true and remove it when false. Locks and Extra are applied
// by the interactive policy only.
type Update struct {
	Sections map[string]Section
	Locks    map[string]bool
	Extra    map[string]json.RawMessage
}

// Merge combines an update with the latest persisted snapshot under the
// given policy and returns the next snapshot plus the decision log.
// The caller is responsible for passing the freshest snapshot it can
// fetch; merging against a stale one widens the lost-update window.
func Merge(latest Content, upd Update, policy Policy) (Content, []Decision, error) {
	next, err := latest.Clone()
	if err != nil {
		return Content{}, nil, err
	}
	if next.Sections == nil {
		next.Sections = make(map[string]Section)
	}

	var decisions []Decision
	switch policy {
	case PolicyInteractive:
		decisions = mergeInteractive(&next, upd)
	case PolicyAutofill:
		decisions = mergeAutofill(&next, upd)
	default:
		return Content{}, nil, fmt.Errorf("unknown merge policy %q", policy)
	}

	sort.Slice(decisions, func(i, j int) bool {
		if decisions[i].Section != decisions[j].Section {
			return decisions[i].Section < decisions[j].Section
		}
		return decisions[i].Field < decisions[j].Field
	})
	return next, decisions, nil
}

func mergeInteractive(next *Content, upd Update) []Decision {
	var decisions []Decision

	for sectionID, fields := range upd.Sections {
		sec := next.Sections[sectionID]
		if sec == nil {
			sec = Section{}
			next.Sections[sectionID] = sec
		}
		for fieldID, incoming := range fields {
			if incoming == nil || incoming.Value == nil {
				// Explicit clear: the key stays so the clear is
				// visible in the version diff, the metadata goes.
				sec[fieldID] = &FieldRecord{}
				decisions = append(decisions, Decision{Section: sectionID, Field: fieldID, Outcome: OutcomeApplied})
				continue
			}

			rec := &FieldRecord{
				Value:       incoming.Value,
				Source:      incoming.Source,
				Warnings:    incoming.Warnings,
				OtherValues: incoming.OtherValues,
			}
			if rec.Source == nil {
				rec.Source = UserInput()
			}
			if rec.OtherValues == nil {
				if existing := sec[fieldID]; existing != nil {
					rec.OtherValues = existing.OtherValues
				}
			}
			sec[fieldID] = rec
			decisions = append(decisions, Decision{Section: sectionID, Field: fieldID, Outcome: OutcomeApplied})
		}
	}

	for fieldID, locked := range upd.Locks {
		if next.Locks == nil {
			next.Locks = LockMap{}
		}
		if locked {
			next.Locks[fieldID] = true
		} else {
			delete(next.Locks, fieldID)
		}
	}

	for key, raw := range upd.Extra {
		if next.Extra == nil {
			next.Extra = make(map[string]json.RawMessage)
		}
		next.Extra[key] = raw
	}

	return decisions
}

func mergeAutofill(next *Content, upd Update) []Decision {
	var decisions []Decision
	decided := make(map[string]struct{})
	mark := func(sectionID, fieldID string, outcome Outcome) {
		decisions = append(decisions, Decision{Section: sectionID, Field: fieldID, Outcome: outcome})
		decided[sectionID+"\x00"+fieldID] = struct{}{}
	}

	for sectionID, fields := range upd.Sections {
		for fieldID, candidate := range fields {
			if candidate == nil {
				continue
			}

			if next.Locked(fieldID) {
				// Locked values are never altered. The candidate's
				// warnings still reach the reviewer.
				if existing := next.Field(sectionID, fieldID); existing != nil {
					existing.Warnings = mergeWarnings(existing.Warnings, candidate.Warnings)
				}
				mark(sectionID, fieldID, OutcomePreservedLocked)
				continue
			}

			if !valuePresent(candidate.Value) {
				continue
			}

			sec := next.Sections[sectionID]
			if sec == nil {
				sec = Section{}
				next.Sections[sectionID] = sec
			}

			rec := &FieldRecord{
				Value:    candidate.Value,
				Source:   candidate.Source,
				Warnings: candidate.Warnings,
			}
			if rec.Source == nil {
				rec.Source = UserInput()
			}
			if existing := sec[fieldID]; existing != nil {
				rec.OtherValues = existing.OtherValues
				if valuePresent(existing.Value) && !reflect.DeepEqual(existing.Value, candidate.Value) {
					rec.OtherValues = appendWitness(rec.OtherValues, ValueWitness{Value: existing.Value, Source: existing.Source})
				}
			}
			sec[fieldID] = rec

			if next.Locks == nil {
				next.Locks = LockMap{}
			}
			next.Locks[fieldID] = true
			mark(sectionID, fieldID, OutcomeApplied)
		}
	}

	// Unlocked fields that already hold a value and saw no usable
	// candidate this round are logged as untouched.
	for sectionID, sec := range next.Sections {
		for fieldID, rec := range sec {
			if rec == nil || !valuePresent(rec.Value) || next.Locked(fieldID) {
				continue
			}
			if _, ok := decided[sectionID+"\x00"+fieldID]; ok {
				continue
			}
			mark(sectionID, fieldID, OutcomeUnchanged)
		}
	}

	return decisions
}

func mergeWarnings(existing, incoming []string) []string {
	out := existing
	for _, w := range incoming {
		found := false
		for _, have := range out {
			if have == w {
				found = true
				break
			}
		}
		if !found {
			out = append(out, w)
		}
	}
	return out
}

func appendWitness(witnesses []ValueWitness, w ValueWitness) []ValueWitness {
	for _, have := range witnesses {
		if reflect.DeepEqual(have, w) {
			return witnesses
		}
	}
	return append(witnesses, w)
}
