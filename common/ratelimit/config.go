package ratelimit

// Limits holds the windows applied by the API. Saves are cheap appends, so
// actors get a generous budget; autofill fans out to the extraction service
// and earns a much tighter one.
type Limits struct {
	// GlobalPerMinute caps total write traffic across all actors.
	GlobalPerMinute int64

	// SavesPerActorPerMinute caps interactive saves for one actor.
	SavesPerActorPerMinute int64

	// AutofillPerResumePerHour caps extraction runs for one resume.
	AutofillPerResumePerHour int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		GlobalPerMinute:          600,
		SavesPerActorPerMinute:   120,
		AutofillPerResumePerHour: 30,
	}
}
