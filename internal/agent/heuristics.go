package agent

import "time"

// Heuristics describes how the platform's controls are recognised. Text
// matching is exact for the *Exact lists and case-insensitive substring
// for the rest.
type Heuristics struct {
	Clickable           string
	MenuItems           string
	Dialog              string
	FileInput           string
	Toggle              string
	LocalSourceSelector string

	AddFormExact      []string
	AddFormContains   []string
	UploadOption      []string
	LocalSource       []string
	PrimaryInputHints []string
	AttachToggle      []string
	SubmitExact       []string
}

// DefaultHeuristics matches the current platform UI.
func DefaultHeuristics() Heuristics {
	clickable := `button, [role="button"], a`
	return Heuristics{
		Clickable:           clickable,
		MenuItems:           clickable + `, [role="menuitem"], li`,
		Dialog:              `[role="dialog"], .modal, dialog[open]`,
		FileInput:           `input[type="file"]`,
		Toggle:              `input[type="checkbox"], [role="switch"], [role="checkbox"]`,
		LocalSourceSelector: clickable + `, input[type="radio"], label`,

		AddFormExact:      []string{"+"},
		AddFormContains:   []string{"Add form", "add your first"},
		UploadOption:      []string{"upload form definition"},
		LocalSource:       []string{"upload from local", "local file", "from your computer"},
		PrimaryInputHints: []string{"definition", "form", "xls"},
		AttachToggle:      []string{"attach"},
		SubmitExact:       []string{"Upload"},
	}
}

// Timing bounds every wait in the upload sequence.
type Timing struct {
	// ReadyPoll and ReadyTimeout drive the page-readiness poll.
	ReadyPoll    time.Duration
	ReadyTimeout time.Duration
	// Poll is how often a step re-checks for its affordance.
	Poll time.Duration
	// StepTimeout bounds the wait for each next affordance.
	StepTimeout time.Duration
	// AttachmentRender bounds the wait for per-attachment inputs.
	AttachmentRender time.Duration
	// Settle is the pause after submitting before success is reported.
	Settle time.Duration
}

// DefaultTiming returns production timings.
func DefaultTiming() Timing {
	return Timing{
		ReadyPoll:        500 * time.Millisecond,
		ReadyTimeout:     15 * time.Second,
		Poll:             100 * time.Millisecond,
		StepTimeout:      10 * time.Second,
		AttachmentRender: 3 * time.Second,
		Settle:           2 * time.Second,
	}
}

// Options are the user-editable settings read at the start of each run.
type Options struct {
	AutoSubmit    bool
	UploadTimeout time.Duration
}

// DefaultOptions mirrors the stored option defaults.
func DefaultOptions() Options {
	return Options{AutoSubmit: true, UploadTimeout: 30 * time.Second}
}
