package widget

import "time"

// CycleOutcome labels how a fetch-render cycle ended.
type CycleOutcome string

const (
	CycleOutcomeRendered    CycleOutcome = "rendered"
	CycleOutcomeNoData      CycleOutcome = "no_data"
	CycleOutcomeUnsupported CycleOutcome = "unsupported"
	CycleOutcomeRenderError CycleOutcome = "render_error"
)

// CredentialOutcome labels a credential cache lookup.
type CredentialOutcome string

const (
	CredentialOutcomeCached CredentialOutcome = "cached"
	CredentialOutcomeIssued CredentialOutcome = "issued"
	CredentialOutcomeFailed CredentialOutcome = "failed"
)

// Recorder receives engine measurements.
type Recorder interface {
	CycleCompleted(moduleType string, outcome CycleOutcome, duration time.Duration)
	FetchCompleted(moduleType string, succeeded bool, duration time.Duration)
	CredentialLookup(outcome CredentialOutcome)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) CycleCompleted(string, CycleOutcome, time.Duration) {}

func (NopRecorder) FetchCompleted(string, bool, time.Duration) {}

func (NopRecorder) CredentialLookup(CredentialOutcome) {}
