package core

// Result is an evaluation outcome that applies: either a progress increment or
// a met override, never both. "Not applicable" is represented by a nil *Result.
type Result struct {
	ProgressIncrement int64 `json:"progressIncrement,omitempty"`
	IsMetOverride     bool  `json:"isMetOverride,omitempty"`
}

// Increment returns a result adding n to the criterion's progress.
// Non-positive amounts are not applicable and yield nil.
func Increment(n int64) *Result {
	if n <= 0 {
		return nil
	}
	return &Result{ProgressIncrement: n}
}

// MetOverride returns a result marking the criterion satisfied outright.
func MetOverride() *Result { return &Result{IsMetOverride: true} }

func (r Result) String() string {
	if r.IsMetOverride {
		return "met_override"
	}
	return "increment"
}
