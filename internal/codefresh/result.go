package codefresh

import (
	"fmt"

	"github.com/agentic-research/cfsync/api"
	"go.uber.org/multierr"
)

// Action is what reconciliation did, or in a dry run would do, to one
// remote object.
type Action string

const (
	ActionCreated   Action = "created"
	ActionExists    Action = "exists"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// Kinds of remote object.
const (
	KindPipeline = "pipeline"
	KindProject  = "project"
)

// Outcome records the decision taken for one item of a batch.
type Outcome struct {
	Kind        string
	Name        string
	Project     string
	Action      Action
	Fingerprint api.Fingerprint
	DryRun      bool
	Err         error
}

// Result collects the outcomes of a batch in input order.
type Result struct {
	Outcomes []Outcome
}

// Count returns how many outcomes ended with a.
func (r Result) Count(a Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Names returns the names of the outcomes that ended with a.
func (r Result) Names(a Action) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Action == a {
			out = append(out, o.Name)
		}
	}
	return out
}

// Failed returns the failed outcomes.
func (r Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err aggregates the per-item errors, or returns nil when every item
// succeeded.
func (r Result) Err() error {
	var errs error
	for _, o := range r.Failed() {
		errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", o.Kind, o.Name, o.Err))
	}
	return errs
}
