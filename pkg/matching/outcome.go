package matching

import (
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/normalize"
)

// Kind classifies a match outcome.
type Kind string

const (
	// KindMatched pairs a foreign record with exactly one internal vehicle.
	KindMatched Kind = "matched"
	// KindUnmatched means no internal vehicle could be paired.
	KindUnmatched Kind = "unmatched"
	// KindAmbiguous means several internal vehicles remained after every narrowing step.
	KindAmbiguous Kind = "ambiguous"
)

// Reason explains an unmatched outcome.
type Reason string

// Unmatched reasons.
const (
	ReasonNoPlateStructure Reason = "no plate structure"
	ReasonInvalidPlate     Reason = "invalid plate format"
	ReasonNoCandidate      Reason = "no candidate"
)

// Step names the cascade step that resolved a match.
type Step string

// Cascade steps.
const (
	StepPlate        Step = "plate"
	StepManufacturer Step = "manufacturer"
	StepYear         Step = "year"
)

// Outcome is the result of matching one foreign record.
type Outcome struct {
	Kind    Kind                `json:"kind" yaml:"kind"`
	Foreign fleet.ForeignRecord `json:"foreign" yaml:"foreign"`
	Plate   normalize.Plate     `json:"plate" yaml:"plate"`

	// Internal is set for matched outcomes.
	Internal *fleet.InternalVehicle `json:"internal,omitempty" yaml:"internal,omitempty"`
	// Step is set for matched outcomes.
	Step Step `json:"step,omitempty" yaml:"step,omitempty"`

	// Reason is set for unmatched outcomes.
	Reason Reason `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Candidates is the full candidate set of an ambiguous outcome.
	Candidates []fleet.InternalVehicle `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// Result holds one outcome per foreign record, in input order, and the
// internal vehicles no outcome consumed.
type Result struct {
	Outcomes  []Outcome
	Remaining []fleet.InternalVehicle
}

// Matched returns the matched outcomes.
func (r *Result) Matched() []Outcome { return r.filter(KindMatched) }

// Unmatched returns the unmatched outcomes.
func (r *Result) Unmatched() []Outcome { return r.filter(KindUnmatched) }

// Ambiguous returns the ambiguous outcomes.
func (r *Result) Ambiguous() []Outcome { return r.filter(KindAmbiguous) }

func (r *Result) filter(k Kind) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == k {
			out = append(out, o)
		}
	}
	return out
}

// Counts summarizes a match result.
type Counts struct {
	Foreign   int `json:"foreign" yaml:"foreign"`
	Matched   int `json:"matched" yaml:"matched"`
	Unmatched int `json:"unmatched" yaml:"unmatched"`
	Ambiguous int `json:"ambiguous" yaml:"ambiguous"`
	Remaining int `json:"remaining" yaml:"remaining"`
}

// Counts tallies outcomes by kind.
func (r *Result) Counts() Counts {
	c := Counts{Foreign: len(r.Outcomes), Remaining: len(r.Remaining)}
	for _, o := range r.Outcomes {
		switch o.Kind {
		case KindMatched:
			c.Matched++
		case KindUnmatched:
			c.Unmatched++
		case KindAmbiguous:
			c.Ambiguous++
		}
	}
	return c
}
