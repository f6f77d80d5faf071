package table

import "strings"

// Outcome is the set of truth values an expression may take over a group of
// rows: a bitmask of OutcomeTrue, OutcomeFalse and OutcomeNull. A file is
// skipped only when its outcome set excludes OutcomeTrue.
type Outcome uint8

const (
	OutcomeTrue Outcome = 1 << iota
	OutcomeFalse
	OutcomeNull

	// OutcomeAny carries no information.
	OutcomeAny = OutcomeTrue | OutcomeFalse | OutcomeNull
)

// outcomeOf lifts a single boolean into an outcome set.
func outcomeOf(b bool) Outcome {
	if b {
		return OutcomeTrue
	}
	return OutcomeFalse
}

// CanBeTrue reports whether some row may satisfy the expression.
func (o Outcome) CanBeTrue() bool { return o&OutcomeTrue != 0 }

// AlwaysTrue reports whether every row is known to satisfy the expression.
func (o Outcome) AlwaysTrue() bool { return o == OutcomeTrue }

func (o Outcome) String() string {
	if o == 0 {
		return "{}"
	}
	var parts []string
	if o&OutcomeTrue != 0 {
		parts = append(parts, "T")
	}
	if o&OutcomeFalse != 0 {
		parts = append(parts, "F")
	}
	if o&OutcomeNull != 0 {
		parts = append(parts, "N")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// and3 combines two outcome sets with SQL three-valued AND, taking every pair
// of possible values.
func and3(a, b Outcome) Outcome {
	var out Outcome
	if a&OutcomeFalse != 0 || b&OutcomeFalse != 0 {
		out |= OutcomeFalse
	}
	if a&OutcomeTrue != 0 && b&OutcomeTrue != 0 {
		out |= OutcomeTrue
	}
	if (a&OutcomeNull != 0 && b&(OutcomeTrue|OutcomeNull) != 0) ||
		(b&OutcomeNull != 0 && a&OutcomeTrue != 0) {
		out |= OutcomeNull
	}
	// FALSE needs a FALSE on one side paired with anything on the other.
	if out&OutcomeFalse != 0 && (a == 0 || b == 0) {
		out &^= OutcomeFalse
	}
	return out
}

// or3 combines two outcome sets with SQL three-valued OR.
func or3(a, b Outcome) Outcome {
	return not3(and3(not3(a), not3(b)))
}

// not3 swaps TRUE and FALSE; NULL stays NULL.
func not3(a Outcome) Outcome {
	out := a & OutcomeNull
	if a&OutcomeTrue != 0 {
		out |= OutcomeFalse
	}
	if a&OutcomeFalse != 0 {
		out |= OutcomeTrue
	}
	return out
}
