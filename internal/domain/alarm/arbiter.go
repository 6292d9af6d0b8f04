package alarm

import "math"

// Candidate is a (status, severity) pair proposed by one evaluation rule.
type Candidate struct {
	Status   Status
	Severity Severity
}

// None is the candidate in effect when no rule proposed anything.
//
//nolint:gochecknoglobals // Immutable value.
var None = Candidate{Status: StatusNoAlarm, Severity: NoAlarm}

// Arbiter accumulates the best candidate of one processing cycle.
// The zero value is ready to use and holds None.
type Arbiter struct {
	best Candidate
}

// Reset starts a new cycle with no pending alarm.
func (a *Arbiter) Reset() {
	a.best = None
}

// Propose offers a candidate. It wins only when its severity is strictly
// greater than the current best; ties keep the earlier proposal.
func (a *Arbiter) Propose(status Status, severity Severity) bool {
	if severity <= a.best.Severity {
		return false
	}

	a.best = Candidate{Status: status, Severity: severity}

	return true
}

// Severity returns the severity of the current best candidate.
func (a *Arbiter) Severity() Severity {
	return a.best.Severity
}

// Result returns the current best candidate.
func (a *Arbiter) Result() Candidate {
	return a.best
}

// CheckUndefined proposes the undefined-value alarm when udf is set.
func (a *Arbiter) CheckUndefined(udf bool) bool {
	if !udf {
		return false
	}

	return a.Propose(StatusUDF, Invalid)
}

// LinkFailure proposes the link alarm raised when an input cannot be fetched.
func (a *Arbiter) LinkFailure() bool {
	return a.Propose(StatusLink, Invalid)
}

// CalcFailure proposes the alarm raised when a value cannot be derived.
func (a *Arbiter) CalcFailure() bool {
	return a.Propose(StatusCalc, Invalid)
}

// CheckChangeOfState proposes a change-of-state alarm when value differs
// from the latched last value. The latch is updated whenever the rule is
// evaluated, whether or not its proposal wins.
func (a *Arbiter) CheckChangeOfState(value uint16, last *uint16, severity Severity) bool {
	if value == *last {
		return false
	}

	won := a.Propose(StatusCOS, severity)
	*last = value

	return won
}

// Limits configures the analog limit alarms of a continuous record.
type Limits struct {
	HiHi float64 `yaml:"hihi"`
	High float64 `yaml:"high"`
	Low  float64 `yaml:"low"`
	LoLo float64 `yaml:"lolo"`

	HiHiSeverity Severity `yaml:"hhsv"`
	HighSeverity Severity `yaml:"hsv"`
	LowSeverity  Severity `yaml:"lsv"`
	LoLoSeverity Severity `yaml:"llsv"`

	// Hysteresis is the band inside which the latched value is used
	// instead of the instantaneous one.
	Hysteresis float64 `yaml:"hyst"`
}

// Check evaluates hihi, lolo, high and low in that order. Each rule runs
// only if the current best severity is below the rule's severity. When
// |latched - value| < Hysteresis the latched value is compared instead of
// value. A firing rule latches the value it compared and stops the check.
func (l *Limits) Check(a *Arbiter, value float64, latched *float64) bool {
	if math.Abs(*latched-value) < l.Hysteresis {
		value = *latched
	}

	rules := [...]struct {
		status   Status
		severity Severity
		tripped  bool
	}{
		{StatusHiHi, l.HiHiSeverity, value > l.HiHi},
		{StatusLoLo, l.LoLoSeverity, value < l.LoLo},
		{StatusHigh, l.HighSeverity, value > l.High},
		{StatusLow, l.LowSeverity, value < l.Low},
	}

	for _, rule := range rules {
		if a.Severity() >= rule.severity || !rule.tripped {
			continue
		}

		*latched = value
		a.Propose(rule.status, rule.severity)

		return true
	}

	return false
}
