package alarm

import (
	"fmt"
	"strings"
)

// Severity is the ordered precedence level used to arbitrate alarm conditions.
type Severity uint16

const (
	// NoAlarm means the record is healthy.
	NoAlarm Severity = iota
	// Minor is the warning class.
	Minor
	// Major is the alarm class.
	Major
	// Invalid means the value cannot be trusted.
	Invalid
)

// severityNames maps severities to their canonical upper-case names.
//
//nolint:gochecknoglobals // Lookup table.
var severityNames = [...]string{
	NoAlarm: "NO_ALARM",
	Minor:   "MINOR",
	Major:   "MAJOR",
	Invalid: "INVALID",
}

// String returns the canonical name of the severity.
func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}

	return fmt.Sprintf("SEVERITY(%d)", uint16(s))
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s <= Invalid
}

// ParseSeverity converts a case-insensitive name into a Severity.
// An empty string is NoAlarm.
func ParseSeverity(s string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" || name == "NONE" {
		return NoAlarm, nil
	}

	for i, candidate := range severityNames {
		if candidate == name {
			return Severity(i), nil
		}
	}

	return NoAlarm, fmt.Errorf("unknown alarm severity %q", s)
}

// UnmarshalYAML lets severities be written by name in record definition files.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}

	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// Status identifies which condition produced the current severity.
type Status uint16

// Status catalogue. The numeric values are stable and published to clients.
const (
	StatusNoAlarm Status = iota
	StatusRead
	StatusWrite
	StatusHiHi
	StatusHigh
	StatusLoLo
	StatusLow
	StatusState
	StatusCOS
	StatusComm
	StatusTimeout
	StatusHwLimit
	StatusCalc
	StatusScan
	StatusLink
	StatusSoft
	StatusBadSub
	StatusUDF
	StatusDisable
)

//nolint:gochecknoglobals // Lookup table.
var statusNames = [...]string{
	StatusNoAlarm: "NO_ALARM",
	StatusRead:    "READ",
	StatusWrite:   "WRITE",
	StatusHiHi:    "HIHI",
	StatusHigh:    "HIGH",
	StatusLoLo:    "LOLO",
	StatusLow:     "LOW",
	StatusState:   "STATE",
	StatusCOS:     "COS",
	StatusComm:    "COMM",
	StatusTimeout: "TIMEOUT",
	StatusHwLimit: "HWLIMIT",
	StatusCalc:    "CALC",
	StatusScan:    "SCAN",
	StatusLink:    "LINK",
	StatusSoft:    "SOFT",
	StatusBadSub:  "BAD_SUB",
	StatusUDF:     "UDF",
	StatusDisable: "DISABLE",
}

// String returns the canonical name of the status.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("STATUS(%d)", uint16(s))
}
