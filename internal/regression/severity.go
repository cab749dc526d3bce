// Package regression compares a measurement window against a historical
// baseline and classifies how much worse it got.
package regression

import (
	"fmt"
	"strings"
)

// Severity orders regressions from none to critical.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

// SeverityCuts are the deltas a change must exceed to reach each level.
// A change exactly at a cut stays at the level below.
type SeverityCuts struct {
	Low      float64 `json:"low" yaml:"low"`
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Classify maps a delta onto a severity.
func (c SeverityCuts) Classify(delta float64) Severity {
	switch {
	case delta > c.Critical:
		return SeverityCritical
	case delta > c.High:
		return SeverityHigh
	case delta > c.Medium:
		return SeverityMedium
	case delta > c.Low:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// Validate checks that cuts are non-negative and ascending.
func (c SeverityCuts) Validate() error {
	if c.Low < 0 {
		return fmt.Errorf("low cut must not be negative, got %v", c.Low)
	}
	if c.Low > c.Medium || c.Medium > c.High || c.High > c.Critical {
		return fmt.Errorf("cuts must be ascending, got %v/%v/%v/%v", c.Low, c.Medium, c.High, c.Critical)
	}
	return nil
}
