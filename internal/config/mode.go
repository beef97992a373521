package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode is the packet generation mode, fixed at boot.
type Mode int

const (
	ModeInvalid Mode = iota
	ModeExponential
	ModePeriodic
	ModeHybrid
)

// ParseMode parses EXPONENTIAL, PERIODIC or HYBRID (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXPONENTIAL":
		return ModeExponential, nil
	case "PERIODIC":
		return ModePeriodic, nil
	case "HYBRID":
		return ModeHybrid, nil
	default:
		return ModeInvalid, fmt.Errorf("unknown generation mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeExponential:
		return "EXPONENTIAL"
	case ModePeriodic:
		return "PERIODIC"
	case ModeHybrid:
		return "HYBRID"
	default:
		return "INVALID"
	}
}

func (m Mode) Valid() bool {
	return m == ModeExponential || m == ModePeriodic || m == ModeHybrid
}

// RunsExponential reports whether the exponential loop runs in this mode.
func (m Mode) RunsExponential() bool { return m == ModeExponential || m == ModeHybrid }

// RunsPeriodic reports whether the periodic loop runs in this mode.
func (m Mode) RunsPeriodic() bool { return m == ModePeriodic || m == ModeHybrid }

// MarshalYAML renders the mode by name.
func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

var _ yaml.Marshaler = Mode(0)
