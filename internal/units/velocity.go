// Package units provides the speed units a simulator feed may report in and
// the conversion to the km/h used throughout the control core.
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ValidUnitsString returns a comma-separated list of valid units for error messages
func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ToKMPH converts a speed reported in unit to kilometres per hour.
func ToKMPH(speed float64, unit string) (float64, error) {
	switch unit {
	case KMPH, KPH:
		return speed, nil
	case MPS:
		return speed * 3.6, nil
	case MPH:
		return speed * 1.609344, nil
	default:
		return 0, fmt.Errorf("unknown speed unit %q (valid: %s)", unit, ValidUnitsString())
	}
}
