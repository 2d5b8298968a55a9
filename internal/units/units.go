// Package units provides shared constants and conversion for distance units
package units

import "strings"

// Unit constants
const (
	Meters      = "m"
	Centimeters = "cm"
	Millimeters = "mm"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Centimeters, Millimeters}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts a distance in meters to the target units.
// Calibration produces meters.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Centimeters:
		return meters * 100
	case Millimeters:
		return meters * 1000
	default:
		return meters // default to meters if unknown unit
	}
}
