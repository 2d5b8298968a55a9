package units

import (
	"math"
	"testing"
)

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name     string
		meters   float64
		units    string
		expected float64
	}{
		{"1 m to cm", 1.0, Centimeters, 100},
		{"1 m to mm", 1.0, Millimeters, 1000},
		{"1 m to m", 1.0, Meters, 1},
		{"unknown units default to m", 2.5, "furlong", 2.5},
		{"zero", 0, Millimeters, 0},
		{"closest unit-0 depth", 0.00003844675124951941, Millimeters, 0.03844675124951941},
		{"farthest unit-0 depth", 2.47, Centimeters, 247},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertDistance(tt.meters, tt.units)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertDistance(%f, %s) = %f, want %f", tt.meters, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid m", Meters, true},
		{"valid cm", Centimeters, true},
		{"valid mm", Millimeters, true},
		{"invalid unit", "km", false},
		{"empty string", "", false},
		{"case sensitive", "MM", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "m, cm, mm" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
