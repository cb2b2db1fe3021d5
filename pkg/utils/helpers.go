// Package utils holds small CSV cell helpers shared by the pipeline stages.
// Artifacts use an empty cell for "no value", so optional numeric columns
// round-trip through *float64 / *int rather than a sentinel like -1.
package utils

import (
	"strconv"
	"strings"
)

// FloatCell formats a float with minimal digits.
func FloatCell(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IntCell formats an int.
func IntCell(v int) string {
	return strconv.Itoa(v)
}

// OptFloatCell formats an optional float; nil becomes the empty cell.
func OptFloatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return FloatCell(*v)
}

// OptIntCell formats an optional int; nil becomes the empty cell.
func OptIntCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// ParseFloatCell parses a required float cell.
func ParseFloatCell(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ParseIntCell parses a required int cell.
func ParseIntCell(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// ParseOptFloatCell parses an optional float cell; empty means nil.
func ParseOptFloatCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseOptIntCell parses an optional int cell; empty means nil.
func ParseOptIntCell(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
