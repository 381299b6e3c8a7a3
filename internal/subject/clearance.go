package subject

import (
	"fmt"
	"strings"
)

// Clearance is an int-backed ordered security level. The explicit ordering
// matters: string comparison would sort SECRET above CONFIDENTIAL by
// accident, not by policy.
type Clearance int

const (
	Unclassified Clearance = iota
	Confidential
	Secret
	TopSecret
)

var clearanceNames = map[Clearance]string{
	Unclassified: "UNCLASSIFIED",
	Confidential: "CONFIDENTIAL",
	Secret:       "SECRET",
	TopSecret:    "TOP_SECRET",
}

var clearanceValues = map[string]Clearance{
	"UNCLASSIFIED": Unclassified,
	"CONFIDENTIAL": Confidential,
	"SECRET":       Secret,
	"TOP_SECRET":   TopSecret,
}

func (c Clearance) String() string {
	if name, ok := clearanceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Clearance(%d)", int(c))
}

// Dominates reports whether c grants access to material at level other.
func (c Clearance) Dominates(other Clearance) bool {
	return c >= other
}

// ParseClearance maps a claim string to a Clearance. The input must be one of
// the four levels; anything else is a verification failure, not a default.
func ParseClearance(s string) (Clearance, error) {
	if c, ok := clearanceValues[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return Unclassified, fmt.Errorf("unknown clearance level %q", s)
}

// MarshalText renders the canonical level name for JSON and logs.
func (c Clearance) MarshalText() ([]byte, error) {
	name, ok := clearanceNames[c]
	if !ok {
		return nil, fmt.Errorf("invalid clearance %d", int(c))
	}
	return []byte(name), nil
}

// UnmarshalText parses a canonical level name.
func (c *Clearance) UnmarshalText(text []byte) error {
	parsed, err := ParseClearance(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
