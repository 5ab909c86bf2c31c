package domain

import (
	"encoding/json"
	"fmt"
)

// Consent is the tri-state analytics consent decision.
type Consent int

const (
	ConsentUnknown Consent = iota
	ConsentGranted
	ConsentDeclined
)

// ConsentFromBool maps an explicit user decision onto Consent.
func ConsentFromBool(granted bool) Consent {
	if granted {
		return ConsentGranted
	}
	return ConsentDeclined
}

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "granted"
	case ConsentDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Decided reports whether the user has made an explicit choice.
func (c Consent) Decided() bool { return c == ConsentGranted || c == ConsentDeclined }

func (c Consent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Consent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseConsent(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConsent accepts the String form of a Consent.
func ParseConsent(s string) (Consent, error) {
	switch s {
	case "granted":
		return ConsentGranted, nil
	case "declined":
		return ConsentDeclined, nil
	case "unknown", "":
		return ConsentUnknown, nil
	}
	return ConsentUnknown, fmt.Errorf("unknown consent value %q", s)
}
