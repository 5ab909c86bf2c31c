package domain

import (
	"fmt"
	"math"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateEvent checks the caller-supplied part of an event. Timestamp and
// SessionID are not checked since the dispatcher owns them.
func ValidateEvent(ev *Event) []FieldError {
	var errs []FieldError

	if ev.Name == "" {
		errs = append(errs, FieldError{"name", "required"})
	} else if len(ev.Name) > MaxEventNameLen {
		errs = append(errs, FieldError{"name", fmt.Sprintf("max length %d", MaxEventNameLen)})
	}

	errs = appendMaxLen(errs, "category", ev.Category, MaxCategoryLen)
	errs = appendMaxLen(errs, "action", ev.Action, MaxActionLen)
	errs = appendMaxLen(errs, "label", ev.Label, MaxLabelLen)
	errs = appendMaxLen(errs, "user_id", ev.UserID, MaxUserIDLen)

	if ev.Value != nil && (math.IsNaN(*ev.Value) || math.IsInf(*ev.Value, 0)) {
		errs = append(errs, FieldError{"value", "must be a finite number"})
	}

	errs = append(errs, ValidateProperties("properties", ev.Properties)...)
	return errs
}

// ValidateProperties enforces count and key limits on a free-form map.
func ValidateProperties(field string, props map[string]any) []FieldError {
	var errs []FieldError
	if len(props) > MaxPropertyCount {
		return append(errs, FieldError{field, fmt.Sprintf("max %d items", MaxPropertyCount)})
	}
	for k := range props {
		if k == "" {
			errs = append(errs, FieldError{field, "keys must be non-empty"})
			continue
		}
		if len(k) > MaxPropertyKeyLen {
			errs = append(errs, FieldError{fmt.Sprintf("%s.%s", field, k), fmt.Sprintf("max key length %d", MaxPropertyKeyLen)})
		}
	}
	return errs
}

func appendMaxLen(errs []FieldError, field, v string, max int) []FieldError {
	if len(v) > max {
		return append(errs, FieldError{field, fmt.Sprintf("max length %d", max)})
	}
	return errs
}
