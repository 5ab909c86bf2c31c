package domain

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(errs []FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateEvent(t *testing.T) {
	t.Run("minimal event is valid", func(t *testing.T) {
		ev := Event{Name: "page_view"}
		assert.Empty(t, ValidateEvent(&ev))
	})

	t.Run("name required", func(t *testing.T) {
		ev := Event{}
		assert.Equal(t, []string{"name"}, fields(ValidateEvent(&ev)))
	})

	t.Run("length limits", func(t *testing.T) {
		ev := Event{
			Name:     strings.Repeat("n", MaxEventNameLen+1),
			Category: strings.Repeat("c", MaxCategoryLen+1),
			Label:    strings.Repeat("l", MaxLabelLen+1),
			UserID:   strings.Repeat("u", MaxUserIDLen+1),
		}
		assert.ElementsMatch(t, []string{"name", "category", "label", "user_id"}, fields(ValidateEvent(&ev)))
	})

	t.Run("value must be finite", func(t *testing.T) {
		ev := Event{Name: "x", Value: Float(math.NaN())}
		assert.Equal(t, []string{"value"}, fields(ValidateEvent(&ev)))
	})

	t.Run("too many properties", func(t *testing.T) {
		props := map[string]any{}
		for i := 0; i <= MaxPropertyCount; i++ {
			props[strings.Repeat("k", i+1)] = i
		}
		ev := Event{Name: "x", Properties: props}
		assert.Equal(t, []string{"properties"}, fields(ValidateEvent(&ev)))
	})
}

func TestEventCloneDoesNotShareProperties(t *testing.T) {
	ev := Event{Name: "x", Properties: map[string]any{"a": 1}, Value: Float(2)}
	c := ev.Clone()
	ev.Properties["a"] = 99
	*ev.Value = 5

	assert.Equal(t, 1, c.Properties["a"])
	assert.Equal(t, 2.0, *c.Value)
}

func TestConsentJSON(t *testing.T) {
	for _, c := range []Consent{ConsentUnknown, ConsentGranted, ConsentDeclined} {
		b, err := c.MarshalJSON()
		require.NoError(t, err)
		var got Consent
		require.NoError(t, got.UnmarshalJSON(b))
		assert.Equal(t, c, got)
	}

	var c Consent
	assert.Error(t, c.UnmarshalJSON([]byte(`"maybe"`)))
	assert.Equal(t, ConsentGranted, ConsentFromBool(true))
	assert.Equal(t, ConsentDeclined, ConsentFromBool(false))
	assert.False(t, ConsentUnknown.Decided())
}
