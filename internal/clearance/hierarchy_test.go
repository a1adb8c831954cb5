package clearance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchy_Meets(t *testing.T) {
	h := New(nil)

	tests := []struct {
		name     string
		subject  string
		required string
		want     bool
	}{
		{"equal levels", "SECRET", "SECRET", true},
		{"subject above", "COSMIC TOP SECRET", "NATO CONFIDENTIAL", true},
		{"subject below", "RESTRICTED", "NATO SECRET", false},
		{"national vs nato same ordinal", "SECRET", "NATO SECRET", true},
		{"nato vs national same ordinal", "NATO CONFIDENTIAL", "CONFIDENTIAL", true},
		{"unclassified floor", "UNCLASSIFIED", "UNCLASSIFIED", true},
		{"top of ladder", "TOP SECRET", "COSMIC TOP SECRET", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Meets(tt.subject, tt.required)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHierarchy_Meets_UnrecognizedLevel(t *testing.T) {
	h := New(nil)

	tests := []struct {
		name     string
		subject  string
		required string
		bad      string
	}{
		{"unknown subject", "ULTRA", "SECRET", "ULTRA"},
		{"unknown required", "SECRET", "EYES ONLY", "EYES ONLY"},
		{"empty subject", "", "SECRET", ""},
		{"lowercase label", "secret", "SECRET", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Meets(tt.subject, tt.required)
			assert.False(t, got, "unrecognized labels must never be permissive")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnrecognizedLevel)

			var levelErr *UnrecognizedLevelError
			require.True(t, errors.As(err, &levelErr))
			assert.Equal(t, tt.bad, levelErr.Level)
		})
	}
}

func TestHierarchy_Recognized(t *testing.T) {
	h := New(nil)

	assert.True(t, h.Recognized("NATO SECRET"))
	assert.False(t, h.Recognized("NOFORN"))
	assert.False(t, h.Recognized(""))
}

func TestHierarchy_Ordinal(t *testing.T) {
	h := New(nil)

	ord, err := h.Ordinal("COSMIC TOP SECRET")
	require.NoError(t, err)
	assert.Equal(t, 4, ord)

	_, err = h.Ordinal("bogus")
	assert.ErrorIs(t, err, ErrUnrecognizedLevel)
}

func TestHierarchy_Replace(t *testing.T) {
	h := New(nil)

	h.Replace(map[string]int{
		"LOW":  0,
		"HIGH": 1,
	})

	ok, err := h.Meets("HIGH", "LOW")
	require.NoError(t, err)
	assert.True(t, ok)

	// Labels from the previous table are gone.
	_, err = h.Meets("SECRET", "LOW")
	assert.ErrorIs(t, err, ErrUnrecognizedLevel)

	// An empty replacement is ignored rather than wiping the table.
	h.Replace(nil)
	assert.True(t, h.Recognized("HIGH"))
}

func TestHierarchy_CustomTable(t *testing.T) {
	levels := map[string]int{"A": 0, "B": 5}
	h := New(levels)

	// Mutating the caller's map must not affect the hierarchy.
	levels["C"] = 9
	assert.False(t, h.Recognized("C"))
}

func TestHierarchy_Labels(t *testing.T) {
	h := New(map[string]int{"HIGH": 2, "MID": 1, "LOW": 0})
	assert.Equal(t, []string{"LOW", "MID", "HIGH"}, h.Labels())
}
