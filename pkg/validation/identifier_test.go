package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    bool
		wantErr error
	}{
		// Handles
		{"single char handle", "a", false, nil},
		{"typical handle", "Technoblade", false, nil},
		{"max length handle", strings.Repeat("x", 16), false, nil},

		// Identifiers
		{"compact identifier", "b876ec32e396476ba1158438d83c67d4", true, nil},
		{"dashed identifier", "b876ec32-e396-476b-a115-8438d83c67d4", true, nil},

		// Invalid
		{"empty", "", false, ErrEmptyInput},
		{"17 chars", strings.Repeat("x", 17), false, ErrInvalidLength},
		{"31 chars", strings.Repeat("a", 31), false, ErrInvalidLength},
		{"33 chars", strings.Repeat("a", 33), false, ErrInvalidLength},
		{"37 chars", strings.Repeat("a", 37), false, ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsIdentifier(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsIdentifier_AllHandleLengths(t *testing.T) {
	for n := 1; n <= MaxHandleLength; n++ {
		isID, err := IsIdentifier(strings.Repeat("h", n))
		require.NoError(t, err)
		assert.False(t, isID, "length %d", n)
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	t.Run("dashed and compact collapse", func(t *testing.T) {
		a, err := NormalizeIdentifier("B876EC32-E396-476B-A115-8438D83C67D4")
		require.NoError(t, err)
		b, err := NormalizeIdentifier("b876ec32e396476ba1158438d83c67d4")
		require.NoError(t, err)
		assert.Equal(t, "b876ec32e396476ba1158438d83c67d4", a)
		assert.Equal(t, a, b)
	})

	t.Run("non hex rejected", func(t *testing.T) {
		_, err := NormalizeIdentifier(strings.Repeat("z", 32))
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("handle rejected", func(t *testing.T) {
		_, err := NormalizeIdentifier("Technoblade")
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}

func TestNormalizeRef(t *testing.T) {
	ref, isID, err := NormalizeRef("  Technoblade ")
	require.NoError(t, err)
	assert.False(t, isID)
	assert.Equal(t, "technoblade", ref)

	ref, isID, err = NormalizeRef("b876ec32-e396-476b-a115-8438d83c67d4")
	require.NoError(t, err)
	assert.True(t, isID)
	assert.Equal(t, "b876ec32e396476ba1158438d83c67d4", ref)

	_, _, err = NormalizeRef("bad handle!")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestSanitizeDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "Notch", false},
		{"underscore and digits", "x_Player_99", false},
		{"path traversal", "../etc", true},
		{"space", "a b", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeDisplayName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, 29, d.Day())

	assert.True(t, IsDateString("2023-01-01"))
	assert.False(t, IsDateString("01/01/2023"))

	_, err = ParseDate("2023-13-01")
	assert.ErrorIs(t, err, ErrInvalidDate)
}
