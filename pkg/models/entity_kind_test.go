package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluralize(t *testing.T) {
	tests := []struct {
		word     string
		expected string
	}{
		{"salesperson", "salespeople"},
		{"person", "people"},
		{"company", "companies"},
		{"contact", "contacts"},
		{"deal", "deals"},
		{"location", "locations"},
		{"division", "divisions"},
		{"key", "keys"},
		{"box", "boxes"},
		{"branch", "branches"},
		{"address", "addresses"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.expected, Pluralize(tt.word))
		})
	}
}

func TestParseEntityKind(t *testing.T) {
	t.Run("known kinds", func(t *testing.T) {
		for _, kind := range AllEntityKinds() {
			parsed, err := ParseEntityKind(string(kind))
			require.NoError(t, err)
			assert.Equal(t, kind, parsed)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		parsed, err := ParseEntityKind(" Company ")
		require.NoError(t, err)
		assert.Equal(t, KindCompany, parsed)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ParseEntityKind("person")
		assert.Error(t, err)
	})

	t.Run("list stops at first unknown", func(t *testing.T) {
		_, err := ParseEntityKinds([]string{"company", "widget"})
		assert.Error(t, err)
	})
}

func TestEntityKind_Collection(t *testing.T) {
	assert.Equal(t, "companies", KindCompany.Collection())
	assert.Equal(t, "salespeople", KindSalesperson.Collection())
	assert.Equal(t, "divisions", KindDivision.Plural())
}
