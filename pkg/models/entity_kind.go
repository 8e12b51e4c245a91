package models

import (
	"fmt"
	"strings"
)

// EntityKind is the closed set of business entities that can be associated.
type EntityKind string

const (
	KindCompany     EntityKind = "company"
	KindLocation    EntityKind = "location"
	KindContact     EntityKind = "contact"
	KindDeal        EntityKind = "deal"
	KindSalesperson EntityKind = "salesperson"
	KindDivision    EntityKind = "division"
)

// AllEntityKinds returns every kind in a fixed order. Collection probing uses this order.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindCompany,
		KindLocation,
		KindContact,
		KindDeal,
		KindSalesperson,
		KindDivision,
	}
}

func (k EntityKind) Valid() bool {
	switch k {
	case KindCompany, KindLocation, KindContact, KindDeal, KindSalesperson, KindDivision:
		return true
	}
	return false
}

// Plural is the key used for entity buckets and associationCounts.
func (k EntityKind) Plural() string {
	return Pluralize(string(k))
}

// Collection is the tenant scoped collection that holds documents of this kind.
func (k EntityKind) Collection() string {
	return k.Plural()
}

func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind accepts a singular kind name, case-insensitively.
func ParseEntityKind(value string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown entity type %q", value)
	}
	return kind, nil
}

// ParseEntityKinds parses each value, failing on the first unknown one.
func ParseEntityKinds(values []string) ([]EntityKind, error) {
	kinds := make([]EntityKind, 0, len(values))
	for _, v := range values {
		kind, err := ParseEntityKind(v)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

var irregularPlurals = map[string]string{
	"salesperson": "salespeople",
	"person":      "people",
}

// Pluralize applies the english rules needed for entity names.
func Pluralize(word string) string {
	if plural, ok := irregularPlurals[word]; ok {
		return plural
	}
	if word == "" {
		return word
	}

	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(word[len(word)-2]):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s"),
		strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "ch"),
		strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
