package models

import "time"

// DealAssociationEntry is one element of a deal's embedded associations lists.
type DealAssociationEntry struct {
	ID        string         `json:"id"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	IsPrimary bool           `json:"isPrimary,omitempty"`
}

// DealAssociations is the embedded associations structure of a deal document.
type DealAssociations struct {
	Companies   []DealAssociationEntry `json:"companies,omitempty"`
	Contacts    []DealAssociationEntry `json:"contacts,omitempty"`
	Salespeople []DealAssociationEntry `json:"salespeople,omitempty"`
	Locations   []DealAssociationEntry `json:"locations,omitempty"`
}

// ReverseIndexEntry is pushed onto associations.deals of every entity a deal references.
type ReverseIndexEntry struct {
	ID      string    `json:"id"`
	AddedAt time.Time `json:"addedAt"`
}
