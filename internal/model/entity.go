// Package model defines the organization and person types shared by the
// ingestion, storage and CRM sync layers.
package model

import (
	"encoding/json"
	"time"
)

// Aux is the free-form auxiliary map carried alongside an entity for fields
// that are not promoted to first-class columns.
type Aux map[string]any

// String returns the value stored under key when it is a non-empty string.
func (a Aux) String(key string) string {
	if a == nil {
		return ""
	}
	s, _ := a[key].(string)
	return s
}

// Aux keys with special meaning.
const (
	AuxAutoCreated = "auto_created"
	AuxCompanyName = "company_name"
	AuxCity        = "city"
)

// Organization is a persisted firm row.
type Organization struct {
	ID               int64           `json:"id"`
	Domain           string          `json:"domains,omitempty"`
	Name             string          `json:"name"`
	Phone            string          `json:"company_phone,omitempty"`
	Email            string          `json:"company_email,omitempty"`
	Address          string          `json:"company_address,omitempty"`
	PracticeAreas    json.RawMessage `json:"areas_of_law,omitempty"`
	TotalSolicitors  *int            `json:"total_solicitors,omitempty"`
	ScottishPartners *int            `json:"scottish_partners,omitempty"`
	Source           string          `json:"source_name,omitempty"`
	Aux              Aux             `json:"redundant_info,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Person is a persisted row for an individual affiliated with exactly one
// organization.
type Person struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email_addresses,omitempty"`
	Phone          string          `json:"telephone,omitempty"`
	Address        string          `json:"address,omitempty"`
	PracticeAreas  json.RawMessage `json:"practice_areas,omitempty"`
	Source         string          `json:"source_name,omitempty"`
	Aux            Aux             `json:"redundant_info,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsPlaceholder reports whether the organization was auto-created by the
// person-first ingestion path.
func (o *Organization) IsPlaceholder() bool {
	if o.Aux == nil {
		return false
	}
	v, _ := o.Aux[AuxAutoCreated].(bool)
	return v
}
