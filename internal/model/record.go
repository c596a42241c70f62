package model

import (
	"encoding/json"
	"strings"
)

// OrganizationRecord is one organization as yielded by a producer. Field
// names follow the producer wire shape.
type OrganizationRecord struct {
	Name             string          `json:"name"`
	Domains          FlexString      `json:"domains"`
	Email            string          `json:"company_email"`
	Phone            string          `json:"company_phone"`
	Address          string          `json:"company_address"`
	AreasOfLaw       json.RawMessage `json:"areas_of_law,omitempty"`
	TotalSolicitors  *int            `json:"total_solicitors,omitempty"`
	ScottishPartners *int            `json:"scottish_partners,omitempty"`
	SourceName       string          `json:"source_name"`
	RedundantInfo    Aux             `json:"redundant_info,omitempty"`
	Lawyers          []PersonRecord  `json:"lawyers,omitempty"`
}

// PersonRecord is one affiliated person as yielded by a producer.
type PersonRecord struct {
	Name           string          `json:"name"`
	EmailAddresses FlexString      `json:"email_addresses"`
	Telephone      string          `json:"telephone"`
	Address        string          `json:"address"`
	PracticeAreas  json.RawMessage `json:"practice_areas,omitempty"`
	SourceName     string          `json:"source_name"`
	RedundantInfo  Aux             `json:"redundant_info,omitempty"`

	// CompanyName names the owning organization on the person-first path.
	// When empty, redundant_info.company_name is used.
	CompanyName string `json:"company_name,omitempty"`
}

// OrganizationName returns the name of the organization this person belongs
// to, as carried by the record itself.
func (p PersonRecord) OrganizationName() string {
	if n := CleanText(p.CompanyName); n != "" {
		return n
	}
	return CleanText(p.RedundantInfo.String(AuxCompanyName))
}

// FlexString decodes from either a JSON string or a list of strings. Some
// producers emit single-valued attributes such as domains as lists; the first
// non-empty element wins.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*f = ""
	for _, v := range list {
		if strings.TrimSpace(v) != "" {
			*f = FlexString(v)
			break
		}
	}
	return nil
}

// Clean returns a copy of the record with text fields in canonical form and
// the domain normalized. Nested persons are cleaned too.
func (r OrganizationRecord) Clean() OrganizationRecord {
	r.Name = CleanText(r.Name)
	r.Domains = FlexString(NormalizeDomain(string(r.Domains)))
	r.Email = CleanText(r.Email)
	r.Phone = CleanText(r.Phone)
	r.Address = CleanText(r.Address)
	r.SourceName = CleanText(r.SourceName)
	if len(r.Lawyers) > 0 {
		lawyers := make([]PersonRecord, len(r.Lawyers))
		for i, p := range r.Lawyers {
			lawyers[i] = p.Clean()
		}
		r.Lawyers = lawyers
	}
	return r
}

// Clean returns a copy of the record with text fields in canonical form.
func (p PersonRecord) Clean() PersonRecord {
	p.Name = CleanText(p.Name)
	p.EmailAddresses = FlexString(strings.ToLower(CleanText(string(p.EmailAddresses))))
	p.Telephone = CleanText(p.Telephone)
	p.Address = CleanText(p.Address)
	p.SourceName = CleanText(p.SourceName)
	p.CompanyName = CleanText(p.CompanyName)
	return p
}
