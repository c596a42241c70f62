// Package crm maps persisted organizations and people to the value
// structure the CRM expects. Mapping is pure: no I/O beyond logging.
package crm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/firmsync/internal/model"
)

// ErrMissingParentID is returned when a person is mapped before its
// organization has a remote id.
var ErrMissingParentID = eris.New("crm: person has no remote organization id")

// Values is the attribute map sent as data.values.
type Values map[string]any

// FieldMapping renames canonical attribute names to the target workspace's
// attribute slugs. Names without an entry map to themselves.
type FieldMapping map[string]string

func (m FieldMapping) key(name string) string {
	if v := m[name]; v != "" {
		return v
	}
	return name
}

// Canonical attribute names.
const (
	FieldName             = "name"
	FieldDomains          = "domains"
	FieldCompanyEmail     = "company_email"
	FieldCompanyPhone     = "company_phone"
	FieldAreasOfLaw       = "areas_of_law"
	FieldTotalSolicitors  = "total_solicitors"
	FieldScottishPartners = "scottish_partners"
	FieldRegulatedBody    = "regulated_body"
	FieldCompanyAddress   = "company_address"
	FieldCity             = "city"

	FieldEmailAddresses = "email_addresses"
	FieldTelephone      = "telephone"
	FieldAddress        = "address"
	FieldPracticeAreas  = "practice_areas"
	FieldCompany        = "company"
)

// regulatedBodies maps producer source tags to the regulator option label.
var regulatedBodies = map[string]string{
	"crawler_lawsocni":       "Law Society of Northern Ireland",
	"crawler_lawscot":        "Law Society of Scotland",
	"crawler_lawsociety":     "Law Society of England and Wales",
	"crawler_adviser_finder": "Immigration Advice Authority",
}

// RegulatedBody returns the regulator label for a source tag. Lookup is case
// insensitive.
func RegulatedBody(source string) (string, bool) {
	label, ok := regulatedBodies[strings.ToLower(strings.TrimSpace(source))]
	return label, ok
}

// Mapper builds CRM values from persisted entities.
type Mapper struct {
	company FieldMapping
	person  FieldMapping
}

// NewMapper returns a Mapper. Nil mappings mean identity.
func NewMapper(company, person FieldMapping) *Mapper {
	return &Mapper{company: company, person: person}
}

// BuildOrganization maps org to company values. An unknown source tag omits
// the regulated-body attribute and is logged.
func (m *Mapper) BuildOrganization(org *model.Organization) Values {
	k := m.company.key
	v := Values{
		k(FieldName):             org.Name,
		k(FieldDomains):          singleOrEmpty(org.Domain),
		k(FieldCompanyEmail):     org.Email,
		k(FieldCompanyPhone):     org.Phone,
		k(FieldAreasOfLaw):       NormalizeList(org.PracticeAreas),
		k(FieldTotalSolicitors):  intOrZero(org.TotalSolicitors),
		k(FieldScottishPartners): intOrZero(org.ScottishPartners),
		k(FieldCompanyAddress):   org.Address,
	}
	if label, ok := RegulatedBody(org.Source); ok {
		v[k(FieldRegulatedBody)] = []string{label}
	} else {
		zap.L().Error("crm: unknown source tag, regulated body omitted",
			zap.String("organization", org.Name),
			zap.String("source", org.Source),
		)
	}
	if city := org.Aux.String(model.AuxCity); city != "" {
		v[k(FieldCity)] = city
	}
	return v
}

// BuildPerson maps p to person values linked to the organization record
// remoteOrgID.
func (m *Mapper) BuildPerson(p *model.Person, remoteOrgID string) (Values, error) {
	if remoteOrgID == "" {
		return nil, ErrMissingParentID
	}
	k := m.person.key
	return Values{
		k(FieldName): []map[string]string{{
			"first_name": "",
			"last_name":  "",
			"full_name":  p.Name,
		}},
		k(FieldEmailAddresses): singleOrEmpty(p.Email),
		k(FieldTelephone):      p.Phone,
		k(FieldAddress):        p.Address,
		k(FieldPracticeAreas):  NormalizeList(p.PracticeAreas),
		k(FieldCompany): []map[string]string{{
			"target_object":    "companies",
			"target_record_id": remoteOrgID,
		}},
	}, nil
}

// NormalizeList flattens a list-shaped value to one comma-joined string. It
// accepts a JSON array, a JSON string holding an encoded array, or a string
// delimited by commas, semicolons or pipes.
func NormalizeList(raw json.RawMessage) string {
	if model.IsEmptyJSON(raw) {
		return ""
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err == nil {
		return joinItems(items)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return normalizeListString(s)
}

func normalizeListString(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return joinItems(items)
		}
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = model.CleanText(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func joinItems(items []any) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch v := it.(type) {
		case nil:
			continue
		case string:
			s = model.CleanText(v)
		default:
			s = fmt.Sprint(v)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

func singleOrEmpty(s string) []string {
	if s == "" {
		return []string{}
	}
	return []string{s}
}

func intOrZero(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
