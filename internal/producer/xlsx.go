package producer

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/firmsync/internal/model"
)

// Sheet names read by the XLSX producer. A workbook without an
// organizations sheet has its first sheet read as organizations.
const (
	SheetOrganizations = "organizations"
	SheetPersons       = "persons"
)

// personPrefix marks organization-sheet columns that describe one
// affiliated person per row.
const personPrefix = "person_"

// XLSX decodes a workbook with one header row per sheet. Rows naming the
// same organization (name and domain) are merged, each contributing its
// person_* columns as one person.
type XLSX struct{}

// Name implements Producer.
func (XLSX) Name() string { return "xlsx" }

// Decode implements Producer.
func (XLSX) Decode(r io.Reader) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read")
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	batch := &Batch{}
	orgSheet, ok := f.Sheet[SheetOrganizations]
	if !ok && len(f.Sheets) > 0 && f.Sheets[0].Name != SheetPersons {
		orgSheet = f.Sheets[0]
	}
	if orgSheet != nil {
		orgs, err := decodeOrganizationSheet(sheetRows(orgSheet))
		if err != nil {
			return nil, err
		}
		batch.Organizations = orgs
	}
	if sheet, ok := f.Sheet[SheetPersons]; ok {
		batch.Persons = decodePersonSheet(sheetRows(sheet))
	}
	return batch, nil
}

// row is one spreadsheet row keyed by lower-cased header.
type row map[string]string

func sheetRows(sheet *xlsx.Sheet) []row {
	if len(sheet.Rows) == 0 {
		return nil
	}
	header := rowToStrings(sheet.Rows[0])
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows := make([]row, 0, len(sheet.Rows)-1)
	for _, r := range sheet.Rows[1:] {
		cells := rowToStrings(r)
		m := make(row, len(header))
		empty := true
		for i, h := range header {
			if h == "" || i >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[i])
			if v != "" {
				empty = false
			}
			m[h] = v
		}
		if !empty {
			rows = append(rows, m)
		}
	}
	return rows
}

func rowToStrings(r *xlsx.Row) []string {
	cells := make([]string, len(r.Cells))
	for j, cell := range r.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func decodeOrganizationSheet(rows []row) ([]model.OrganizationRecord, error) {
	var orgs []model.OrganizationRecord
	index := map[string]int{}
	for n, r := range rows {
		key := strings.ToLower(r["name"]) + "\x00" + strings.ToLower(r["domains"])
		i, seen := index[key]
		if !seen {
			org, err := organizationFromRow(r)
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: organizations row %d", n+2)
			}
			orgs = append(orgs, org)
			i = len(orgs) - 1
			index[key] = i
		}
		if p, ok := personFromRow(r, personPrefix); ok {
			orgs[i].Lawyers = append(orgs[i].Lawyers, p)
		}
	}
	return orgs, nil
}

func decodePersonSheet(rows []row) []model.PersonRecord {
	persons := make([]model.PersonRecord, 0, len(rows))
	for _, r := range rows {
		if p, ok := personFromRow(r, ""); ok {
			p.CompanyName = r["company_name"]
			persons = append(persons, p)
		}
	}
	return persons
}

func organizationFromRow(r row) (model.OrganizationRecord, error) {
	org := model.OrganizationRecord{
		Name:       r["name"],
		Domains:    model.FlexString(r["domains"]),
		Email:      r["company_email"],
		Phone:      r["company_phone"],
		Address:    r["company_address"],
		AreasOfLaw: listCell(r["areas_of_law"]),
		SourceName: r["source_name"],
	}
	var err error
	if org.TotalSolicitors, err = intCell(r["total_solicitors"]); err != nil {
		return org, eris.Wrap(err, "total_solicitors")
	}
	if org.ScottishPartners, err = intCell(r["scottish_partners"]); err != nil {
		return org, eris.Wrap(err, "scottish_partners")
	}
	if city := r[model.AuxCity]; city != "" {
		org.RedundantInfo = model.Aux{model.AuxCity: city}
	}
	return org, nil
}

func personFromRow(r row, prefix string) (model.PersonRecord, bool) {
	name := r[prefix+"name"]
	if name == "" {
		return model.PersonRecord{}, false
	}
	return model.PersonRecord{
		Name:           name,
		EmailAddresses: model.FlexString(r[prefix+"email_addresses"]),
		Telephone:      r[prefix+"telephone"],
		Address:        r[prefix+"address"],
		PracticeAreas:  listCell(r[prefix+"practice_areas"]),
		SourceName:     r["source_name"],
	}, true
}

// listCell keeps a delimited cell as a JSON string; the CRM mapper splits
// it later.
func listCell(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	b, _ := json.Marshal(s)
	return b
}

func intCell(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	// Numeric cells can render as "12.0".
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(f)
		return &n, nil
	}
	return nil, eris.Errorf("not a number: %q", s)
}
