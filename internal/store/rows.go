package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/model"
)

const organizationColumns = `id, COALESCE(domains, ''), name, phone, email, address, practice_areas,
	total_solicitors, scottish_partners, source_name, redundant_info, created_at, updated_at`

const personColumns = `id, organization_id, name, email, phone, address, practice_areas,
	source_name, redundant_info, created_at, updated_at`

const runColumns = `id, kind, source, status, counters, error, started_at, finished_at`

type scannable interface {
	Scan(dest ...any) error
}

// scanOrganization returns the driver's error unwrapped so callers can match
// their own no-rows sentinel.
func scanOrganization(row scannable) (*model.Organization, error) {
	var o model.Organization
	var areas, aux []byte
	if err := row.Scan(&o.ID, &o.Domain, &o.Name, &o.Phone, &o.Email, &o.Address, &areas,
		&o.TotalSolicitors, &o.ScottishPartners, &o.Source, &aux, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if len(areas) > 0 {
		o.PracticeAreas = json.RawMessage(areas)
	}
	var err error
	if o.Aux, err = decodeAux(aux); err != nil {
		return nil, eris.Wrapf(err, "store: decode redundant_info for organization %d", o.ID)
	}
	return &o, nil
}

func scanPerson(row scannable) (*model.Person, error) {
	var p model.Person
	var areas, aux []byte
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Email, &p.Phone, &p.Address, &areas,
		&p.Source, &aux, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(areas) > 0 {
		p.PracticeAreas = json.RawMessage(areas)
	}
	var err error
	if p.Aux, err = decodeAux(aux); err != nil {
		return nil, eris.Wrapf(err, "store: decode redundant_info for person %d", p.ID)
	}
	return &p, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var counters []byte
	if err := row.Scan(&r.ID, &r.Kind, &r.Source, &r.Status, &counters, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &r.Counters); err != nil {
			return nil, eris.Wrapf(err, "store: decode counters for run %s", r.ID)
		}
	}
	return &r, nil
}

func decodeAux(raw []byte) (model.Aux, error) {
	if model.IsEmptyJSON(raw) {
		return nil, nil
	}
	var aux model.Aux
	if err := json.Unmarshal(raw, &aux); err != nil {
		return nil, err
	}
	return aux, nil
}

// jsonArg returns raw as a query argument, or nil (NULL) when it carries no
// value.
func jsonArg(raw json.RawMessage) any {
	if model.IsEmptyJSON(raw) {
		return nil
	}
	return string(raw)
}

func auxArg(aux model.Aux) (any, error) {
	if len(aux) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(aux)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode redundant_info")
	}
	return string(b), nil
}

func countersArg(counters map[string]int) (any, error) {
	if counters == nil {
		return nil, nil
	}
	b, err := json.Marshal(counters)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode counters")
	}
	return string(b), nil
}

// nullIfEmpty maps "" to NULL. Used for the domain column so that any
// number of domain-less organizations fit under its UNIQUE constraint.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func organizationArgs(o *model.Organization) ([]any, error) {
	aux, err := auxArg(o.Aux)
	if err != nil {
		return nil, err
	}
	return []any{
		nullIfEmpty(o.Domain), o.Name, o.Phone, o.Email, o.Address, jsonArg(o.PracticeAreas),
		o.TotalSolicitors, o.ScottishPartners, o.Source, aux,
	}, nil
}

func personArgs(p *model.Person) ([]any, error) {
	aux, err := auxArg(p.Aux)
	if err != nil {
		return nil, err
	}
	return []any{
		p.OrganizationID, p.Name, p.Email, p.Phone, p.Address, jsonArg(p.PracticeAreas), p.Source, aux,
	}, nil
}

func now() time.Time {
	return time.Now().UTC()
}
