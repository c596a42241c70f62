package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/store"
)

// Validation failures. They discard one record and never abort a batch.
var (
	ErrMissingName             = eris.New("ingest: record has no name")
	ErrMissingOrganizationName = eris.New("ingest: person does not name an organization")
)

// ReconcileOrganization finds or creates the organization row for rec and
// returns its id. rec must already be cleaned.
//
// Lookup is by exact domain when the record has one, otherwise by exact
// (name, address). Near-duplicates with slightly different addresses are not
// merged. A match is updated with the record's non-empty fields; existing
// values are never cleared.
func ReconcileOrganization(ctx context.Context, tx store.Tx, rec model.OrganizationRecord) (int64, bool, error) {
	if rec.Name == "" {
		return 0, false, ErrMissingName
	}

	var existing *model.Organization
	var err error
	if domain := string(rec.Domains); domain != "" {
		existing, err = tx.FindOrganizationByDomain(ctx, domain)
	} else {
		existing, err = tx.FindOrganizationByNameAddress(ctx, rec.Name, rec.Address)
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "ingest: look up organization %q", rec.Name)
	}

	if existing != nil {
		mergeOrganization(existing, rec)
		if err := tx.UpdateOrganization(ctx, existing); err != nil {
			return 0, false, eris.Wrapf(err, "ingest: update organization %q", rec.Name)
		}
		return existing.ID, false, nil
	}

	org := &model.Organization{}
	mergeOrganization(org, rec)
	if err := tx.InsertOrganization(ctx, org); err != nil {
		return 0, false, eris.Wrapf(err, "ingest: insert organization %q", rec.Name)
	}
	return org.ID, true, nil
}

// ReconcilePerson finds or creates the person identified by (name,
// organizationID). The person is always attached to organizationID.
func ReconcilePerson(ctx context.Context, tx store.Tx, organizationID int64, rec model.PersonRecord) (bool, error) {
	if rec.Name == "" {
		return false, ErrMissingName
	}

	existing, err := tx.FindPerson(ctx, organizationID, rec.Name)
	if err != nil {
		return false, eris.Wrapf(err, "ingest: look up person %q", rec.Name)
	}
	if existing != nil {
		mergePerson(existing, rec)
		existing.OrganizationID = organizationID
		if err := tx.UpdatePerson(ctx, existing); err != nil {
			return false, eris.Wrapf(err, "ingest: update person %q", rec.Name)
		}
		return false, nil
	}

	p := &model.Person{OrganizationID: organizationID}
	mergePerson(p, rec)
	if err := tx.InsertPerson(ctx, p); err != nil {
		return false, eris.Wrapf(err, "ingest: insert person %q", rec.Name)
	}
	return true, nil
}

func mergeOrganization(dst *model.Organization, rec model.OrganizationRecord) {
	setString(&dst.Domain, string(rec.Domains))
	setString(&dst.Name, rec.Name)
	setString(&dst.Phone, rec.Phone)
	setString(&dst.Email, rec.Email)
	setString(&dst.Address, rec.Address)
	setString(&dst.Source, rec.SourceName)
	if !model.IsEmptyJSON(rec.AreasOfLaw) {
		dst.PracticeAreas = rec.AreasOfLaw
	}
	if rec.TotalSolicitors != nil {
		dst.TotalSolicitors = rec.TotalSolicitors
	}
	if rec.ScottishPartners != nil {
		dst.ScottishPartners = rec.ScottishPartners
	}
	if len(rec.RedundantInfo) > 0 {
		dst.Aux = rec.RedundantInfo
	}
}

func mergePerson(dst *model.Person, rec model.PersonRecord) {
	setString(&dst.Name, rec.Name)
	setString(&dst.Email, string(rec.EmailAddresses))
	setString(&dst.Phone, rec.Telephone)
	setString(&dst.Address, rec.Address)
	setString(&dst.Source, rec.SourceName)
	if !model.IsEmptyJSON(rec.PracticeAreas) {
		dst.PracticeAreas = rec.PracticeAreas
	}
	if len(rec.RedundantInfo) > 0 {
		dst.Aux = rec.RedundantInfo
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
