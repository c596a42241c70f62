package crmsync

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/firmsync/internal/crm"
	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/resilience"
	"github.com/sells-group/firmsync/pkg/attio"
	"github.com/sells-group/firmsync/pkg/salesforce"
)

// Destination writes organizations and people to a CRM.
type Destination interface {
	// UpsertOrganization writes org and returns its remote record id. An
	// empty id with a nil error means the CRM accepted the write without
	// naming the record; the run counts that organization as failed.
	UpsertOrganization(ctx context.Context, org *model.Organization) (string, error)
	// UpsertPerson writes p linked to the organization record remoteOrgID.
	UpsertPerson(ctx context.Context, p *model.Person, remoteOrgID string) error
}

// AttioDestination syncs to the Attio companies and people objects.
type AttioDestination struct {
	client attio.Client
	mapper *crm.Mapper
}

// NewAttioDestination returns a Destination backed by client.
func NewAttioDestination(client attio.Client, mapper *crm.Mapper) *AttioDestination {
	if mapper == nil {
		mapper = crm.NewMapper(nil, nil)
	}
	return &AttioDestination{client: client, mapper: mapper}
}

// UpsertOrganization asserts the company by domain when one is known and
// creates it otherwise.
func (d *AttioDestination) UpsertOrganization(ctx context.Context, org *model.Organization) (string, error) {
	resp, err := d.client.UpsertCompany(ctx, d.mapper.BuildOrganization(org), org.Domain != "")
	if err != nil {
		return "", err
	}
	return resp.RecordID(), nil
}

// UpsertPerson asserts the person by email when one is known and creates it
// otherwise.
func (d *AttioDestination) UpsertPerson(ctx context.Context, p *model.Person, remoteOrgID string) error {
	values, err := d.mapper.BuildPerson(p, remoteOrgID)
	if err != nil {
		return err
	}
	_, err = d.client.UpsertPerson(ctx, values, p.Email != "")
	return err
}

// SalesforceDestination syncs organizations to Account and people to
// Contact.
type SalesforceDestination struct {
	client salesforce.Client
	retry  resilience.RetryConfig
}

// NewSalesforceDestination returns a Destination backed by client. Network
// failures are retried under retry.
func NewSalesforceDestination(client salesforce.Client, retry resilience.RetryConfig) *SalesforceDestination {
	return &SalesforceDestination{client: client, retry: retry}
}

// UpsertOrganization matches the Account by Website and returns its ID.
func (d *SalesforceDestination) UpsertOrganization(ctx context.Context, org *model.Organization) (string, error) {
	cfg := d.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("salesforce", "upsert_account")
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		id, err := salesforce.UpsertAccount(ctx, d.client, org.Domain, crm.BuildAccount(org))
		return id, classifySalesforce(err)
	})
}

// UpsertPerson matches the Contact by Email within the Account.
func (d *SalesforceDestination) UpsertPerson(ctx context.Context, p *model.Person, remoteOrgID string) error {
	if remoteOrgID == "" {
		return crm.ErrMissingParentID
	}
	cfg := d.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("salesforce", "upsert_contact")
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := salesforce.UpsertContact(ctx, d.client, remoteOrgID, p.Email, crm.BuildContact(p))
		return classifySalesforce(err)
	})
}

// classifySalesforce marks org-wide API limit errors as transient so they
// share the retry budget with network failures.
func classifySalesforce(err error) error {
	if err != nil && strings.Contains(err.Error(), "REQUEST_LIMIT_EXCEEDED") {
		return resilience.NewTransientError(err, http.StatusForbidden)
	}
	return err
}
