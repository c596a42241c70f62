package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents the Salesforce Account fields a synced firm owns.
type Account struct {
	ID            string `json:"Id" salesforce:"Id"`
	Name          string `json:"Name" salesforce:"Name"`
	Website       string `json:"Website" salesforce:"Website"`
	Phone         string `json:"Phone" salesforce:"Phone"`
	BillingStreet string `json:"BillingStreet" salesforce:"BillingStreet"`
	BillingCity   string `json:"BillingCity" salesforce:"BillingCity"`
	Description   string `json:"Description" salesforce:"Description"`
}

// Contact represents the Salesforce Contact fields a synced person owns.
type Contact struct {
	ID            string `json:"Id" salesforce:"Id"`
	AccountID     string `json:"AccountId" salesforce:"AccountId"`
	FirstName     string `json:"FirstName" salesforce:"FirstName"`
	LastName      string `json:"LastName" salesforce:"LastName"`
	Email         string `json:"Email" salesforce:"Email"`
	Phone         string `json:"Phone" salesforce:"Phone"`
	MailingStreet string `json:"MailingStreet" salesforce:"MailingStreet"`
}

var (
	accountFields = []string{"Id", "Name", "Website", "Phone", "BillingStreet", "BillingCity", "Description"}
	contactFields = []string{"Id", "AccountId", "FirstName", "LastName", "Email", "Phone", "MailingStreet"}
)

// FindAccountByWebsite queries Salesforce for an Account matching the given website.
// Returns nil if no account is found.
func FindAccountByWebsite(ctx context.Context, c Client, website string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website = '%s' LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql(website),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by website %s", website))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindContactByEmail looks up a Contact of the given Account by email.
// Returns nil if no contact is found.
func FindContactByEmail(ctx context.Context, c Client, accountID, email string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE AccountId = '%s' AND Email = '%s' LIMIT 1",
		strings.Join(contactFields, ", "),
		escapeSoql(accountID),
		escapeSoql(email),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by email %s", email))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
