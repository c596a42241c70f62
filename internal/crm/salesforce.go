package crm

import (
	"strings"

	"github.com/sells-group/firmsync/internal/model"
)

// BuildAccount maps org to Salesforce Account fields. Empty values are left
// out so an update never clears a field the CRM already holds.
func BuildAccount(org *model.Organization) map[string]any {
	fields := map[string]any{"Name": org.Name}
	setIf(fields, "Website", org.Domain)
	setIf(fields, "Phone", org.Phone)
	setIf(fields, "BillingStreet", org.Address)
	setIf(fields, "BillingCity", org.Aux.String(model.AuxCity))
	if areas := NormalizeList(org.PracticeAreas); areas != "" {
		fields["Description"] = "Areas of law: " + areas
	}
	return fields
}

// BuildContact maps p to Salesforce Contact fields. AccountId is set by the
// caller.
func BuildContact(p *model.Person) map[string]any {
	first, last := SplitName(p.Name)
	fields := map[string]any{"LastName": last}
	setIf(fields, "FirstName", first)
	setIf(fields, "Email", p.Email)
	setIf(fields, "Phone", p.Phone)
	setIf(fields, "MailingStreet", p.Address)
	return fields
}

// SplitName splits a full name on its last space. A single word is a last
// name.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return "", full
	}
	return strings.TrimSpace(full[:i]), full[i+1:]
}

func setIf(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
