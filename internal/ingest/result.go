package ingest

// Result holds the counters of one ingestion run. Counters are the only
// result surface: no row data is returned.
type Result struct {
	Source string `json:"source"`

	OrganizationSuccess int `json:"organization_success"`
	OrganizationFailed  int `json:"organization_failed"`
	OrganizationNew     int `json:"organization_new"`
	OrganizationUpdated int `json:"organization_updated"`

	// OrganizationPlaceholders counts organizations auto-created by the
	// person-first path.
	OrganizationPlaceholders int `json:"organization_placeholders"`

	PersonSuccess int `json:"person_success"`
	PersonFailed  int `json:"person_failed"`
	PersonNew     int `json:"person_new"`
	PersonUpdated int `json:"person_updated"`

	Batches int `json:"batches"`
}

// Add accumulates o into r. Source is left untouched.
func (r *Result) Add(o Result) {
	r.OrganizationSuccess += o.OrganizationSuccess
	r.OrganizationFailed += o.OrganizationFailed
	r.OrganizationNew += o.OrganizationNew
	r.OrganizationUpdated += o.OrganizationUpdated
	r.OrganizationPlaceholders += o.OrganizationPlaceholders
	r.PersonSuccess += o.PersonSuccess
	r.PersonFailed += o.PersonFailed
	r.PersonNew += o.PersonNew
	r.PersonUpdated += o.PersonUpdated
	r.Batches += o.Batches
}

// Counters flattens r into the map stored in the run log.
func (r Result) Counters() map[string]int {
	return map[string]int{
		"organization_success":      r.OrganizationSuccess,
		"organization_failed":       r.OrganizationFailed,
		"organization_new":          r.OrganizationNew,
		"organization_updated":      r.OrganizationUpdated,
		"organization_placeholders": r.OrganizationPlaceholders,
		"person_success":            r.PersonSuccess,
		"person_failed":             r.PersonFailed,
		"person_new":                r.PersonNew,
		"person_updated":            r.PersonUpdated,
		"batches":                   r.Batches,
	}
}
