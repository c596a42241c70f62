package producer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/firmsync/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"firms.json", "json"},
		{"firms.YAML", "yaml"},
		{"dir/firms.yml", "yaml"},
		{"export.xlsx", "xlsx"},
	}
	for _, tt := range tests {
		p, err := ForPath(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, p.Name(), tt.path)
	}

	_, err := ForPath("firms.csv")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, err.Error(), ".json, .xlsx, .yaml, .yml")
}

func TestLoad_JSONObject(t *testing.T) {
	path := writeFile(t, "batch.json", `{
		"organizations": [
			{"name": "Smith & Co", "domains": ["smithco.com"], "lawyers": [{"name": "Jane Smith"}]}
		],
		"persons": [
			{"name": "Tom Brown", "company_name": "Brown Legal"}
		]
	}`)

	batch, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, batch.Organizations, 1)
	assert.Equal(t, model.FlexString("smithco.com"), batch.Organizations[0].Domains)
	require.Len(t, batch.Organizations[0].Lawyers, 1)
	require.Len(t, batch.Persons, 1)
	assert.Equal(t, "Brown Legal", batch.Persons[0].OrganizationName())
	assert.Equal(t, 2, batch.Len())
}

func TestLoad_JSONArray(t *testing.T) {
	path := writeFile(t, "orgs.json", "\n  [{\"name\": \"A\"}, {\"name\": \"B\"}]")

	batch, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, batch.Organizations, 2)
	assert.Empty(t, batch.Persons)
}

func TestJSON_Errors(t *testing.T) {
	t.Parallel()

	_, err := JSON{}.Decode(strings.NewReader("   "))
	assert.Error(t, err)

	_, err = JSON{}.Decode(strings.NewReader(`{"organizations": 3}`))
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "batch.yaml", `
organizations:
  - name: Smith & Co
    domains: https://www.smithco.com/
    areas_of_law: [Family, Crime]
    total_solicitors: 12
    redundant_info:
      city: Edinburgh
    lawyers:
      - name: Jane Smith
        email_addresses: [jane@smithco.com]
`)

	batch, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, batch.Organizations, 1)

	org := batch.Organizations[0]
	assert.Equal(t, "Smith & Co", org.Name)
	assert.JSONEq(t, `["Family","Crime"]`, string(org.AreasOfLaw))
	require.NotNil(t, org.TotalSolicitors)
	assert.Equal(t, 12, *org.TotalSolicitors)
	assert.Equal(t, "Edinburgh", org.RedundantInfo.String(model.AuxCity))
	require.Len(t, org.Lawyers, 1)
	assert.Equal(t, model.FlexString("jane@smithco.com"), org.Lawyers[0].EmailAddresses)
}

func TestLoad_YAMLBareList(t *testing.T) {
	path := writeFile(t, "orgs.yml", "- name: A\n- name: B\n")

	batch, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, batch.Organizations, 2)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer: open")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, writeFile(t, "a.json", "[]"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Load(context.Background(), writeFile(t, "bad.yaml", "organizations: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "as yaml")
}
