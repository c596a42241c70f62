//go:build integration

package attio

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_UpsertCompany asserts a throwaway company against a real
// workspace. Requires FIRMSYNC_CRM_API_KEY.
func TestIntegration_UpsertCompany(t *testing.T) {
	apiKey := os.Getenv("FIRMSYNC_CRM_API_KEY")
	if apiKey == "" {
		t.Skip("FIRMSYNC_CRM_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := NewClient(apiKey, WithBaseURL(os.Getenv("FIRMSYNC_CRM_BASE_URL")))
	resp, err := c.UpsertCompany(ctx, map[string]any{
		"name":    "firmsync integration",
		"domains": []string{"firmsync-integration.example"},
	}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RecordID())
}
