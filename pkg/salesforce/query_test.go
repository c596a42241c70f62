package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAccountByWebsite(t *testing.T) {
	t.Run("returns account when found", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "Website = 'smithco.com'")
				assert.Contains(t, soql, "SELECT Id, Name")

				accounts := out.(*[]Account)
				*accounts = []Account{{ID: "001xx", Name: "Smith & Co", Website: "smithco.com"}}
				return nil
			},
		}

		acct, err := FindAccountByWebsite(context.Background(), mock, "smithco.com")
		require.NoError(t, err)
		require.NotNil(t, acct)
		assert.Equal(t, "001xx", acct.ID)
	})

	t.Run("matches exactly, not by pattern", func(t *testing.T) {
		var captured string
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				captured = soql
				return nil
			},
		}
		_, err := FindAccountByWebsite(context.Background(), mock, "my_firm%.com")
		require.NoError(t, err)
		assert.Contains(t, captured, "WHERE Website = 'my_firm%.com' LIMIT 1")
		assert.NotContains(t, captured, "LIKE")
	})

	t.Run("returns nil when not found", func(t *testing.T) {
		acct, err := FindAccountByWebsite(context.Background(), &mockClient{}, "none.com")
		require.NoError(t, err)
		assert.Nil(t, acct)
	})

	t.Run("wraps query error", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(context.Context, string, any) error { return errors.New("boom") },
		}
		_, err := FindAccountByWebsite(context.Background(), mock, "smithco.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "find account by website")
	})
}

func TestFindContactByEmail_EscapesLiterals(t *testing.T) {
	var captured string
	mock := &mockClient{
		queryFn: func(_ context.Context, soql string, _ any) error {
			captured = soql
			return nil
		},
	}

	contact, err := FindContactByEmail(context.Background(), mock, "001xx", "o'brien@firm.com")
	require.NoError(t, err)
	assert.Nil(t, contact)
	assert.Contains(t, captured, "AccountId = '001xx'")
	assert.Contains(t, captured, `Email = 'o\'brien@firm.com'`)
}

func TestEscapeSoql(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", escapeSoql("plain"))
	assert.Equal(t, `a\'b`, escapeSoql("a'b"))
	assert.Equal(t, `a\\\'b`, escapeSoql(`a\'b`))
}
