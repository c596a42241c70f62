package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/resilience"
)

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLite(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_ForeignKeyEnforced(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.InsertPerson(ctx, &model.Person{OrganizationID: 999, Name: "Orphan"})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
	assert.False(t, IsDuplicate(err))
}

func TestSQLite_NestedSavepoints(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	unit, err := tx.Begin(ctx)
	require.NoError(t, err)
	org := &model.Organization{Name: "Unit Org"}
	require.NoError(t, unit.InsertOrganization(ctx, org))

	good, err := unit.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, good.InsertPerson(ctx, &model.Person{OrganizationID: org.ID, Name: "Kept"}))
	require.NoError(t, good.Commit(ctx))

	bad, err := unit.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, bad.InsertPerson(ctx, &model.Person{OrganizationID: org.ID, Name: "Dropped"}))
	require.NoError(t, bad.Rollback(ctx))

	require.NoError(t, unit.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))

	people, err := st.ListPeople(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Kept", people[0].Name)
}

func TestIsTransient_Classification(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("syntax error")))
	assert.True(t, IsTransient(resilience.NewTransientError(errors.New("conn closed"), 0)))
	assert.True(t, IsTransient(errors.New("write: broken pipe")))
}
