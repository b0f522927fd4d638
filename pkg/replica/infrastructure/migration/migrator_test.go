package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/replica/pkg/replica/infrastructure/migration"
	testutil "github.com/tigerroll/replica/pkg/replica/test"
)

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewSQLiteConnection(t, "migrate")
	m := migration.NewMigrator(conn)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	ok, err := conn.HasTable(ctx, "LoadStatusLog")
	require.NoError(t, err)
	assert.True(t, ok)

	cols, err := conn.ColumnNames(ctx, "LoadStatusLog")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"LoadId", "Load_First_CT_Version", "Load_From_Datetime",
		"Load_Last_CT_Version", "Load_To_Datetime", "Load_Status_Code", "Load_Type_Code",
	}, cols)

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrator_Down(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewSQLiteConnection(t, "migrate_down")
	m := migration.NewMigrator(conn)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))

	ok, err := conn.HasTable(ctx, "LoadStatusLog")
	require.NoError(t, err)
	assert.False(t, ok)
}
