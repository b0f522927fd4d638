package target_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/target"
	testutil "github.com/tigerroll/replica/pkg/replica/test"
)

func TestBuildMapping_CaseInsensitiveAndIncludesOperation(t *testing.T) {
	rs := &model.RowSet{Entity: "Orders", Columns: []string{"OrderId", "total"}}
	m, err := target.BuildMapping(rs, []string{"cdc_type", "Total", "ORDERID", "Extra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"OrderId", "total", "CDC_Type"}, m.Source)
	assert.Equal(t, []string{"ORDERID", "Total", "cdc_type"}, m.Destination)
}

func TestBuildMapping_Unmapped(t *testing.T) {
	rs := &model.RowSet{Entity: "Orders", Columns: []string{"OrderId"}}
	_, err := target.BuildMapping(rs, []string{"OrderId"})
	assert.True(t, errors.Is(err, target.ErrUnmappedColumn))
	assert.ErrorContains(t, err, "Orders.CDC_Type")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "[a]]b]", target.QuoteIdent("sqlserver", "a]b"))
	assert.Equal(t, "`a``b`", target.QuoteIdent("mysql", "a`b"))
	assert.Equal(t, `"a""b"`, target.QuoteIdent("postgres", `a"b`))
}

func TestSQLCatalog_SQLite(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewSQLiteConnection(t, "catalog")
	_, err := conn.ExecuteStatement(ctx, `CREATE TABLE Regions (Id INTEGER, Name TEXT, CDC_Type TEXT)`)
	require.NoError(t, err)
	_, err = conn.ExecuteStatement(ctx, `INSERT INTO Regions VALUES (1, 'North', 'N')`)
	require.NoError(t, err)

	session, err := conn.Pin(ctx)
	require.NoError(t, err)
	defer session.Close()
	c := target.NewSQLCatalog(session, nil)

	ok, err := c.TableExists(ctx, "Regions")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.TableExists(ctx, "Missing")
	require.NoError(t, err)
	assert.False(t, ok)

	cols, err := c.Columns(ctx, "Regions")
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name", "CDC_Type"}, cols)

	require.NoError(t, c.Truncate(ctx, "Regions"))
	var count int64
	require.NoError(t, conn.ExecuteRaw(ctx, &count, `SELECT COUNT(*) FROM Regions`))
	assert.Equal(t, int64(0), count)
}
