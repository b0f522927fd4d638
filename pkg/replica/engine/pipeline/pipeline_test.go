package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/pipeline"
	"github.com/tigerroll/replica/pkg/replica/test"
)

var cols = []string{"Id", "Name"}

func classes(full, ref, txn string) model.Classifications {
	return model.Classifications{
		FullLoad:      model.ParseTableList(full),
		Reference:     model.ParseTableList(ref),
		Transactional: model.ParseTableList(txn),
	}
}

func TestHistoric_LoadsFullSnapshotTaggedNew(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("T1", cols, []any{1, "a"}, []any{2, "b"})
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "T1", Mode: model.TypeHistoric, Marker: model.NoBaseline, Classifications: classes("T1", "", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Outcome{Entity: "T1", Action: pipeline.ActionFull, Rows: 2}, out)
	assert.True(t, db.WasTruncated("T1"))
	written := db.WrittenRows("T1")
	require.NotNil(t, written)
	for _, r := range written.Rows {
		assert.Equal(t, model.OpNew, r.Op)
	}
	assert.Zero(t, db.Open, "sessions are released")
}

func TestHistoric_EmptySnapshotStillInvokesWriter(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("T2", cols)
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "T2", Mode: model.TypeHistoric, Classifications: classes("T2", "", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rows)
	assert.True(t, db.WasTruncated("T2"))
	assert.Equal(t, 1, db.Writes("T2"))
}

func TestHistoric_SkipsNonFullLoadAndMissingDestination(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("T1", cols).AddSourceOnly("Orphan", cols)
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)
	ctx := context.Background()

	out, err := p.Run(ctx, pipeline.Request{Entity: "T1", Mode: model.TypeHistoric, Classifications: classes("", "T1", "")})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ActionSkip, out.Action)
	assert.False(t, db.WasTruncated("T1"))

	out, err = p.Run(ctx, pipeline.Request{Entity: "Orphan", Mode: model.TypeHistoric, Classifications: classes("Orphan", "", "")})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ActionSkip, out.Action)
	assert.Zero(t, db.Writes("Orphan"))
}

func TestDelta_TransactionalWithChanges(t *testing.T) {
	changes := &model.RowSet{Entity: "Orders", Columns: cols, Rows: []model.RowChangeRecord{
		{Values: []any{1, "x"}, Op: model.OpNew},
		{Values: []any{2, "y"}, Op: model.OpUpdate},
		{Values: []any{3, nil}, Op: model.OpDelete},
	}}
	db := test.NewFakeDatabases().AddTable("Orders", cols, []any{9, "old"}).SetChanges("Orders", changes)
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Orders", Mode: model.TypeDelta, Marker: 10,
		Classifications: classes("", "", "Orders"), Pending: model.NewTableSet("orders"),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Outcome{Entity: "Orders", Action: pipeline.ActionDelta, Rows: 3, Delta: true}, out)
	written := db.WrittenRows("Orders")
	require.NotNil(t, written)
	assert.Equal(t, []model.Operation{model.OpNew, model.OpUpdate, model.OpDelete},
		[]model.Operation{written.Rows[0].Op, written.Rows[1].Op, written.Rows[2].Op})
}

func TestDelta_NoPendingChangesTruncatesOnly(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("Orders", cols, []any{1, "a"})
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Orders", Mode: model.TypeDelta, Marker: 10,
		Classifications: classes("", "", "Orders"), Pending: model.NewTableSet(),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ActionTruncate, out.Action)
	assert.False(t, out.Delta)
	assert.True(t, db.WasTruncated("Orders"))
	assert.Zero(t, db.Writes("Orders"))
}

func TestDelta_EmptyChangeSetIsNotWritten(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("Orders", cols)
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Orders", Mode: model.TypeDelta, Marker: 10,
		Classifications: classes("", "", "Orders"), Pending: model.NewTableSet("Orders"),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.ActionDelta, out.Action)
	assert.False(t, out.Delta)
	assert.Zero(t, db.Writes("Orders"))
}

func TestDelta_ReferenceReloadsSnapshot(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("Country", cols, []any{1, "NZ"}, []any{2, "JP"})
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	out, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Country", Mode: model.TypeDelta, Marker: 10, Classifications: classes("", "Country", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Outcome{Entity: "Country", Action: pipeline.ActionReference, Rows: 2}, out)
	assert.Equal(t, 2, db.WrittenRows("Country").Len())
}

func TestSensitiveFieldsAreTransformedBeforeWrite(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("Accounts", []string{"Id", "EmailAddress"}, []any{1, "a@example.com"})
	tr := &test.FakeTransformer{}
	p := pipeline.NewEntityLoadPipeline(db, tr, nil, nil)

	_, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Accounts", Mode: model.TypeHistoric, Classifications: classes("Accounts", "", ""),
		SensitiveFields: []string{"EmailAddress"}, KeyID: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "A@EXAMPLE.COM", db.WrittenRows("Accounts").Rows[0].Values[1])
	assert.Equal(t, 1, tr.Calls)
}

func TestTransformFailurePropagates(t *testing.T) {
	db := test.NewFakeDatabases().AddTable("Accounts", []string{"Id", "EmailAddress"}, []any{1, "garbage"})
	boom := errors.New("cannot decrypt")
	p := pipeline.NewEntityLoadPipeline(db, &test.FakeTransformer{Err: boom}, nil, nil)

	_, err := p.Run(context.Background(), pipeline.Request{
		Entity: "Accounts", Mode: model.TypeHistoric, Classifications: classes("Accounts", "", ""),
		SensitiveFields: []string{"EmailAddress"},
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, db.Writes("Accounts"))
}

func TestWriteFailurePropagates(t *testing.T) {
	boom := errors.New("disk full")
	db := test.NewFakeDatabases().AddTable("T1", cols, []any{1, "a"}).FailWrite("T1", boom)
	p := pipeline.NewEntityLoadPipeline(db, nil, nil, nil)

	_, err := p.Run(context.Background(), pipeline.Request{Entity: "T1", Mode: model.TypeHistoric, Classifications: classes("T1", "", "")})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, db.Open)
}
