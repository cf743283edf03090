package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-research-scraper/internal/pipeline"
	"github.com/maltedev/price-research-scraper/internal/pricing"
)

func result(description string, errs ...string) *pipeline.Result {
	res := &pipeline.Result{
		RunID:   uuid.New(),
		Request: pipeline.Request{Description: description},
		Errors:  errs,
	}
	if len(errs) == 0 {
		res.Recommendation = &pricing.Recommendation{Price: decimal.RequireFromString("1025.5")}
	}
	return res
}

func TestReportStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	rs, err := NewReportStore(dir)
	require.NoError(t, err)

	res := result("Bocina JBL Flip")
	entry, err := rs.Save(res)
	require.NoError(t, err)

	assert.Equal(t, "completed", entry.Status)
	assert.Equal(t, "1025.50", entry.RecommendedPrice)
	assert.FileExists(t, filepath.Join(dir, res.RunID.String()+".json"))
	assert.NoFileExists(t, filepath.Join(dir, res.RunID.String()+".json.tmp"))

	var loaded pipeline.Result
	require.NoError(t, rs.Load(res.RunID.String(), &loaded))
	assert.Equal(t, res.RunID, loaded.RunID)
	assert.Equal(t, "Bocina JBL Flip", loaded.Request.Description)
	require.NotNil(t, loaded.Recommendation)
	assert.Equal(t, "1025.5", loaded.Recommendation.Price.String())
}

func TestReportStore_PersistsIndex(t *testing.T) {
	dir := t.TempDir()
	rs, err := NewReportStore(dir)
	require.NoError(t, err)

	ok := result("Bocina JBL Flip")
	failed := result("Tripie 8", "no offers found")
	_, err = rs.Save(ok)
	require.NoError(t, err)
	_, err = rs.Save(failed)
	require.NoError(t, err)

	reopened, err := NewReportStore(dir)
	require.NoError(t, err)

	entry, found := reopened.Get(failed.RunID.String())
	require.True(t, found)
	assert.Equal(t, "failed", entry.Status)
	assert.Equal(t, []string{"no offers found"}, entry.Errors)
	assert.Empty(t, entry.RecommendedPrice)

	assert.Equal(t, map[string]int{"completed": 1, "failed": 1, "total": 2}, reopened.GetStats())
}

func TestReportStore_ListNewestFirst(t *testing.T) {
	rs, err := NewReportStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, d := range []string{"primero", "segundo", "tercero"} {
		rs.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		res := result(d)
		_, err := rs.Save(res)
		require.NoError(t, err)
		ids = append(ids, res.RunID.String())
	}

	list := rs.List()
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].RunID)
	assert.Equal(t, ids[0], list[2].RunID)
}

func TestReportStore_Errors(t *testing.T) {
	dir := t.TempDir()
	rs, err := NewReportStore(dir)
	require.NoError(t, err)

	var v pipeline.Result
	assert.ErrorIs(t, rs.Load("missing", &v), ErrReportNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{broken"), 0o644))
	_, err = NewReportStore(dir)
	assert.Error(t, err)
}
