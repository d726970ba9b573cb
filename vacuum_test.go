package tkvdb_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slaykovsky/tkvdb"
	"github.com/slaykovsky/tkvdb/tkvdbtesting"
)

func commitPairs(t *testing.T, db *tkvdb.DB, kvs map[string]string) {
	t.Helper()
	tr := tkvdb.NewTransaction(db)
	require.NoError(t, tr.Begin())
	for k, v := range kvs {
		require.NoError(t, tr.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, tr.Commit())
}

func runVacuum(t *testing.T, db *tkvdb.DB) {
	t.Helper()
	tr := tkvdb.NewTransaction(db)
	require.NoError(t, tr.Begin())
	vac := tkvdb.NewTransaction(db)
	tres := tkvdb.NewTransaction(db)
	c := tkvdb.NewCursor(vac)
	require.NoError(t, tkvdb.Vacuum(tr, vac, tres, c))
}

func TestVacuumMarksObsoleteRegionReclaimable(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "vacuumgap"})

	commitPairs(t, c.DB, map[string]string{"a": "old1", "b": "old2", "c": "old3"})
	// Overwrite everything so no live path reaches the first block.
	commitPairs(t, c.DB, map[string]string{"a": "new-1", "b": "new-2", "c": "new-3"})

	before, err := c.DB.Info()
	require.NoError(t, err)
	require.Zero(t, before.GapEnd)

	runVacuum(t, c.DB)

	after, err := c.DB.Info()
	require.NoError(t, err)
	require.Zero(t, after.GapBegin)
	require.NotZero(t, after.GapEnd, "the obsolete region must join the gap")

	c.Reopen()
	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	for k, want := range map[string]string{"a": "new-1", "b": "new-2", "c": "new-3"} {
		v, err := tr.Get([]byte(k))
		require.NoError(t, err, "key %q", k)
		require.Equal(t, []byte(want), v, "key %q", k)
	}
	require.NoError(t, tr.Rollback())
}

func TestVacuumCopiesStillReferencedKeys(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "vacuumlive"})

	commitPairs(t, c.DB, map[string]string{"aa": "first", "ab": "keep-me"})
	// Rewrite only "aa"; the live root still references "ab"'s node
	// inside the first transaction block.
	commitPairs(t, c.DB, map[string]string{"aa": "second--"})

	runVacuum(t, c.DB)

	info, err := c.DB.Info()
	require.NoError(t, err)
	require.NotZero(t, info.GapEnd)

	c.Reopen()
	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	v, err := tr.Get([]byte("aa"))
	require.NoError(t, err)
	require.Equal(t, []byte("second--"), v)
	v, err = tr.Get([]byte("ab"))
	require.NoError(t, err)
	require.Equal(t, []byte("keep-me"), v)
	require.NoError(t, tr.Rollback())
}

func TestCommitFillsVacuumedGap(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "gapfill"})

	// A wide first transaction, so the reclaimed region is larger than
	// any small follow-up commit.
	wide := map[string]string{}
	for i := 0; i < 1000; i++ {
		wide[fmt.Sprintf("key-%04d", i)] = fmt.Sprintf("old-%04d", i)
	}
	commitPairs(t, c.DB, wide)

	rewritten := map[string]string{}
	for k := range wide {
		rewritten[k] = "n" + k
	}
	commitPairs(t, c.DB, rewritten)

	runVacuum(t, c.DB)

	st, err := os.Stat(c.Path)
	require.NoError(t, err)
	sizeAfterVacuum := st.Size()

	commitPairs(t, c.DB, map[string]string{"tiny": "t"})

	// The transaction block went into the gap; only the footer was
	// appended.
	st, err = os.Stat(c.Path)
	require.NoError(t, err)
	require.Equal(t, sizeAfterVacuum+49, st.Size())

	info, err := c.DB.Info()
	require.NoError(t, err)
	require.NotZero(t, info.GapBegin, "gap consumption must advance gap_begin")

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	v, err := tr.Get([]byte("tiny"))
	require.NoError(t, err)
	require.Equal(t, []byte("t"), v)
	for k, want := range rewritten {
		v, err := tr.Get([]byte(k))
		require.NoError(t, err, "key %q", k)
		require.Equal(t, []byte(want), v, "key %q", k)
	}
	require.NoError(t, tr.Rollback())
}
