package tkvdb_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slaykovsky/tkvdb"
	"github.com/slaykovsky/tkvdb/tkvdbtesting"
)

func TestCommitVisibleAfterFreshBegin(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "commitvisible"})

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("k"), []byte("v")))
	require.NoError(t, tr.Commit())

	require.NoError(t, tr.Begin())
	v, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.NoError(t, tr.Rollback())
}

func TestPersistenceRoundTrip(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "persistence"})
	kvs := tkvdbtesting.GenerateKVs(1, 1000, 8)

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	for _, kv := range kvs {
		require.NoError(t, tr.Put(kv.Key, kv.Val))
	}
	require.NoError(t, tr.Commit())
	require.NoError(t, c.DB.Sync())

	c.Reopen()

	tr = tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())

	for _, kv := range kvs {
		v, err := tr.Get(kv.Key)
		require.NoError(t, err)
		require.Equal(t, kv.Val, v)
	}

	want := tkvdbtesting.SortedKeys(kvs)
	cur := tkvdb.NewCursor(tr)
	i := 0
	err := cur.First()
	for err == nil {
		require.True(t, i < len(want))
		require.Equal(t, want[i], cur.Key(), "position %d", i)
		i++
		err = cur.Next()
	}
	require.ErrorIs(t, err, tkvdb.ErrNotFound)
	require.Equal(t, len(want), i)
	require.NoError(t, tr.Rollback())
}

func TestSecondCommitterIsRefused(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "modified"})

	// Seed a committed transaction so both contenders begin from the
	// same non-empty state.
	seed := tkvdb.NewTransaction(c.DB)
	require.NoError(t, seed.Begin())
	require.NoError(t, seed.Put([]byte("seed"), []byte("0")))
	require.NoError(t, seed.Commit())

	a := tkvdb.NewTransaction(c.DB)
	b := tkvdb.NewTransaction(c.DB)
	require.NoError(t, a.Begin())
	require.NoError(t, b.Begin())

	require.NoError(t, a.Put([]byte("a"), []byte("1")))
	require.NoError(t, b.Put([]byte("b"), []byte("2")))

	require.NoError(t, a.Commit())
	require.ErrorIs(t, b.Commit(), tkvdb.ErrModified)
	require.NoError(t, b.Rollback())

	// The file is as A left it: A's key is present, B's is not.
	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	v, err := tr.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, err = tr.Get([]byte("b"))
	require.ErrorIs(t, err, tkvdb.ErrNotFound)
	require.NoError(t, tr.Rollback())
}

func TestTruncatedTailRecoversPreviousCommit(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "crash"})

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("stable"), []byte("1")))
	require.NoError(t, tr.Commit())

	st, err := os.Stat(c.Path)
	require.NoError(t, err)
	size1 := st.Size()

	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("torn"), []byte("2")))
	require.NoError(t, tr.Commit())

	// Drop the whole second transaction, as a crash before any of its
	// bytes reached the disk would: the first footer is the tail again.
	require.NoError(t, c.DB.Close())
	require.NoError(t, os.Truncate(c.Path, size1))

	db, err := tkvdb.Open(c.Path)
	require.NoError(t, err)
	c.DB = db
	t.Cleanup(func() { _ = db.Close() })

	tr = tkvdb.NewTransaction(db)
	require.NoError(t, tr.Begin())
	v, err := tr.Get([]byte("stable"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, err = tr.Get([]byte("torn"))
	require.ErrorIs(t, err, tkvdb.ErrNotFound)
	require.NoError(t, tr.Rollback())
}

func TestTornTailIsCorrupted(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "torn"})

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("stable"), []byte("1")))
	require.NoError(t, tr.Commit())

	st, err := os.Stat(c.Path)
	require.NoError(t, err)

	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("torn"), []byte("2")))
	require.NoError(t, tr.Commit())

	// A write torn mid-block leaves garbage where a footer must be; the
	// reader refuses rather than guessing.
	require.NoError(t, c.DB.Close())
	require.NoError(t, os.Truncate(c.Path, st.Size()+5))

	_, err = tkvdb.Open(c.Path)
	require.ErrorIs(t, err, tkvdb.ErrCorrupted)
}

func TestWriteBufLimitRefusesCommit(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{
		TestLabelPrefix: "writebuf",
		Opts:            []tkvdb.Option{tkvdb.WithWriteBufLimit(16)},
	})

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("key"), []byte("value")))
	require.ErrorIs(t, tr.Commit(), tkvdb.ErrNoMem)

	// Nothing reached the file.
	st, err := os.Stat(c.Path)
	require.NoError(t, err)
	require.Zero(t, st.Size())
}

func TestDBInfoReportsFooter(t *testing.T) {
	c := tkvdbtesting.NewTestContext(t, tkvdbtesting.TestConfig{TestLabelPrefix: "dbinfo"})

	tr := tkvdb.NewTransaction(c.DB)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.Put([]byte("k"), []byte("v")))
	require.NoError(t, tr.Commit())

	info, err := c.DB.Info()
	require.NoError(t, err)
	// The root of the only transaction sits just after its header.
	require.Equal(t, uint64(9), info.RootOff)
	require.Zero(t, info.GapBegin)
	require.Zero(t, info.GapEnd)
}
