package tkvdb_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slaykovsky/tkvdb"
)

func TestFixedSlabRejectsOverflowAndKeepsEarlierKeys(t *testing.T) {
	tr := tkvdb.NewTransactionWithBuffer(nil, 64*1024, false)
	require.NoError(t, tr.Begin())

	var accepted []string
	var failed bool
	for i := 0; i < 10000; i++ {
		k := fmt.Sprintf("key-%06d", i)
		err := tr.Put([]byte(k), []byte("some value bytes"))
		if err != nil {
			require.ErrorIs(t, err, tkvdb.ErrNoMem)
			failed = true
			break
		}
		accepted = append(accepted, k)
	}
	require.True(t, failed, "the slab must fill up")
	require.NotEmpty(t, accepted)

	// No previously successful insert is lost.
	for _, k := range accepted {
		v, err := tr.Get([]byte(k))
		require.NoError(t, err, "key %q", k)
		require.Equal(t, []byte("some value bytes"), v)
	}
}

func TestFixedSlabRollbackRewinds(t *testing.T) {
	tr := tkvdb.NewTransactionWithBuffer(nil, 32*1024, false)

	for round := 0; round < 3; round++ {
		require.NoError(t, tr.Begin())
		require.NoError(t, tr.Put([]byte("k"), []byte("v")))
		v, err := tr.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
		require.NoError(t, tr.Rollback())
	}
}

func TestDynamicArenaCeiling(t *testing.T) {
	tr := tkvdb.NewTransactionWithBuffer(nil, 16*1024, true)
	require.NoError(t, tr.Begin())

	var sawNoMem bool
	for i := 0; i < 100; i++ {
		if err := tr.Put([]byte(fmt.Sprintf("k%02d", i)), []byte("v")); err != nil {
			require.ErrorIs(t, err, tkvdb.ErrNoMem)
			sawNoMem = true
			break
		}
	}
	require.True(t, sawNoMem)
}
