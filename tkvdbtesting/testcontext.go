package tkvdbtesting

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/slaykovsky/tkvdb"
)

type TestContext struct {
	Log logger.Logger
	DB  *tkvdb.DB
	T   *testing.T

	Path string
}

type TestConfig struct {
	// Seed is carried for callers; NewTestContext does not read it, and
	// GenerateKVs takes its seed as an argument.
	Seed            int64
	TestLabelPrefix string

	Opts []tkvdb.Option
}

// NewTestContext opens a uniquely named database under the test temp dir and
// wires up the test logger.
func NewTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := TestContext{
		T: t,
	}
	logger.New("NOOP")
	c.Log = logger.Sugar.WithServiceName(cfg.TestLabelPrefix)

	c.Path = filepath.Join(t.TempDir(), cfg.TestLabelPrefix+"-"+uuid.NewString()+".tkv")

	opts := append([]tkvdb.Option{tkvdb.WithLogger(c.Log)}, cfg.Opts...)
	db, err := tkvdb.Open(c.Path, opts...)
	if err != nil {
		t.Fatalf("failed to open database %s: %v", c.Path, err)
	}
	c.DB = db

	t.Cleanup(func() { _ = c.DB.Close() })

	return c
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

// Reopen closes and reopens the database file, as a fresh process would.
func (c *TestContext) Reopen() {
	err := c.DB.Close()
	if err != nil {
		c.T.Fatalf("failed to close database %s: %v", c.Path, err)
	}
	c.DB, err = tkvdb.Open(c.Path, tkvdb.WithLogger(c.Log))
	if err != nil {
		c.T.Fatalf("failed to reopen database %s: %v", c.Path, err)
	}
	db := c.DB
	c.T.Cleanup(func() { _ = db.Close() })
}

// KV is a generated key-value pair.
type KV struct {
	Key []byte
	Val []byte
}

// GenerateKVs produces count distinct random pairs with keys of keyLen
// bytes, in generation order.
func GenerateKVs(seed int64, count, keyLen int) []KV {
	rng := rand.New(rand.NewSource(seed))
	seen := map[string]bool{}
	kvs := make([]KV, 0, count)
	for len(kvs) < count {
		k := make([]byte, keyLen)
		rng.Read(k)
		if seen[string(k)] {
			continue
		}
		seen[string(k)] = true
		v := make([]byte, 1+rng.Intn(16))
		rng.Read(v)
		kvs = append(kvs, KV{Key: k, Val: v})
	}
	return kvs
}

// SortedKeys returns the pair keys in ascending byte-lexicographic order.
func SortedKeys(kvs []KV) [][]byte {
	keys := make([][]byte, len(kvs))
	for i := range kvs {
		keys[i] = kvs[i].Key
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return keys
}
