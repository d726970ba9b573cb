package tkvdb

import (
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
)

// Params carries the configurable knobs for a database. A zero limit means
// unbounded when the matching dynalloc flag is set; with dynalloc false it
// reserves nothing, so every non-empty allocation fails. The transaction buffer settings are inherited by transactions
// created with NewTransaction; NewTransactionWithBuffer overrides them.
type Params struct {
	// Flags and Mode are passed to os.OpenFile for the database file.
	Flags int
	Mode  os.FileMode

	// WriteBufLimit caps the commit write buffer. WriteBufDynalloc allows
	// the buffer to be grown on demand; when false the buffer is reserved
	// up front at WriteBufLimit bytes.
	WriteBufLimit    int
	WriteBufDynalloc bool

	// TrBufLimit caps a transaction's node arena. TrBufDynalloc selects
	// per-node allocation; when false the arena reserves a fixed slab of
	// TrBufLimit bytes at transaction creation.
	TrBufLimit    int
	TrBufDynalloc bool

	Log logger.Logger
}

// DefaultParams returns the parameter set used when Open is given no
// options: read-write create, owner-only mode, unbounded dynamic buffers.
func DefaultParams() Params {
	return Params{
		Flags:            os.O_RDWR | os.O_CREATE,
		Mode:             0600,
		WriteBufLimit:    0,
		WriteBufDynalloc: true,
		TrBufLimit:       0,
		TrBufDynalloc:    true,
	}
}

// Option adjusts Params for Open.
type Option func(*Params)

func WithFileFlags(flags int) Option {
	return func(p *Params) { p.Flags = flags }
}

func WithFileMode(mode os.FileMode) Option {
	return func(p *Params) { p.Mode = mode }
}

func WithWriteBufLimit(limit int) Option {
	return func(p *Params) { p.WriteBufLimit = limit }
}

func WithWriteBufDynalloc(dynalloc bool) Option {
	return func(p *Params) { p.WriteBufDynalloc = dynalloc }
}

func WithTrBufLimit(limit int) Option {
	return func(p *Params) { p.TrBufLimit = limit }
}

func WithTrBufDynalloc(dynalloc bool) Option {
	return func(p *Params) { p.TrBufDynalloc = dynalloc }
}

func WithLogger(log logger.Logger) Option {
	return func(p *Params) { p.Log = log }
}
