package tkvdb

import (
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
)

// dbInfo is the cached view of the file: its size and the footer found at
// the tail when it was last read.
type dbInfo struct {
	footer   footer
	filesize uint64
}

// DB is an open database file. It is presumed single-writer; see the commit
// protocol for the only cross-writer check the engine performs.
type DB struct {
	f      *os.File
	info   dbInfo
	params Params

	writeBuf []byte

	Log logger.Logger
}

// Open opens (creating if necessary) a database file and reads the live
// root from its tail footer.
func Open(path string, opts ...Option) (*DB, error) {
	params := DefaultParams()
	for _, o := range opts {
		o(&params)
	}

	f, err := os.OpenFile(path, params.Flags, params.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	info, err := readInfo(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	db := &DB{
		f:      f,
		info:   info,
		params: params,
		Log:    params.Log,
	}
	if !params.WriteBufDynalloc && params.WriteBufLimit > 0 {
		db.writeBuf = make([]byte, params.WriteBufLimit)
	}

	db.debugf("tkvdb: open %s size=%d root=%d id=%d",
		path, info.filesize, info.footer.rootOff, info.footer.transactionID)

	return db, nil
}

// Close releases the file handle.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	if err := db.f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

// Sync flushes the file to stable storage.
func (db *DB) Sync() error {
	if err := db.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// DBInfo reports the live root offset and the reclaimable gap bounds.
type DBInfo struct {
	RootOff  uint64
	GapBegin uint64
	GapEnd   uint64
}

// Info re-reads the tail footer and reports its placement fields.
func (db *DB) Info() (DBInfo, error) {
	info, err := readInfo(db.f)
	if err != nil {
		return DBInfo{}, err
	}
	return DBInfo{
		RootOff:  info.footer.rootOff,
		GapBegin: info.footer.gapBegin,
		GapEnd:   info.footer.gapEnd,
	}, nil
}

// readInfo discovers the live root: stat the file, read the last
// footerBytes as a footer candidate and validate it. An empty file is an
// empty database; a non-empty file too small for a footer is corrupted.
func readInfo(f *os.File) (dbInfo, error) {
	var info dbInfo

	st, err := f.Stat()
	if err != nil {
		return info, fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	info.filesize = uint64(st.Size())

	if info.filesize == 0 {
		return info, nil
	}
	if info.filesize <= footerBytes {
		return info, fmt.Errorf("%w: %d bytes is too small for a footer", ErrCorrupted, info.filesize)
	}

	footerPos := info.filesize - footerBytes
	var b [footerBytes]byte
	if _, err := f.ReadAt(b[:], int64(footerPos)); err != nil {
		return info, fmt.Errorf("%w: reading footer: %v", ErrIO, err)
	}
	if err := info.footer.UnmarshalBinary(b[:]); err != nil {
		return info, err
	}
	if !info.footer.signatureOK() {
		return info, fmt.Errorf("%w: bad signature at file tail", ErrCorrupted)
	}
	if info.footer.transactionSize > footerPos {
		return info, fmt.Errorf("%w: footer names a transaction larger than the file", ErrCorrupted)
	}

	return info, nil
}

// readFooterAt reads and validates the footer at an absolute offset. Vacuum
// uses it to size the transaction it is reclaiming.
func readFooterAt(db *DB, off uint64) (footer, error) {
	var ftr footer
	var b [footerBytes]byte
	if _, err := db.f.ReadAt(b[:], int64(off)); err != nil {
		return ftr, fmt.Errorf("%w: reading footer at %d: %v", ErrIO, off, err)
	}
	if err := ftr.UnmarshalBinary(b[:]); err != nil {
		return ftr, err
	}
	if !ftr.signatureOK() {
		return ftr, fmt.Errorf("%w: bad signature in footer at %d", ErrCorrupted, off)
	}
	return ftr, nil
}

// readBlockType reads the one-byte type tag of the block at an absolute
// offset.
func readBlockType(db *DB, off uint64) (byte, error) {
	var b [1]byte
	if _, err := db.f.ReadAt(b[:], int64(off)); err != nil {
		return 0, fmt.Errorf("%w: reading block type at %d: %v", ErrIO, off, err)
	}
	return b[0], nil
}

// readTrHeaderAt reads the transaction header at an absolute offset.
func readTrHeaderAt(db *DB, off uint64) (trHeader, error) {
	var hdr trHeader
	var b [trHeaderBytes]byte
	if _, err := db.f.ReadAt(b[:], int64(off)); err != nil {
		return hdr, fmt.Errorf("%w: reading transaction header at %d: %v", ErrIO, off, err)
	}
	if err := hdr.UnmarshalBinary(b[:]); err != nil {
		return hdr, err
	}
	if hdr.typ != blockTypeTransaction {
		return hdr, fmt.Errorf("%w: block at %d is not a transaction", ErrCorrupted, off)
	}
	return hdr, nil
}

// ensureWriteBuf makes the write buffer at least size bytes long, growing
// it only when the parameters allow.
func (db *DB) ensureWriteBuf(size int) error {
	if db.params.WriteBufLimit > 0 && size > db.params.WriteBufLimit {
		return ErrNoMem
	}
	if size <= len(db.writeBuf) {
		return nil
	}
	if size <= cap(db.writeBuf) {
		db.writeBuf = db.writeBuf[:size]
		return nil
	}
	if !db.params.WriteBufDynalloc {
		return ErrNoMem
	}
	grown := make([]byte, size)
	copy(grown, db.writeBuf)
	db.writeBuf = grown
	return nil
}

// writeAt writes b fully at off; anything short is an I/O error.
func (db *DB) writeAt(b []byte, off int64) error {
	n, err := db.f.WriteAt(b, off)
	if err != nil {
		return fmt.Errorf("%w: write at %d: %v", ErrIO, off, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: short write at %d: %d of %d", ErrIO, off, n, len(b))
	}
	return nil
}

func (db *DB) debugf(format string, args ...any) {
	if db.Log != nil {
		db.Log.Debugf(format, args...)
	}
}
