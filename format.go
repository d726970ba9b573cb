package tkvdb

// The database file is a sequence of (transaction-block, footer) pairs, plus
// regions a vacuum has marked reclaimable. All multi-byte integers are
// little-endian. The live root is discovered by reading the last footerBytes
// of the file and checking the signature.

import (
	"encoding/binary"
	"fmt"
)

// Signature identifies a valid transaction footer. A reader finding anything
// else at the file tail must treat the file as corrupted.
const Signature = "tkvdb003"

// Block type tags. Every on-disk block begins with one of these. A removed
// footer marks a footer inside a reclaimed region.
const (
	blockTypeTransaction   = 0
	blockTypeFooter        = 1
	blockTypeRemovedFooter = 2
)

// subnodesThreshold is the largest child count stored compactly as a
// (symbol[], offset[]) pair. Above it, children are written as a flat array
// of 256 offsets. The value is part of the wire format and must match
// between writer and reader.
const subnodesThreshold = 256 - 256/8

// readBlockSize is the granularity of disk node reads. A node larger than one
// block is read a second time, whole, at its declared size.
const readBlockSize = 4096

// stackMaxDepth is the initial capacity of the descent stacks of the cursor,
// the serializer and subtree release. All of them grow on demand, so it does
// not bound the key length.
const stackMaxDepth = 128

const (
	// Transaction header layout.
	//
	// .     | type | footer_off |
	// bytes |  1   |     8      |
	trHeaderTypeFirstByte      = 0
	trHeaderFooterOffFirstByte = 1
	trHeaderBytes              = 9

	// Footer layout.
	//
	// .     | type | signature | root_off | transaction_size | transaction_id | gap_begin | gap_end |
	// bytes |  1   |     8     |    8     |        8         |       8        |     8     |    8    |
	footerTypeFirstByte            = 0
	footerSignatureFirstByte       = 1
	footerSignatureEnd             = footerSignatureFirstByte + 8
	footerRootOffFirstByte         = footerSignatureEnd
	footerTransactionSizeFirstByte = footerRootOffFirstByte + 8
	footerTransactionIDFirstByte   = footerTransactionSizeFirstByte + 8
	footerGapBeginFirstByte        = footerTransactionIDFirstByte + 8
	footerGapEndFirstByte          = footerGapBeginFirstByte + 8
	footerBytes                    = footerGapEndFirstByte + 8

	// Disk node header layout. data follows the header: val_size(4) if the
	// node has a value, meta_size(4) if it has metadata, the children in
	// compact or dense encoding, then prefix, value and metadata bytes.
	//
	// .     | size | type | nsubnodes | prefix_size |
	// bytes |  4   |  1   |     2     |      4      |
	diskNodeSizeFirstByte       = 0
	diskNodeTypeFirstByte       = 4
	diskNodeNSubnodesFirstByte  = 5
	diskNodePrefixSizeFirstByte = 7
	diskNodeHeaderBytes         = 11
)

// trHeader is the fixed header written at the start of every transaction
// block. footerOff is the absolute offset of the footer that seals the
// transaction.
type trHeader struct {
	typ       uint8
	footerOff uint64
}

func (h *trHeader) marshalInto(b []byte) {
	b[trHeaderTypeFirstByte] = h.typ
	binary.LittleEndian.PutUint64(b[trHeaderFooterOffFirstByte:], h.footerOff)
}

func (h *trHeader) UnmarshalBinary(b []byte) error {
	if len(b) < trHeaderBytes {
		return fmt.Errorf("%w: transaction header needs %d bytes, got %d", ErrCorrupted, trHeaderBytes, len(b))
	}
	h.typ = b[trHeaderTypeFirstByte]
	h.footerOff = binary.LittleEndian.Uint64(b[trHeaderFooterOffFirstByte:])
	return nil
}

// footer is the fixed-size trailer sealing every committed transaction. The
// footer at the file tail names the live root. gapBegin/gapEnd describe the
// half-open reclaimable interval produced by vacuum.
type footer struct {
	typ             uint8
	signature       [8]byte
	rootOff         uint64
	transactionSize uint64
	transactionID   uint64
	gapBegin        uint64
	gapEnd          uint64
}

func (f *footer) MarshalBinary() ([]byte, error) {
	b := make([]byte, footerBytes)
	f.marshalInto(b)
	return b, nil
}

func (f *footer) marshalInto(b []byte) {
	b[footerTypeFirstByte] = f.typ
	copy(b[footerSignatureFirstByte:footerSignatureEnd], f.signature[:])
	binary.LittleEndian.PutUint64(b[footerRootOffFirstByte:], f.rootOff)
	binary.LittleEndian.PutUint64(b[footerTransactionSizeFirstByte:], f.transactionSize)
	binary.LittleEndian.PutUint64(b[footerTransactionIDFirstByte:], f.transactionID)
	binary.LittleEndian.PutUint64(b[footerGapBeginFirstByte:], f.gapBegin)
	binary.LittleEndian.PutUint64(b[footerGapEndFirstByte:], f.gapEnd)
}

func (f *footer) UnmarshalBinary(b []byte) error {
	if len(b) < footerBytes {
		return fmt.Errorf("%w: footer needs %d bytes, got %d", ErrCorrupted, footerBytes, len(b))
	}
	f.typ = b[footerTypeFirstByte]
	copy(f.signature[:], b[footerSignatureFirstByte:footerSignatureEnd])
	f.rootOff = binary.LittleEndian.Uint64(b[footerRootOffFirstByte:])
	f.transactionSize = binary.LittleEndian.Uint64(b[footerTransactionSizeFirstByte:])
	f.transactionID = binary.LittleEndian.Uint64(b[footerTransactionIDFirstByte:])
	f.gapBegin = binary.LittleEndian.Uint64(b[footerGapBeginFirstByte:])
	f.gapEnd = binary.LittleEndian.Uint64(b[footerGapEndFirstByte:])
	return nil
}

func (f *footer) signatureOK() bool {
	return string(f.signature[:]) == Signature
}

func (f *footer) setSignature() {
	copy(f.signature[:], Signature)
}
