package tkvdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readNode parses the disk node at off into a fresh in-memory node
// allocated from the transaction arena.
func readNode(tr *Tr, off uint64) (*node, error) {
	if tr.db == nil {
		return nil, ErrEmpty
	}
	f := tr.db.f

	var blk [readBlockSize]byte
	nread, err := f.ReadAt(blk[:], int64(off))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading node at %d: %v", ErrIO, off, err)
	}
	if nread < diskNodeHeaderBytes {
		return nil, fmt.Errorf("%w: short node read at %d", ErrIO, off)
	}

	size := int(binary.LittleEndian.Uint32(blk[diskNodeSizeFirstByte:]))
	typ := int(blk[diskNodeTypeFirstByte])
	nsubnodes := int(binary.LittleEndian.Uint16(blk[diskNodeNSubnodesFirstByte:]))
	prefixSize := int(binary.LittleEndian.Uint32(blk[diskNodePrefixSizeFirstByte:]))

	if size < diskNodeHeaderBytes {
		return nil, fmt.Errorf("%w: node at %d declares size %d", ErrCorrupted, off, size)
	}

	buf := blk[:nread]
	if size > nread {
		// The node does not fit one read block; fetch it whole.
		buf = make([]byte, size)
		if _, err := f.ReadAt(buf, int64(off)); err != nil {
			return nil, fmt.Errorf("%w: reading node at %d: %v", ErrIO, off, err)
		}
	}

	// Walk the data section: optional value and metadata sizes, then the
	// children in compact or dense encoding.
	pvmSize := size - diskNodeHeaderBytes
	ptr := diskNodeHeaderBytes

	valSize, metaSize := 0, 0
	if typ&nodeVal != 0 {
		if ptr+4 > size {
			return nil, fmt.Errorf("%w: node at %d truncated before value size", ErrCorrupted, off)
		}
		valSize = int(binary.LittleEndian.Uint32(buf[ptr:]))
		ptr += 4
		pvmSize -= 4
	}
	if typ&nodeMeta != 0 {
		if ptr+4 > size {
			return nil, fmt.Errorf("%w: node at %d truncated before metadata size", ErrCorrupted, off)
		}
		metaSize = int(binary.LittleEndian.Uint32(buf[ptr:]))
		ptr += 4
		pvmSize -= 4
	}

	if nsubnodes > subnodesThreshold {
		pvmSize -= 256 * 8
	} else {
		pvmSize -= nsubnodes * (1 + 8)
	}
	if pvmSize != prefixSize+valSize+metaSize {
		return nil, fmt.Errorf("%w: node at %d: %d data bytes for sizes %d+%d+%d",
			ErrCorrupted, off, pvmSize, prefixSize, valSize, metaSize)
	}

	pvm, err := tr.arena.allocBytes(pvmSize)
	if err != nil {
		return nil, err
	}
	n := &node{
		typ:        typ,
		prefixSize: prefixSize,
		valSize:    valSize,
		metaSize:   metaSize,
		pvm:        pvm,
	}

	if nsubnodes > subnodesThreshold {
		if ptr+256*8 > size {
			return nil, fmt.Errorf("%w: node at %d truncated in dense children", ErrCorrupted, off)
		}
		for i := 0; i < 256; i++ {
			n.fnext[i] = binary.LittleEndian.Uint64(buf[ptr:])
			ptr += 8
		}
	} else {
		if ptr+nsubnodes*(1+8) > size {
			return nil, fmt.Errorf("%w: node at %d truncated in compact children", ErrCorrupted, off)
		}
		syms := buf[ptr : ptr+nsubnodes]
		offs := buf[ptr+nsubnodes:]
		for i := 0; i < nsubnodes; i++ {
			n.fnext[syms[i]] = binary.LittleEndian.Uint64(offs[i*8:])
		}
		ptr += nsubnodes * (1 + 8)
	}

	copy(n.pvm, buf[ptr:ptr+pvmSize])

	return n, nil
}

// calcDiskSize fills in nsubnodes and the structural on-disk size of n,
// including the compact/dense child encoding decision.
func calcDiskSize(n *node) {
	n.nsubnodes = 0
	for i := 0; i < 256; i++ {
		if n.next[i] != nil || n.fnext[i] != 0 {
			n.nsubnodes++
		}
	}

	size := uint64(diskNodeHeaderBytes)
	if n.typ&nodeVal != 0 {
		size += 4
	}
	if n.typ&nodeMeta != 0 {
		size += 4
	}
	if n.nsubnodes > subnodesThreshold {
		size += 256 * 8
	} else {
		size += uint64(n.nsubnodes) * (1 + 8)
	}
	size += uint64(n.prefixSize + n.valSize + n.metaSize)
	n.diskSize = size
}

// nodeToBuf emits n into the database write buffer at its planned offset
// relative to the transaction block.
func nodeToBuf(db *DB, n *node, transactionOff uint64) error {
	bufOff := int(n.diskOff - transactionOff)
	if err := db.ensureWriteBuf(bufOff + int(n.diskSize)); err != nil {
		return err
	}
	b := db.writeBuf[bufOff : bufOff+int(n.diskSize)]

	binary.LittleEndian.PutUint32(b[diskNodeSizeFirstByte:], uint32(n.diskSize))
	b[diskNodeTypeFirstByte] = byte(n.typ)
	binary.LittleEndian.PutUint16(b[diskNodeNSubnodesFirstByte:], uint16(n.nsubnodes))
	binary.LittleEndian.PutUint32(b[diskNodePrefixSizeFirstByte:], uint32(n.prefixSize))
	ptr := diskNodeHeaderBytes

	if n.typ&nodeVal != 0 {
		binary.LittleEndian.PutUint32(b[ptr:], uint32(n.valSize))
		ptr += 4
	}
	if n.typ&nodeMeta != 0 {
		binary.LittleEndian.PutUint32(b[ptr:], uint32(n.metaSize))
		ptr += 4
	}

	if n.nsubnodes > subnodesThreshold {
		for i := 0; i < 256; i++ {
			binary.LittleEndian.PutUint64(b[ptr:], n.fnext[i])
			ptr += 8
		}
	} else {
		syms := b[ptr : ptr+n.nsubnodes]
		offs := b[ptr+n.nsubnodes:]
		w := 0
		for i := 0; i < 256; i++ {
			if n.fnext[i] != 0 {
				syms[w] = byte(i)
				binary.LittleEndian.PutUint64(offs[w*8:], n.fnext[i])
				w++
			}
		}
		ptr += n.nsubnodes * (1 + 8)
	}

	copy(b[ptr:], n.pvm[:n.prefixSize+n.valSize+n.metaSize])
	return nil
}

// commit implements the commit protocol. gapEndOverride, when non-nil, is
// written into the new footer's gap_end; vacuum uses it to mark the region
// it reclaimed.
func (tr *Tr) commit(gapEndOverride *uint64) error {
	if !tr.started {
		return ErrNotStarted
	}
	if tr.db == nil {
		// RAM-only: nothing to persist.
		tr.reset()
		return nil
	}
	if tr.root == nil {
		// Empty transaction: equivalent to rollback.
		tr.reset()
		return nil
	}
	db := tr.db

	// Re-read the footer and refuse to commit over a file some other
	// writer has advanced.
	info, err := readInfo(db.f)
	if err != nil {
		return err
	}
	if info.filesize != db.info.filesize {
		return ErrModified
	}

	var transactionOff uint64
	appending := true
	if info.filesize > 0 {
		if info.footer.transactionID+1 != db.info.footer.transactionID {
			return ErrModified
		}
		if info.footer.gapEnd-info.footer.gapBegin > uint64(tr.arena.allocated) {
			// The vacuumed gap is big enough for this
			// transaction; fill it instead of appending.
			transactionOff = info.footer.gapBegin
			appending = false
		} else {
			transactionOff = info.filesize
		}
	} else {
		db.info.footer.setSignature()
		transactionOff = 0
	}

	// Past this point the transaction is consumed either way.
	defer tr.reset()

	nodeOff, err := tr.serialize(transactionOff)
	if err != nil {
		return err
	}

	db.info.footer.typ = blockTypeFooter
	db.info.footer.rootOff = transactionOff + trHeaderBytes
	db.info.footer.transactionSize = nodeOff - transactionOff
	if gapEndOverride != nil {
		db.info.footer.gapEnd = *gapEndOverride
	}

	hdr := trHeader{typ: blockTypeTransaction}
	if appending {
		hdr.footerOff = nodeOff
		wsize := int(db.info.footer.transactionSize) + footerBytes
		if err := db.ensureWriteBuf(wsize); err != nil {
			return err
		}
		hdr.marshalInto(db.writeBuf)
		db.info.footer.marshalInto(db.writeBuf[wsize-footerBytes:])
		if err := db.writeAt(db.writeBuf[:wsize], int64(transactionOff)); err != nil {
			return err
		}
	} else {
		wsize := int(db.info.footer.transactionSize)
		db.info.footer.gapBegin += uint64(wsize)
		hdr.footerOff = db.info.filesize
		hdr.marshalInto(db.writeBuf)
		if err := db.writeAt(db.writeBuf[:wsize], int64(transactionOff)); err != nil {
			return err
		}
		var fb [footerBytes]byte
		db.info.footer.marshalInto(fb[:])
		if err := db.writeAt(fb[:], int64(db.info.filesize)); err != nil {
			return err
		}
	}

	db.debugf("tkvdb: commit id=%d off=%d size=%d append=%v",
		db.info.footer.transactionID, transactionOff,
		db.info.footer.transactionSize, appending)

	return nil
}

// serialize lays out every reachable in-memory node depth-first from the
// root, assigning contiguous disk offsets, patching parent child-offset
// tables, and emitting each node into the write buffer. It returns the
// offset just past the last node.
func (tr *Tr) serialize(transactionOff uint64) (uint64, error) {
	type frame struct {
		n   *node
		off int
	}
	stack := make([]frame, 0, stackMaxDepth)

	nodeOff := transactionOff + trHeaderBytes
	var lastNodeSize uint64

	n := tr.root
	off := 0
	for {
		n = n.live()

		if n.diskSize == 0 {
			calcDiskSize(n)
			n.diskOff = nodeOff
			lastNodeSize = n.diskSize
		}

		var next *node
		for ; off < 256; off++ {
			if n.next[off] != nil {
				next = n.next[off]
				break
			}
		}

		if next != nil {
			next = next.live()
			nodeOff += lastNodeSize
			n.fnext[off] = nodeOff

			stack = append(stack, frame{n, off})
			n = next
			off = 0
			continue
		}

		// Children all placed; the child table is final, emit.
		if err := nodeToBuf(tr.db, n, transactionOff); err != nil {
			return 0, err
		}

		if len(stack) == 0 {
			break
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n = top.n
		off = top.off + 1
	}

	return nodeOff + lastNodeSize, nil
}
