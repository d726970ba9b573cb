package tkvdb

import "errors"

// Vacuum rewrites the subset of the oldest unreclaimed transaction that is
// still referenced from the live root, and extends the reclaimable gap over
// the old region so a later commit can reuse it.
//
// tr is the live transaction (it must be started), vac and tres are empty
// transactions on the same database used as the vacuum view and the rewrite
// target, and c is a scratch cursor. All three transactions and the cursor
// are consumed by the call.
func Vacuum(tr, vac, tres *Tr, c *Cursor) error {
	db := tr.db
	if db == nil {
		return nil
	}
	if !tr.started {
		return ErrNotStarted
	}

	info, err := readInfo(db.f)
	if err != nil {
		return err
	}
	if info.filesize == 0 {
		return nil
	}

	// The region to reclaim is the first transaction block after the
	// current gap; its own footer names its size. Footers of previously
	// reclaimed transactions survive as fixed-size islands and are
	// folded into the gap as they are encountered.
	begin := info.footer.gapEnd
	for {
		if begin+trHeaderBytes > info.filesize {
			return ErrCorrupted
		}
		typ, terr := readBlockType(db, begin)
		if terr != nil {
			return terr
		}
		if typ == blockTypeFooter || typ == blockTypeRemovedFooter {
			begin += footerBytes
			continue
		}
		break
	}
	oldHdr, err := readTrHeaderAt(db, begin)
	if err != nil {
		return err
	}
	oldFtr, err := readFooterAt(db, oldHdr.footerOff)
	if err != nil {
		return err
	}
	end := begin + oldFtr.transactionSize

	// Work from a freshly read live root so the reachability probes see
	// committed state only.
	root, err := readNode(tr, db.info.footer.rootOff)
	if err != nil {
		return err
	}
	tr.root = root

	vacRoot, err := readNode(vac, begin+trHeaderBytes)
	if err != nil {
		return err
	}
	vac.root = vacRoot

	c.tr = vac
	c.reset()

	if err := tres.Begin(); err != nil {
		return err
	}

	copied := 0
	err = vacSmallest(c, vac.root, begin, end)
	for err == nil {
		live, gerr := vacProbe(tr, c.Key(), begin, end)
		if gerr != nil && !errors.Is(gerr, ErrNotFound) {
			return gerr
		}
		if live {
			if perr := tres.Put(c.Key(), c.Val()); perr != nil {
				return perr
			}
			copied++
		}
		err = vacNext(c, begin, end)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	if tres.root == nil {
		// Nothing live references the old region, but the gap bounds
		// still have to move: rewrite just the root.
		tresRoot, rerr := readNode(tres, tres.db.info.footer.rootOff)
		if rerr != nil {
			return rerr
		}
		tres.root = tresRoot
	}

	newGapEnd := end
	if err := tres.commit(&newGapEnd); err != nil {
		return err
	}

	db.debugf("tkvdb: vacuum reclaimed [%d,%d) keys=%d", begin, end, copied)
	return nil
}

// vacChild returns the child of n at off only when its disk offset lies
// inside the vacuumed region (begin, end], faulting it in when needed.
func vacChild(tr *Tr, n *node, off int, begin, end uint64) (*node, error) {
	foff := n.fnext[off]
	if foff <= begin || foff > end {
		return nil, nil
	}
	if n.next[off] != nil {
		return n.next[off], nil
	}
	next, err := readNode(tr, foff)
	if err != nil {
		return nil, err
	}
	n.next[off] = next
	return next, nil
}

// vacSmallest descends to the smallest key of the vacuumed transaction,
// following only children stored inside the region.
func vacSmallest(c *Cursor, n *node, begin, end uint64) error {
	for {
		if n.prefixSize > 0 {
			c.prefix = append(c.prefix, n.prefix()...)
		}
		if n.typ&nodeVal != 0 {
			c.push(n, -1)
			return nil
		}

		var next *node
		off := 0
		for ; off < 256; off++ {
			var err error
			next, err = vacChild(c.tr, n, off, begin, end)
			if err != nil {
				return err
			}
			if next != nil {
				break
			}
		}
		if next == nil {
			return ErrCorrupted
		}

		c.prefix = append(c.prefix, byte(off))
		c.push(n, off)
		n = next
	}
}

// vacNext advances the vacuum traversal to the next in-region key.
func vacNext(c *Cursor, begin, end uint64) error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.off++
		if top.off > 255 {
			if err := c.pop(); err != nil {
				return err
			}
			continue
		}

		var next *node
		for ; top.off < 256; top.off++ {
			var err error
			next, err = vacChild(c.tr, top.n, top.off, begin, end)
			if err != nil {
				return err
			}
			if next != nil {
				break
			}
		}
		if next != nil {
			c.prefix = append(c.prefix, byte(top.off))
			return vacSmallest(c, next, begin, end)
		}

		if err := c.pop(); err != nil {
			return err
		}
	}
	return ErrNotFound
}

// vacProbe walks the live transaction to key and reports whether any node
// on the path, resident or not, is stored inside [begin, end]. A key whose
// live path touches the region must be rewritten before the region is
// reclaimed.
func vacProbe(tr *Tr, key []byte, begin, end uint64) (bool, error) {
	if !tr.started {
		return false, ErrNotStarted
	}
	if err := tr.loadRoot(); err != nil {
		return false, err
	}

	inRegion := false
	rootOff := tr.db.info.footer.rootOff
	if rootOff >= begin && rootOff <= end {
		inRegion = true
	}

	n := tr.root
	ki := 0
	for {
		n = n.live()
		pi := 0

	nextByte:
		if ki >= len(key) {
			if pi == n.prefixSize && n.typ&nodeVal != 0 {
				return inRegion, nil
			}
			return false, ErrNotFound
		}

		if pi >= n.prefixSize {
			sym := int(key[ki])
			if foff := n.fnext[sym]; foff >= begin && foff <= end {
				inRegion = true
			}
			next, err := tr.child(n, sym)
			if err != nil {
				return false, err
			}
			if next == nil {
				return false, ErrNotFound
			}
			n = next
			ki++
			continue
		}

		if n.pvm[pi] != key[ki] {
			return false, ErrNotFound
		}

		ki++
		pi++
		goto nextByte
	}
}
