package tkvdb

// Tr is a mutation unit over the trie. It owns a node arena and a root
// pointer, and may be bound to a database or used RAM-only. A transaction is
// created idle, started by Begin, and returned to idle (with an emptied
// arena) by Commit or Rollback; it may be reused any number of times.
//
// A transaction's view of the file is snapshotted at Begin. It is not
// isolated from other transactions committing on the same database: the
// first commit wins and later commits fail with ErrModified.
type Tr struct {
	db      *DB
	root    *node
	started bool
	arena   arena
}

// NewTransaction creates a transaction inheriting the database's arena
// parameters, or an unbounded dynamic arena when db is nil.
func NewTransaction(db *DB) *Tr {
	if db == nil {
		return NewTransactionWithBuffer(nil, 0, true)
	}
	return NewTransactionWithBuffer(db, db.params.TrBufLimit, db.params.TrBufDynalloc)
}

// NewTransactionWithBuffer creates a transaction with explicit arena
// parameters. dynalloc false reserves a fixed slab of limit bytes up front;
// a zero limit is unbounded in dynamic mode, but in fixed mode it leaves no
// slab, so every non-empty node buffer fails with ErrNoMem.
func NewTransactionWithBuffer(db *DB, limit int, dynalloc bool) *Tr {
	return &Tr{
		db:    db,
		arena: newArena(limit, dynalloc),
	}
}

// Begin starts the transaction. For a database-backed transaction the file
// footer is re-read so the transaction observes the latest committed root
// and expects the next transaction id. Beginning a started transaction is a
// no-op.
func (tr *Tr) Begin() error {
	if tr.started {
		return nil
	}
	if tr.db == nil {
		tr.started = true
		return nil
	}

	info, err := readInfo(tr.db.f)
	if err != nil {
		return err
	}
	if info.filesize > 0 {
		// The footer kept on the handle holds the id this
		// transaction expects to commit as.
		info.footer.transactionID++
	}
	tr.db.info = info

	tr.started = true
	return nil
}

// Rollback discards the transaction's mutations and returns it to idle.
func (tr *Tr) Rollback() error {
	tr.reset()
	return nil
}

// Commit writes the transaction's reachable nodes as one transaction block
// followed by a footer, then resets the transaction. The transaction is
// consumed whether the commit succeeds or fails once serialization begins.
func (tr *Tr) Commit() error {
	return tr.commit(nil)
}

func (tr *Tr) reset() {
	if tr.arena.dynalloc {
		release(tr.root)
	}
	tr.root = nil
	tr.arena.reset()
	tr.started = false
}

// loadRoot faults in the on-disk root for a freshly begun transaction whose
// database is non-empty. It reports ErrEmpty when there is no root at all.
func (tr *Tr) loadRoot() error {
	if tr.root != nil {
		return nil
	}
	if tr.db == nil || tr.db.info.filesize == 0 {
		return ErrEmpty
	}
	root, err := readNode(tr, tr.db.info.footer.rootOff)
	if err != nil {
		return err
	}
	tr.root = root
	return nil
}

// child returns the resident child of n at index sym, faulting it in from
// disk when only the disk offset is present. It returns nil when the slot is
// empty.
func (tr *Tr) child(n *node, sym int) (*node, error) {
	if n.next[sym] != nil {
		return n.next[sym], nil
	}
	if tr.db != nil && n.fnext[sym] != 0 {
		tmp, err := readNode(tr, n.fnext[sym])
		if err != nil {
			return nil, err
		}
		n.next[sym] = tmp
		return tmp, nil
	}
	return nil, nil
}

// Put inserts or overwrites a key. Modified nodes are never mutated in
// place (except a same-length value overwrite); each terminal case builds a
// replacement node and forwards the old one to it.
func (tr *Tr) Put(key, val []byte) error {
	if !tr.started {
		return ErrNotStarted
	}

	if tr.root == nil {
		if tr.db != nil && tr.db.info.filesize > 0 {
			root, err := readNode(tr, tr.db.info.footer.rootOff)
			if err != nil {
				return err
			}
			tr.root = root
		} else {
			root, err := newNode(tr, nodeVal, key, val)
			if err != nil {
				return err
			}
			tr.root = root
			return nil
		}
	}

	n := tr.root
	ki := 0
	for {
		n = n.live()
		pi := 0

	nextByte:
		if ki >= len(key) {
			// End of key: either the key is a strict prefix of
			// the edge label, or it matches exactly.
			if pi == n.prefixSize {
				if n.valSize == len(val) && len(val) != 0 {
					// Same value size: overwrite in place.
					copy(n.pvm[n.prefixSize:n.prefixSize+n.valSize], val)
					return nil
				}

				newRoot, err := newNode(tr, nodeVal, n.prefix()[:pi], val)
				if err != nil {
					return err
				}
				cloneSubnodes(newRoot, n)
				forward(n, newRoot)
				return nil
			}

			// Split: the consumed part of the prefix becomes a
			// new valued node; the tail keeps the old value and
			// children.
			newRoot, err := newNode(tr, nodeVal, n.prefix()[:pi], val)
			if err != nil {
				return err
			}
			rest, err := newNode(tr, n.typ, n.prefix()[pi+1:], n.val())
			if err != nil {
				return err
			}
			cloneSubnodes(rest, n)
			newRoot.next[n.pvm[pi]] = rest
			forward(n, newRoot)
			return nil
		}

		if pi >= n.prefixSize {
			// End of prefix: descend, or attach a fresh leaf.
			sym := key[ki]
			next, err := tr.child(n, int(sym))
			if err != nil {
				return err
			}
			if next != nil {
				n = next
				ki++
				continue
			}

			leaf, err := newNode(tr, nodeVal, key[ki+1:], val)
			if err != nil {
				return err
			}
			// Only a child slot is populated, so no forwarding.
			n.next[sym] = leaf
			return nil
		}

		if n.pvm[pi] != key[ki] {
			// Prefix diverges: three-way split around the common
			// part.
			newRoot, err := newNode(tr, 0, n.prefix()[:pi], nil)
			if err != nil {
				return err
			}
			rest, err := newNode(tr, n.typ, n.prefix()[pi+1:], n.val())
			if err != nil {
				return err
			}
			cloneSubnodes(rest, n)
			restKey, err := newNode(tr, nodeVal, key[ki+1:], val)
			if err != nil {
				return err
			}
			newRoot.next[n.pvm[pi]] = rest
			newRoot.next[key[ki]] = restKey
			forward(n, newRoot)
			return nil
		}

		ki++
		pi++
		goto nextByte
	}
}

// Get returns a borrowed view of the value stored for key. The bytes stay
// valid until the next mutation on the transaction.
func (tr *Tr) Get(key []byte) ([]byte, error) {
	if !tr.started {
		return nil, ErrNotStarted
	}
	if err := tr.loadRoot(); err != nil {
		return nil, err
	}

	n := tr.root
	ki := 0
	for {
		n = n.live()
		pi := 0

	nextByte:
		if ki >= len(key) {
			if pi == n.prefixSize && n.typ&nodeVal != 0 {
				return n.val(), nil
			}
			return nil, ErrNotFound
		}

		if pi >= n.prefixSize {
			next, err := tr.child(n, int(key[ki]))
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, ErrNotFound
			}
			n = next
			ki++
			continue
		}

		if n.pvm[pi] != key[ki] {
			return nil, ErrNotFound
		}

		ki++
		pi++
		goto nextByte
	}
}

// Del removes a key. With prefix set, the whole subtree below key is
// detached regardless of whether key itself holds a value.
func (tr *Tr) Del(key []byte, prefix bool) error {
	if !tr.started {
		return ErrNotStarted
	}
	if err := tr.loadRoot(); err != nil {
		return err
	}

	n := tr.root
	var prev *node
	prevOff := 0
	ki := 0
	for {
		n = n.live()
		pi := 0

	nextByte:
		if ki >= len(key) && pi == n.prefixSize {
			return tr.doDel(n, prev, prevOff, prefix)
		}

		if pi >= n.prefixSize {
			sym := int(key[ki])
			next, err := tr.child(n, sym)
			if err != nil {
				return err
			}
			if next == nil {
				return ErrNotFound
			}
			prev = n
			prevOff = sym
			n = next
			ki++
			continue
		}

		if ki >= len(key) || n.pvm[pi] != key[ki] {
			return ErrNotFound
		}

		ki++
		pi++
		goto nextByte
	}
}

func (n *node) countSubnodes() (count, lastSym int) {
	lastSym = -1
	for i := 0; i < 256; i++ {
		if n.next[i] != nil || n.fnext[i] != 0 {
			count++
			lastSym = i
		}
	}
	return count, lastSym
}

func (tr *Tr) doDel(n, prev *node, prevOff int, delPfx bool) error {
	if prev == nil {
		// Matched at the root. Deleting the prefix drops the whole
		// tree; an exact delete must keep any longer keys below.
		if delPfx {
			release(tr.root)
			root, err := newNode(tr, 0, nil, nil)
			if err != nil {
				return err
			}
			tr.root = root
			return nil
		}
		if n.typ&nodeVal == 0 {
			return ErrNotFound
		}
		nsub, _ := n.countSubnodes()
		if nsub == 0 {
			release(tr.root)
			root, err := newNode(tr, 0, nil, nil)
			if err != nil {
				return err
			}
			tr.root = root
			return nil
		}
		n.typ &^= nodeVal
		copy(n.pvm[n.prefixSize:], n.meta())
		n.valSize = 0
		return tr.concatSingleton(n)
	}

	if delPfx {
		prev.next[prevOff] = nil
		prev.fnext[prevOff] = 0
		release(n)
		return tr.concatSingleton(prev)
	}

	if n.typ&nodeVal == 0 {
		return ErrNotFound
	}

	nsub, _ := n.countSubnodes()
	if nsub == 0 {
		prev.next[prevOff] = nil
		prev.fnext[prevOff] = 0
		release(n)
		return tr.concatSingleton(prev)
	}

	// The node still branches, so it stays as an internal node without
	// the value bit.
	n.typ &^= nodeVal
	copy(n.pvm[n.prefixSize:], n.meta())
	n.valSize = 0
	return tr.concatSingleton(n)
}

// concatSingleton restores the radix invariant after a delete: a valueless
// node left with exactly one child is concatenated with it (prefix, index
// byte, child prefix) and forwarded to the merged node.
func (tr *Tr) concatSingleton(n *node) error {
	n = n.live()
	if n.typ&(nodeVal|nodeMeta) != 0 {
		return nil
	}
	nsub, sym := n.countSubnodes()
	if nsub != 1 {
		return nil
	}

	child, err := tr.child(n, sym)
	if err != nil {
		return err
	}
	if child == nil {
		return ErrCorrupted
	}
	child = child.live()

	pvm, err := tr.arena.allocBytes(n.prefixSize + 1 + len(child.pvm))
	if err != nil {
		return err
	}
	merged := &node{
		typ:        child.typ,
		prefixSize: n.prefixSize + 1 + child.prefixSize,
		valSize:    child.valSize,
		metaSize:   child.metaSize,
		pvm:        pvm,
	}
	copy(merged.pvm, n.prefix())
	merged.pvm[n.prefixSize] = byte(sym)
	copy(merged.pvm[n.prefixSize+1:], child.pvm)
	cloneSubnodes(merged, child)

	forward(n, merged)
	return nil
}
