package tkvdb

// Seek selects how Cursor.Seek treats a missing key.
type Seek int

const (
	// SeekEQ positions on the key exactly, or reports not found.
	SeekEQ Seek = iota
	// SeekLE positions on the largest key not greater than the target.
	SeekLE
	// SeekGE positions on the smallest key not less than the target.
	SeekGE
)

type cursorFrame struct {
	n *node
	// off is the child index last taken from n: -1 when the cursor is
	// positioned on n's own value.
	off int
}

// Cursor is an ordered iterator over a transaction's keys. It accumulates
// the current key in prefix along the descent, and keeps an explicit stack
// of (node, child-index) frames.
//
// Key and Val return views into the cursor's and the trie's own buffers;
// they are valid only until the next cursor move or transaction mutation.
type Cursor struct {
	tr     *Tr
	stack  []cursorFrame
	prefix []byte
	val    []byte
}

func NewCursor(tr *Tr) *Cursor {
	return &Cursor{
		tr:    tr,
		stack: make([]cursorFrame, 0, stackMaxDepth),
	}
}

// Free drops the cursor's buffers. The cursor must not be used afterwards.
func (c *Cursor) Free() {
	c.stack = nil
	c.prefix = nil
	c.val = nil
	c.tr = nil
}

func (c *Cursor) Key() []byte  { return c.prefix }
func (c *Cursor) KeySize() int { return len(c.prefix) }
func (c *Cursor) Val() []byte  { return c.val }
func (c *Cursor) ValSize() int { return len(c.val) }

func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.prefix = c.prefix[:0]
	c.val = nil
}

func (c *Cursor) push(n *node, off int) {
	c.stack = append(c.stack, cursorFrame{n, off})
	c.val = n.val()
}

// pop removes the top frame and erases its contribution to the key: the
// node's prefix plus the symbol that led to it. The bottom frame is never
// popped; exhausting it means the traversal is done.
func (c *Cursor) pop() error {
	if len(c.stack) <= 1 {
		return ErrNotFound
	}
	n := c.stack[len(c.stack)-1].n
	c.stack = c.stack[:len(c.stack)-1]
	c.prefix = c.prefix[:len(c.prefix)-(n.prefixSize+1)]
	return nil
}

// searchAsc finds the first populated child of n at an index >= from,
// faulting it in from disk when needed.
func (c *Cursor) searchAsc(n *node, from int) (int, *node, error) {
	for off := from; off < 256; off++ {
		next, err := c.tr.child(n, off)
		if err != nil {
			return 0, nil, err
		}
		if next != nil {
			return off, next, nil
		}
	}
	return 0, nil, nil
}

// searchDesc finds the last populated child of n at an index <= from.
func (c *Cursor) searchDesc(n *node, from int) (int, *node, error) {
	for off := from; off >= 0; off-- {
		next, err := c.tr.child(n, off)
		if err != nil {
			return 0, nil, err
		}
		if next != nil {
			return off, next, nil
		}
	}
	return 0, nil, nil
}

// smallest descends from n to the lexicographically smallest key beneath
// it. A key whose node carries a value collates before all of that node's
// children, so the descent stops at the first valued node.
func (c *Cursor) smallest(n *node) error {
	for {
		n = n.live()
		if n.prefixSize > 0 {
			c.prefix = append(c.prefix, n.prefix()...)
		}
		if n.typ&nodeVal != 0 {
			c.push(n, -1)
			return nil
		}
		off, next, err := c.searchAsc(n, 0)
		if err != nil {
			return err
		}
		if next == nil {
			if len(c.stack) == 0 {
				// A root emptied by Del holds no key.
				return ErrNotFound
			}
			// A valueless node below the root must branch.
			return ErrCorrupted
		}
		c.prefix = append(c.prefix, byte(off))
		c.push(n, off)
		n = next
	}
}

// biggest descends from n to the largest key beneath it: the deepest
// rightmost valued node, preferring children over a value at the same node.
func (c *Cursor) biggest(n *node) error {
	for {
		n = n.live()
		if n.prefixSize > 0 {
			c.prefix = append(c.prefix, n.prefix()...)
		}
		off, next, err := c.searchDesc(n, 255)
		if err != nil {
			return err
		}
		if next == nil {
			if n.typ&nodeVal != 0 {
				c.push(n, -1)
				return nil
			}
			if len(c.stack) == 0 {
				// A root emptied by Del holds no key.
				return ErrNotFound
			}
			return ErrCorrupted
		}
		c.prefix = append(c.prefix, byte(off))
		c.push(n, off)
		n = next
	}
}

// First positions the cursor on the smallest key.
func (c *Cursor) First() error {
	c.reset()
	if err := c.tr.loadRoot(); err != nil {
		return err
	}
	return c.smallest(c.tr.root)
}

// Last positions the cursor on the largest key.
func (c *Cursor) Last() error {
	c.reset()
	if err := c.tr.loadRoot(); err != nil {
		return err
	}
	return c.biggest(c.tr.root)
}

// Next advances to the next key in ascending order: resume the child scan
// one past the last visited index, descending to the smallest leaf of the
// first subtree found, popping frames as they exhaust.
func (c *Cursor) Next() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.off++
		if top.off > 255 {
			if err := c.pop(); err != nil {
				return err
			}
			continue
		}

		off, next, err := c.searchAsc(top.n, top.off)
		if err != nil {
			return err
		}
		if next != nil {
			top.off = off
			c.prefix = append(c.prefix, byte(off))
			return c.smallest(next)
		}

		if err := c.pop(); err != nil {
			return err
		}
	}
	return ErrNotFound
}

// Prev moves to the previous key in descending order. A node's own value
// comes before its children, so index -1 on a valued node is a stop.
func (c *Cursor) Prev() error {
	for {
		if len(c.stack) < 1 {
			return ErrNotFound
		}
		top := &c.stack[len(c.stack)-1]
		top.off--

		if top.off == -1 && top.n.typ&nodeVal != 0 {
			c.val = top.n.val()
			return nil
		}
		if top.off < 0 {
			if err := c.pop(); err != nil {
				return err
			}
			continue
		}

		off, next, err := c.searchDesc(top.n, top.off)
		if err != nil {
			return err
		}
		if next != nil {
			top.off = off
			c.prefix = append(c.prefix, byte(off))
			return c.biggest(next)
		}

		if top.n.typ&nodeVal != 0 {
			top.off = -1
			c.val = top.n.val()
			return nil
		}

		if err := c.pop(); err != nil {
			return err
		}
	}
}

// Seek positions the cursor at key, or at the nearest key in the direction
// the mode allows. On any divergence EQ resets and reports not found; LE
// and GE turn the divergence into the adjacent smaller or larger leaf.
func (c *Cursor) Seek(key []byte, mode Seek) error {
	if err := c.tr.loadRoot(); err != nil {
		return err
	}
	c.reset()

	n := c.tr.root
	ki := 0
	for {
		n = n.live()
		pi := 0

	nextByte:
		if ki >= len(key) {
			// Key exhausted. An exact landing needs the prefix
			// consumed too, and a value present.
			if pi == n.prefixSize && n.typ&nodeVal != 0 {
				c.prefix = append(c.prefix, n.prefix()...)
				c.push(n, -1)
				return nil
			}
			if mode == SeekEQ {
				c.reset()
				return ErrNotFound
			}
			// Everything beneath n extends the key, so it is all
			// greater.
			if err := c.smallest(n); err != nil {
				return err
			}
			if mode == SeekLE {
				return c.Prev()
			}
			return nil
		}

		if pi >= n.prefixSize {
			sym := int(key[ki])
			next, err := c.tr.child(n, sym)
			if err != nil {
				return err
			}
			if next != nil {
				c.prefix = append(c.prefix, n.prefix()...)
				c.prefix = append(c.prefix, byte(sym))
				c.push(n, sym)
				n = next
				ki++
				continue
			}

			if mode == SeekEQ {
				c.reset()
				return ErrNotFound
			}

			if mode == SeekLE {
				off, lesser, err := c.searchDesc(n, sym)
				if err != nil {
					return err
				}
				if lesser != nil {
					c.prefix = append(c.prefix, n.prefix()...)
					c.prefix = append(c.prefix, byte(off))
					c.push(n, off)
					return c.biggest(lesser)
				}
				if n.typ&nodeVal != 0 {
					// The value at this node is the exact
					// prefix key, the largest one <= key.
					c.prefix = append(c.prefix, n.prefix()...)
					c.push(n, -1)
					return nil
				}
				if err := c.smallest(n); err != nil {
					return err
				}
				return c.Prev()
			}

			off, greater, err := c.searchAsc(n, sym)
			if err != nil {
				return err
			}
			if greater != nil {
				c.prefix = append(c.prefix, n.prefix()...)
				c.prefix = append(c.prefix, byte(off))
				c.push(n, off)
				return c.smallest(greater)
			}
			if err := c.biggest(n); err != nil {
				return err
			}
			return c.Next()
		}

		if n.pvm[pi] != key[ki] {
			if mode == SeekEQ {
				c.reset()
				return ErrNotFound
			}
			if mode == SeekLE {
				if n.pvm[pi] < key[ki] {
					// The whole subtree sorts below the
					// key.
					return c.biggest(n)
				}
				c.prefix = append(c.prefix, n.prefix()...)
				c.push(n, -1)
				return c.Prev()
			}
			if n.pvm[pi] > key[ki] {
				return c.smallest(n)
			}
			c.prefix = append(c.prefix, n.prefix()...)
			c.push(n, 255)
			return c.Next()
		}

		ki++
		pi++
		goto nextByte
	}
}
