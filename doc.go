package tkvdb

/*

# tkvdb: an embedded, ordered key-value store

This package implements an ordered key-value store built around an in-memory
radix (Patricia) trie backed by an append-only, copy-on-write log of trie
subgraphs. Keys and values are arbitrary byte strings; keys order by
unsigned byte comparison.

## Core invariants

1. A committed transaction is one new root pointing at a mix of freshly
   written nodes and unmodified nodes reused from older transactions.
2. Modified nodes are never changed in place (the single exception is a
   same-length value overwrite); the old node is forwarded to its
   replacement and every traversal follows the chain before reading fields.
3. A child slot holds either a resident node or a disk offset or nothing;
   resident overrides disk.
4. A transaction is durable exactly when its footer, carrying the signature,
   has been fully written. Readers discover the live root from the last
   footerBytes of the file only: a file cut back to the end of an earlier
   commit opens at that commit, while a file whose tail is not a valid
   footer (as after a torn trailing write) is reported as corrupted.

## Layout (high level)

The file is a sequence of (transaction-block, footer) pairs plus regions a
vacuum has marked reclaimable:

	| tr header | node | node | ... | footer | tr header | ... | footer |

Disk nodes inline their edge prefix, value and metadata after a fixed
header; children are encoded compactly as (symbol[], offset[]) up to
subnodesThreshold populated slots, densely as 256 offsets above it. See
format.go for the exact byte layouts.

## Concurrency

The engine is single-threaded and the file is presumed single-writer.
Transactions on the same database snapshot their view at Begin; the first
commit wins and later commits fail with ErrModified.

*/
