// Package bptree implements a disk-backed B+Tree index: fixed-order
// nodes serialized to fixed-size blocks, a free list that recycles
// reclaimed blocks, and search/insert/delete over a single backing file.
package bptree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// None is the sentinel address denoting the absence of a node, a
// sibling, or a free-list entry. Block zero is reserved for the header,
// so no live node is ever allocated at address zero.
const None int64 = 0

const (
	headerRootOffset      = 0
	headerFreeHeadOffset  = 8
	headerBlockSizeOffset = 16
	headerSize            = 20
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("bptree: tree is closed")

// ErrDescendEmptyTree is a precondition violation: callers must check
// for an empty tree (root == None) before walking a search path.
var ErrDescendEmptyTree = errors.New("bptree: cannot descend an empty tree")

// Tree is a disk-backed B+Tree index over 32-bit signed keys and 64-bit
// signed addresses. A Tree owns its backing file exclusively from
// construction (Create or Open) to Close; concurrent use of the same
// file from multiple instances is unsupported.
type Tree struct {
	file      *os.File
	closed    bool
	root      int64
	freeHead  int64
	blockSize int32
	order     int
}

// Order derives the branching factor, the maximum number of children a
// branch node may hold, from a block size as block_size / 12. One count
// field, order-1 keys, and order child/address slots (12*order - 4
// bytes) then always fit within block_size bytes.
func Order(blockSize int32) int {
	return int(blockSize / 12)
}

// Create deletes any existing file at path, opens it fresh, and writes
// the header for a new, empty tree.
func Create(path string, blockSize int32) (*Tree, error) {
	if Order(blockSize) < 3 {
		return nil, fmt.Errorf("bptree: block size %d yields order %d, need at least 3", blockSize, Order(blockSize))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("bptree: removing existing file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("bptree: creating file: %w", err)
	}

	t := &Tree{
		file:      f,
		root:      None,
		freeHead:  None,
		blockSize: blockSize,
		order:     Order(blockSize),
	}
	if err := t.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Open opens an existing tree file and reads its header.
func Open(path string) (*Tree, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("bptree: opening file: %w", err)
	}

	t := &Tree{file: f}
	if err := t.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	t.order = Order(t.blockSize)
	return t, nil
}

func (t *Tree) readHeader() error {
	buf := make([]byte, headerSize)
	if _, err := t.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("bptree: reading header: %w", err)
	}
	t.root = int64(binary.BigEndian.Uint64(buf[headerRootOffset:]))
	t.freeHead = int64(binary.BigEndian.Uint64(buf[headerFreeHeadOffset:]))
	t.blockSize = int32(binary.BigEndian.Uint32(buf[headerBlockSizeOffset:]))
	return nil
}

func (t *Tree) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint64(buf[headerRootOffset:], uint64(t.root))
	binary.BigEndian.PutUint64(buf[headerFreeHeadOffset:], uint64(t.freeHead))
	binary.BigEndian.PutUint32(buf[headerBlockSizeOffset:], uint32(t.blockSize))
	if _, err := t.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("bptree: writing header: %w", err)
	}
	return nil
}

// Close releases the file handle. Further operations on t are errors.
func (t *Tree) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return t.file.Close()
}

func (t *Tree) checkOpen() error {
	if t.closed {
		return ErrClosed
	}
	return nil
}
