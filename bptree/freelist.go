package bptree

import (
	"encoding/binary"
	"fmt"
)

// readBlock reads the raw bytes at a node address into a node.
func (t *Tree) readBlock(address int64) (*node, error) {
	buf := make([]byte, nodeRecordSize(t.order))
	if _, err := t.file.ReadAt(buf, address); err != nil {
		return nil, fmt.Errorf("bptree: reading block %d: %w", address, err)
	}
	return decodeNode(buf, t.order, address), nil
}

// writeBlock persists a node at its address.
func (t *Tree) writeBlock(n *node) error {
	buf := n.encode(t.order)
	if _, err := t.file.WriteAt(buf, n.address); err != nil {
		return fmt.Errorf("bptree: writing block %d: %w", n.address, err)
	}
	return nil
}

// acquireBlock pops the free-list head if one exists, otherwise appends
// a fresh block at the current end of file. The header's free-list
// pointer is updated to reflect the pop before returning.
func (t *Tree) acquireBlock() (int64, error) {
	if t.freeHead == None {
		info, err := t.file.Stat()
		if err != nil {
			return None, fmt.Errorf("bptree: stat: %w", err)
		}
		size := info.Size()
		if size < headerSize {
			size = headerSize
		}
		return size, nil
	}

	address := t.freeHead
	next, err := t.readForwardPointer(address)
	if err != nil {
		return None, err
	}
	t.freeHead = next
	if err := t.writeHeader(); err != nil {
		return None, err
	}
	return address, nil
}

// releaseBlock links a reclaimed block into the free list. The block's
// leading 8 bytes are overwritten with the former free-list head, and
// the block becomes the new head.
func (t *Tree) releaseBlock(address int64) error {
	if err := t.writeForwardPointer(address, t.freeHead); err != nil {
		return err
	}
	t.freeHead = address
	return t.writeHeader()
}

func (t *Tree) readForwardPointer(address int64) (int64, error) {
	buf := make([]byte, 8)
	if _, err := t.file.ReadAt(buf, address); err != nil {
		return None, fmt.Errorf("bptree: reading free-list pointer at %d: %w", address, err)
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

func (t *Tree) writeForwardPointer(address int64, forward int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(forward))
	if _, err := t.file.WriteAt(buf, address); err != nil {
		return fmt.Errorf("bptree: writing free-list pointer at %d: %w", address, err)
	}
	return nil
}
