package bptree

import "encoding/binary"

// node is the in-memory image of one tree node. A node is a leaf or a
// branch; the on-disk shape is identical for both (see nodeRecordSize),
// distinguished only by the sign of the persisted count.
//
// Leaf: keys[i] pairs with addrs[i], the row address for keys[i].
// sibling is the next leaf in ascending order, or None for the last leaf.
//
// Branch: keys has one fewer entry than addrs; addrs[i] is the subtree
// for keys in [keys[i-1], keys[i]), so keys[i-1] is the smallest key
// under addrs[i].
type node struct {
	address int64
	isLeaf  bool
	keys    []int32
	addrs   []int64 // leaf: len(keys) row addresses; branch: len(keys)+1 children
	sibling int64   // leaf only
}

// nodeRecordSize returns the number of bytes a node of the given order
// occupies: 4 (count) + (order-1)*4 (keys) + order*8 (child/address
// slots, including the leaf's trailing sibling slot).
func nodeRecordSize(order int) int {
	return 4 + (order-1)*4 + order*8
}

func newLeaf(order int) *node {
	return &node{
		isLeaf:  true,
		keys:    make([]int32, 0, order-1),
		addrs:   make([]int64, 0, order-1),
		sibling: None,
	}
}

func newBranch(order int) *node {
	return &node{
		isLeaf: false,
		keys:   make([]int32, 0, order-1),
		addrs:  make([]int64, 0, order),
	}
}

// encode serializes n into a buffer of exactly nodeRecordSize(order)
// bytes: one int32 count (negative for a leaf), order-1 int32 keys,
// order int64 child/address slots.
func (n *node) encode(order int) []byte {
	buf := make([]byte, nodeRecordSize(order))

	count := int32(len(n.keys))
	if n.isLeaf {
		count = -count
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(count))

	for i, k := range n.keys {
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], uint32(k))
	}

	childOff := 4 + (order-1)*4
	if n.isLeaf {
		for i, a := range n.addrs {
			binary.BigEndian.PutUint64(buf[childOff+i*8:], uint64(a))
		}
		siblingOff := childOff + (order-1)*8
		binary.BigEndian.PutUint64(buf[siblingOff:], uint64(n.sibling))
	} else {
		for i, a := range n.addrs {
			binary.BigEndian.PutUint64(buf[childOff+i*8:], uint64(a))
		}
	}
	return buf
}

// decodeNode parses a block of at least nodeRecordSize(order) bytes
// into a node, reading only the fields reachability requires: the first
// |count| keys, and either |count| (leaf) or count+1 (branch) child
// slots, plus the leaf's trailing sibling slot.
func decodeNode(buf []byte, order int, address int64) *node {
	count := int32(binary.BigEndian.Uint32(buf[0:4]))

	n := &node{address: address}
	childOff := 4 + (order-1)*4

	if count <= 0 {
		n.isLeaf = true
		k := int(-count)
		n.keys = make([]int32, k)
		for i := 0; i < k; i++ {
			n.keys[i] = int32(binary.BigEndian.Uint32(buf[4+i*4 : 8+i*4]))
		}
		n.addrs = make([]int64, k)
		for i := 0; i < k; i++ {
			n.addrs[i] = int64(binary.BigEndian.Uint64(buf[childOff+i*8:]))
		}
		siblingOff := childOff + (order-1)*8
		n.sibling = int64(binary.BigEndian.Uint64(buf[siblingOff:]))
	} else {
		n.isLeaf = false
		k := int(count)
		n.keys = make([]int32, k)
		for i := 0; i < k; i++ {
			n.keys[i] = int32(binary.BigEndian.Uint32(buf[4+i*4 : 8+i*4]))
		}
		n.addrs = make([]int64, k+1)
		for i := 0; i <= k; i++ {
			n.addrs[i] = int64(binary.BigEndian.Uint64(buf[childOff+i*8:]))
		}
	}
	return n
}
