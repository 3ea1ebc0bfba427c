package bptree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, blockSize int32) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	tree, err := Create(path, blockSize)
	require.NoError(t, err)
	t.Cleanup(func() { tree.Close() })
	return tree
}

func TestOrderFromBlockSize(t *testing.T) {
	require.Equal(t, 5, Order(60))
	require.Equal(t, 4, Order(48))
}

func TestInsertSingleLeaf(t *testing.T) {
	tree := newTestTree(t, 60)

	for i, key := range []int32{10, 20, 30, 40} {
		ok, err := tree.Insert(key, int64(100+i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	root, err := tree.readBlock(tree.root)
	require.NoError(t, err)
	require.True(t, root.isLeaf)
	require.Equal(t, []int32{10, 20, 30, 40}, root.keys)
	require.Equal(t, None, root.sibling)
}

func TestInsertSplitsOverfullLeaf(t *testing.T) {
	tree := newTestTree(t, 60) // order 5

	for i, key := range []int32{10, 20, 30, 40} {
		_, err := tree.Insert(key, int64(100+i))
		require.NoError(t, err)
	}
	ok, err := tree.Insert(50, 150)
	require.NoError(t, err)
	require.True(t, ok)

	root, err := tree.readBlock(tree.root)
	require.NoError(t, err)
	require.False(t, root.isLeaf)
	require.Equal(t, []int32{30}, root.keys)

	left, err := tree.readBlock(root.addrs[0])
	require.NoError(t, err)
	right, err := tree.readBlock(root.addrs[1])
	require.NoError(t, err)

	require.Equal(t, []int32{10, 20}, left.keys)
	require.Equal(t, []int32{30, 40, 50}, right.keys)
	require.Equal(t, right.address, left.sibling)
	require.Equal(t, None, right.sibling)
}

func TestInsertDuplicateReturnsFalse(t *testing.T) {
	tree := newTestTree(t, 60)

	ok, err := tree.Insert(10, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(10, 999)
	require.NoError(t, err)
	require.False(t, ok)

	addr, err := tree.Search(10)
	require.NoError(t, err)
	require.EqualValues(t, 100, addr)
}

func TestSearchMissingKey(t *testing.T) {
	tree := newTestTree(t, 60)
	_, err := tree.Insert(10, 100)
	require.NoError(t, err)

	addr, err := tree.Search(999)
	require.NoError(t, err)
	require.Equal(t, None, addr)
}

func TestRangeSearchAcrossSplitLeaves(t *testing.T) {
	tree := newTestTree(t, 60)
	for i, key := range []int32{10, 20, 30, 40, 50} {
		_, err := tree.Insert(key, int64(100+i*10))
		require.NoError(t, err)
	}

	addrs, err := tree.RangeSearch(15, 45)
	require.NoError(t, err)
	require.Equal(t, []int64{110, 120, 130}, addrs)
}

func TestRangeSearchRejectsInvertedBounds(t *testing.T) {
	tree := newTestTree(t, 60)
	_, err := tree.RangeSearch(10, 5)
	require.Error(t, err)
}

func TestRemoveCollapsesEmptyRootToNone(t *testing.T) {
	tree := newTestTree(t, 60)
	_, err := tree.Insert(10, 100)
	require.NoError(t, err)

	addr, err := tree.Remove(10)
	require.NoError(t, err)
	require.EqualValues(t, 100, addr)
	require.Equal(t, None, tree.root)

	got, err := tree.Search(10)
	require.NoError(t, err)
	require.Equal(t, None, got)
}

func TestRemoveMissingKeyReturnsNone(t *testing.T) {
	tree := newTestTree(t, 60)
	_, err := tree.Insert(10, 100)
	require.NoError(t, err)

	addr, err := tree.Remove(999)
	require.NoError(t, err)
	require.Equal(t, None, addr)
}

// TestUnderflowBorrowFromRight: after the [10,20,30,40,50] tree splits
// into [10,20] | [30,40,50], removing 10 underflows the left leaf and
// borrows 30 from the right.
func TestUnderflowBorrowFromRight(t *testing.T) {
	tree := newTestTree(t, 60)
	for i, key := range []int32{10, 20, 30, 40, 50} {
		_, err := tree.Insert(key, int64(100+i*10))
		require.NoError(t, err)
	}

	addr, err := tree.Remove(10)
	require.NoError(t, err)
	require.EqualValues(t, 100, addr)

	root, err := tree.readBlock(tree.root)
	require.NoError(t, err)
	require.Equal(t, []int32{40}, root.keys)

	left, err := tree.readBlock(root.addrs[0])
	require.NoError(t, err)
	right, err := tree.readBlock(root.addrs[1])
	require.NoError(t, err)
	require.Equal(t, []int32{20, 30}, left.keys)
	require.Equal(t, []int32{40, 50}, right.keys)
}

// TestUnderflowMergeCollapsesRoot: continuing from the borrow above,
// removing 20 merges the two leaves and replaces the root branch, now
// left with no keys and a single child, by the merged leaf.
func TestUnderflowMergeCollapsesRoot(t *testing.T) {
	tree := newTestTree(t, 60)
	for i, key := range []int32{10, 20, 30, 40, 50} {
		_, err := tree.Insert(key, int64(100+i*10))
		require.NoError(t, err)
	}
	_, err := tree.Remove(10)
	require.NoError(t, err)

	addr, err := tree.Remove(20)
	require.NoError(t, err)
	require.EqualValues(t, 110, addr)

	root, err := tree.readBlock(tree.root)
	require.NoError(t, err)
	require.True(t, root.isLeaf)
	require.Equal(t, []int32{30, 40, 50}, root.keys)

	ok, err := tree.Insert(30, 999)
	require.NoError(t, err)
	require.False(t, ok)
	got, err := tree.Search(30)
	require.NoError(t, err)
	require.EqualValues(t, 120, got)
}

func TestInvariantsHoldAfterManyInsertsAndDeletes(t *testing.T) {
	tree := newTestTree(t, 60)

	keys := make([]int32, 0, 200)
	for i := int32(1); i <= 200; i++ {
		keys = append(keys, i*2)
		ok, err := tree.Insert(i*2, int64(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	assertInvariants(t, tree)

	for i := 0; i < len(keys); i += 2 {
		_, err := tree.Remove(keys[i])
		require.NoError(t, err)
	}
	assertInvariants(t, tree)

	for i := 1; i < len(keys); i += 2 {
		addr, err := tree.Search(keys[i])
		require.NoError(t, err)
		require.NotEqual(t, None, addr)
	}
	for i := 0; i < len(keys); i += 2 {
		addr, err := tree.Search(keys[i])
		require.NoError(t, err)
		require.Equal(t, None, addr)
	}
}

func TestCloseAndReopenPreservesTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	tree, err := Create(path, 60)
	require.NoError(t, err)

	for i, key := range []int32{10, 20, 30, 40, 50, 60, 70} {
		_, err := tree.Insert(key, int64(100+i))
		require.NoError(t, err)
	}
	_, err = tree.Remove(20)
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	addrs, err := reopened.RangeSearch(0, 1000)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 102, 103, 104, 105, 106}, addrs)

	addr, err := reopened.Search(20)
	require.NoError(t, err)
	require.Equal(t, None, addr)
}

func TestOperationsAfterCloseError(t *testing.T) {
	tree := newTestTree(t, 60)
	require.NoError(t, tree.Close())

	_, err := tree.Search(1)
	require.ErrorIs(t, err, ErrClosed)

	_, err = tree.Insert(1, 1)
	require.ErrorIs(t, err, ErrClosed)

	_, err = tree.Remove(1)
	require.ErrorIs(t, err, ErrClosed)

	err = tree.Close()
	require.ErrorIs(t, err, ErrClosed)
}

// assertInvariants walks the whole tree and checks the structural
// properties every public operation must leave intact.
func assertInvariants(t *testing.T, tree *Tree) {
	t.Helper()
	if tree.root == None {
		return
	}

	min := tree.minKeys()
	seen := map[int32]bool{}

	var walk func(addr int64, isRoot bool) (minKey, maxKey int32, isLeaf bool)
	walk = func(addr int64, isRoot bool) (int32, int32, bool) {
		n, err := tree.readBlock(addr)
		require.NoError(t, err)

		if !isRoot {
			require.GreaterOrEqual(t, len(n.keys), min)
		}
		require.LessOrEqual(t, len(n.keys), tree.order-1)

		for i := 1; i < len(n.keys); i++ {
			require.Less(t, n.keys[i-1], n.keys[i])
		}
		if n.isLeaf {
			// Branch separators repeat leaf keys by design; uniqueness
			// is a property of the keys stored in leaves.
			for _, k := range n.keys {
				require.False(t, seen[k], "duplicate key %d", k)
				seen[k] = true
			}
			if len(n.keys) == 0 {
				return 0, 0, true
			}
			return n.keys[0], n.keys[len(n.keys)-1], true
		}

		var subtreeMin int32
		for i, childAddr := range n.addrs {
			childMin, _, _ := walk(childAddr, false)
			if i == 0 {
				subtreeMin = childMin
			} else {
				require.Equal(t, n.keys[i-1], childMin, "separator %d must equal min key of right subtree", i-1)
			}
		}
		return subtreeMin, 0, false
	}
	walk(tree.root, true)

	// Walk the leaf chain from the leftmost leaf and confirm ascending,
	// exactly-once coverage terminating at None.
	addr := tree.root
	for {
		n, err := tree.readBlock(addr)
		require.NoError(t, err)
		if n.isLeaf {
			break
		}
		addr = n.addrs[0]
	}

	var prev int32
	first := true
	count := 0
	for addr != None {
		n, err := tree.readBlock(addr)
		require.NoError(t, err)
		for _, k := range n.keys {
			if !first {
				require.Greater(t, k, prev)
			}
			prev = k
			first = false
			count++
		}
		addr = n.sibling
	}
	require.Equal(t, len(seen), count)
}
