// Package rowtable implements a fixed-schema row store keyed through a
// github.com/leeminkan/bptree-index/bptree index: the table delegates
// key uniqueness and key-to-address mapping to the tree, and maintains
// its own free list of reclaimed row slots, mirroring the tree's
// block-recycling idiom at the row-slot granularity.
package rowtable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/leeminkan/bptree-index/bptree"
)

// none is the row-file sentinel address: no row lives at offset zero,
// since the header occupies the start of the file.
const none int64 = 0

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("rowtable: table is closed")

// ErrFieldCount is returned when a caller supplies the wrong number of
// field values for the table's declared schema.
var ErrFieldCount = errors.New("rowtable: wrong number of fields for schema")

// Table is a fixed-schema row store: (key, fields) pairs where key is a
// 32-bit signed integer and fields is a fixed-length sequence of
// character arrays whose per-field lengths are declared at creation.
type Table struct {
	tree *bptree.Tree

	rowFile      *os.File
	closed       bool
	fieldLengths []int32
	freeHead     int64

	headerSize int64
	slotSize   int64
}

// Create builds a fresh tree index file at indexPath and a fresh row
// file at rowPath, with one character-array field per entry in
// fieldLengths (declared in character units, not bytes).
func Create(indexPath, rowPath string, blockSize int32, fieldLengths []int32) (*Table, error) {
	tree, err := bptree.Create(indexPath, blockSize)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(rowPath); err != nil && !os.IsNotExist(err) {
		tree.Close()
		return nil, fmt.Errorf("rowtable: removing existing row file: %w", err)
	}
	f, err := os.OpenFile(rowPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		tree.Close()
		return nil, fmt.Errorf("rowtable: creating row file: %w", err)
	}

	tbl := &Table{
		tree:         tree,
		rowFile:      f,
		fieldLengths: append([]int32(nil), fieldLengths...),
		freeHead:     none,
	}
	tbl.computeLayout()

	if err := tbl.writeRowHeader(); err != nil {
		f.Close()
		tree.Close()
		return nil, err
	}
	return tbl, nil
}

// Open reopens an existing tree index file and row file pair.
func Open(indexPath, rowPath string) (*Table, error) {
	tree, err := bptree.Open(indexPath)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(rowPath, os.O_RDWR, 0644)
	if err != nil {
		tree.Close()
		return nil, fmt.Errorf("rowtable: opening row file: %w", err)
	}

	tbl := &Table{tree: tree, rowFile: f}
	if err := tbl.readRowHeader(); err != nil {
		f.Close()
		tree.Close()
		return nil, err
	}
	tbl.computeLayout()
	return tbl, nil
}

func (t *Table) computeLayout() {
	n := int64(len(t.fieldLengths))
	t.headerSize = 4 + 4*n + 8
	var charTotal int64
	for _, l := range t.fieldLengths {
		charTotal += int64(l)
	}
	t.slotSize = 4 + 2*charTotal
}

func (t *Table) readRowHeader() error {
	head := make([]byte, 4)
	if _, err := t.rowFile.ReadAt(head, 0); err != nil {
		return fmt.Errorf("rowtable: reading row header: %w", err)
	}
	n := int32(binary.BigEndian.Uint32(head))

	rest := make([]byte, 4*n+8)
	if _, err := t.rowFile.ReadAt(rest, 4); err != nil {
		return fmt.Errorf("rowtable: reading row header fields: %w", err)
	}

	t.fieldLengths = make([]int32, n)
	for i := int32(0); i < n; i++ {
		t.fieldLengths[i] = int32(binary.BigEndian.Uint32(rest[i*4:]))
	}
	t.freeHead = int64(binary.BigEndian.Uint64(rest[4*n:]))
	return nil
}

func (t *Table) writeRowHeader() error {
	n := int32(len(t.fieldLengths))
	buf := make([]byte, t.headerSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
	for i, l := range t.fieldLengths {
		binary.BigEndian.PutUint32(buf[4+i*4:], uint32(l))
	}
	binary.BigEndian.PutUint64(buf[4+4*n:], uint64(t.freeHead))
	if _, err := t.rowFile.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("rowtable: writing row header: %w", err)
	}
	return nil
}

// Close releases both backing file handles. Further operations on t are
// errors.
func (t *Table) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	rowErr := t.rowFile.Close()
	treeErr := t.tree.Close()
	if rowErr != nil {
		return rowErr
	}
	return treeErr
}

func (t *Table) checkOpen() error {
	if t.closed {
		return ErrClosed
	}
	return nil
}

// peekNextFree reports the row-slot address the next acquireSlot call
// would hand out, without mutating the free list or the file.
func (t *Table) peekNextFree() (int64, error) {
	if t.freeHead != none {
		return t.freeHead, nil
	}
	info, err := t.rowFile.Stat()
	if err != nil {
		return none, fmt.Errorf("rowtable: stat: %w", err)
	}
	size := info.Size()
	if size < t.headerSize {
		size = t.headerSize
	}
	return size, nil
}

// acquireSlot commits what peekNextFree promised: pops the free-list
// head if one exists, or leaves the next write to extend the file.
func (t *Table) acquireSlot() (int64, error) {
	if t.freeHead == none {
		return t.peekNextFree()
	}
	addr := t.freeHead
	next, err := t.readForwardPointer(addr)
	if err != nil {
		return none, err
	}
	t.freeHead = next
	if err := t.writeRowHeader(); err != nil {
		return none, err
	}
	return addr, nil
}

// releaseSlot links a reclaimed row slot into the free list.
func (t *Table) releaseSlot(addr int64) error {
	if err := t.writeForwardPointer(addr, t.freeHead); err != nil {
		return err
	}
	t.freeHead = addr
	return t.writeRowHeader()
}

func (t *Table) readForwardPointer(addr int64) (int64, error) {
	buf := make([]byte, 8)
	if _, err := t.rowFile.ReadAt(buf, addr); err != nil {
		return none, fmt.Errorf("rowtable: reading free-list pointer at %d: %w", addr, err)
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

func (t *Table) writeForwardPointer(addr, forward int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(forward))
	if _, err := t.rowFile.WriteAt(buf, addr); err != nil {
		return fmt.Errorf("rowtable: writing free-list pointer at %d: %w", addr, err)
	}
	return nil
}

// Insert stores (key, fields). It reports false without modifying the
// table if key already exists. len(fields) must equal the schema's
// field count.
func (t *Table) Insert(key int32, fields []string) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if len(fields) != len(t.fieldLengths) {
		return false, ErrFieldCount
	}

	slotAddr, err := t.peekNextFree()
	if err != nil {
		return false, err
	}

	inserted, err := t.tree.Insert(key, slotAddr)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	committedAddr, err := t.acquireSlot()
	if err != nil {
		return false, err
	}
	if committedAddr != slotAddr {
		return false, fmt.Errorf("rowtable: internal error, peeked slot %d but committed %d", slotAddr, committedAddr)
	}

	return true, t.writeRow(committedAddr, key, fields)
}

// Remove deletes the row bound to key, reclaiming its slot. It reports
// false if key was not present.
func (t *Table) Remove(key int32) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}

	addr, err := t.tree.Remove(key)
	if err != nil {
		return false, err
	}
	if addr == none {
		return false, nil
	}
	return true, t.releaseSlot(addr)
}

// Search returns the field values stored for key, or false if key is
// absent.
func (t *Table) Search(key int32) ([]string, bool, error) {
	if err := t.checkOpen(); err != nil {
		return nil, false, err
	}

	addr, err := t.tree.Search(key)
	if err != nil {
		return nil, false, err
	}
	if addr == none {
		return nil, false, nil
	}

	_, fields, err := t.readRow(addr)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

// RangeSearch returns, for every key in [low, high] in ascending order,
// the key followed by its field values.
func (t *Table) RangeSearch(low, high int32) ([][]string, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	addrs, err := t.tree.RangeSearch(low, high)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(addrs))
	for _, addr := range addrs {
		key, fields, err := t.readRow(addr)
		if err != nil {
			return nil, err
		}
		row := append([]string{fmt.Sprintf("%d", key)}, fields...)
		rows = append(rows, row)
	}
	return rows, nil
}

func (t *Table) writeRow(addr int64, key int32, fields []string) error {
	buf := make([]byte, t.slotSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(key))

	off := int64(4)
	for i, length := range t.fieldLengths {
		writeFixedField(buf[off:off+2*int64(length)], fields[i], int(length))
		off += 2 * int64(length)
	}

	if _, err := t.rowFile.WriteAt(buf, addr); err != nil {
		return fmt.Errorf("rowtable: writing row at %d: %w", addr, err)
	}
	return nil
}

func (t *Table) readRow(addr int64) (int32, []string, error) {
	buf := make([]byte, t.slotSize)
	if _, err := t.rowFile.ReadAt(buf, addr); err != nil {
		return 0, nil, fmt.Errorf("rowtable: reading row at %d: %w", addr, err)
	}

	key := int32(binary.BigEndian.Uint32(buf[0:4]))

	fields := make([]string, len(t.fieldLengths))
	off := int64(4)
	for i, length := range t.fieldLengths {
		fields[i] = readFixedField(buf[off : off+2*int64(length)])
		off += 2 * int64(length)
	}
	return key, fields, nil
}

// writeFixedField packs s into a fixed-length run of 16-bit big-endian
// character units, null-padding any remainder.
func writeFixedField(dst []byte, s string, length int) {
	runes := []rune(s)
	for i := 0; i < length; i++ {
		var c rune
		if i < len(runes) {
			c = runes[i]
		}
		binary.BigEndian.PutUint16(dst[i*2:i*2+2], uint16(c))
	}
}

// readFixedField unpacks a fixed-length run of 16-bit big-endian
// character units, stopping at the first null unit.
func readFixedField(src []byte) string {
	n := len(src) / 2
	runes := make([]rune, 0, n)
	for i := 0; i < n; i++ {
		c := binary.BigEndian.Uint16(src[i*2 : i*2+2])
		if c == 0 {
			break
		}
		runes = append(runes, rune(c))
	}
	return string(runes)
}
