// Package page implements the fixed-size page abstraction and its
// slotted-page record layout: the header every page carries, and the
// slot-array-plus-heap structure that stores variable-length records
// inside a page.
//
// Layout and offset discipline are grounded on the teacher's page.go
// and slotted_page.go, generalized to this core's header field set
// (no CRC, pageLsn reserved at 0, int32 8-byte slots instead of the
// teacher's uint16 4-byte slots).
package page

import (
	"encoding/binary"
	"fmt"

	"relstore/internal/disk"
	"relstore/internal/storeerr"
)

// Size is the fixed page size in bytes.
const Size = disk.PageSize

// HeaderSize is the fixed size of the page header in bytes.
const HeaderSize = 40

// SlotSize is the fixed size of a slot-array entry in bytes.
const SlotSize = 8

// InvalidPageIndex marks an absent page link.
const InvalidPageIndex = disk.InvalidPageIndex

// Type identifies what a page is used for.
type Type int32

const (
	TypeInvalid Type = iota
	TypeLeafNode
	TypeInternalNode
	TypeTableHeader
)

func (t Type) String() string {
	switch t {
	case TypeLeafNode:
		return "LeafNode"
	case TypeInternalNode:
		return "InternalNode"
	case TypeTableHeader:
		return "TableHeader"
	default:
		return "Invalid"
	}
}

// Header field offsets within the first HeaderSize bytes of a page.
const (
	offPageLsn                 = 0
	offPageType                = 8
	offItemCount                = 12
	offDataStartOffset          = 16
	offParentPageIndex          = 20
	offPrevPageIndex            = 24
	offNextPageIndex            = 28
	offRightmostChildPageIndex  = 32
	offRootPageIndex            = 36
)

// Header is the fixed 40-byte page header, unmarshaled for convenient
// access. It is not the authoritative storage location: callers that
// mutate fields write them back through Page's accessor methods, which
// operate directly on the underlying buffer.
type Header struct {
	PageLsn                 int64
	PageType                Type
	ItemCount                int32
	DataStartOffset          int32
	ParentPageIndex          int32
	PrevPageIndex            int32
	NextPageIndex            int32
	RightmostChildPageIndex  int32
	RootPageIndex            int32
}

// Page is a typed view over a buffer owned by a buffer-pool frame. A
// Page never owns the bytes behind it; it is only valid for as long as
// the caller holds the pin that backs the buffer.
type Page struct {
	buf []byte
}

// Wrap returns a Page view over buf, which must be exactly Size bytes.
func Wrap(buf []byte) Page {
	if len(buf) != Size {
		panic(fmt.Sprintf("page: Wrap: buffer must be %d bytes, got %d", Size, len(buf)))
	}
	return Page{buf: buf}
}

// Bytes returns the underlying buffer.
func (p Page) Bytes() []byte { return p.buf }

// MarshalHeader writes h into the first HeaderSize bytes of buf.
func MarshalHeader(h Header, buf []byte) {
	binary.LittleEndian.PutUint64(buf[offPageLsn:], uint64(h.PageLsn))
	binary.LittleEndian.PutUint32(buf[offPageType:], uint32(h.PageType))
	binary.LittleEndian.PutUint32(buf[offItemCount:], uint32(h.ItemCount))
	binary.LittleEndian.PutUint32(buf[offDataStartOffset:], uint32(h.DataStartOffset))
	binary.LittleEndian.PutUint32(buf[offParentPageIndex:], uint32(h.ParentPageIndex))
	binary.LittleEndian.PutUint32(buf[offPrevPageIndex:], uint32(h.PrevPageIndex))
	binary.LittleEndian.PutUint32(buf[offNextPageIndex:], uint32(h.NextPageIndex))
	binary.LittleEndian.PutUint32(buf[offRightmostChildPageIndex:], uint32(h.RightmostChildPageIndex))
	binary.LittleEndian.PutUint32(buf[offRootPageIndex:], uint32(h.RootPageIndex))
}

// UnmarshalHeader reads a Header from the first HeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) Header {
	return Header{
		PageLsn:                int64(binary.LittleEndian.Uint64(buf[offPageLsn:])),
		PageType:                Type(int32(binary.LittleEndian.Uint32(buf[offPageType:]))),
		ItemCount:                int32(binary.LittleEndian.Uint32(buf[offItemCount:])),
		DataStartOffset:          int32(binary.LittleEndian.Uint32(buf[offDataStartOffset:])),
		ParentPageIndex:          int32(binary.LittleEndian.Uint32(buf[offParentPageIndex:])),
		PrevPageIndex:            int32(binary.LittleEndian.Uint32(buf[offPrevPageIndex:])),
		NextPageIndex:            int32(binary.LittleEndian.Uint32(buf[offNextPageIndex:])),
		RightmostChildPageIndex:  int32(binary.LittleEndian.Uint32(buf[offRightmostChildPageIndex:])),
		RootPageIndex:            int32(binary.LittleEndian.Uint32(buf[offRootPageIndex:])),
	}
}

// Header reads the page's current header.
func (p Page) Header() Header { return UnmarshalHeader(p.buf) }

// SetHeader writes h back into the page.
func (p Page) SetHeader(h Header) { MarshalHeader(h, p.buf) }

// Type returns the page's type.
func (p Page) Type() Type { return Type(int32(binary.LittleEndian.Uint32(p.buf[offPageType:]))) }

// ItemCount returns the number of slots in use.
func (p Page) ItemCount() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offItemCount:]))
}

func (p Page) setItemCount(n int32) {
	binary.LittleEndian.PutUint32(p.buf[offItemCount:], uint32(n))
}

// DataStartOffset returns the low-water mark of the record heap.
func (p Page) DataStartOffset() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offDataStartOffset:]))
}

func (p Page) setDataStartOffset(off int32) {
	binary.LittleEndian.PutUint32(p.buf[offDataStartOffset:], uint32(off))
}

// ParentPageIndex returns the parent node's page index, or InvalidPageIndex.
func (p Page) ParentPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offParentPageIndex:]))
}

// SetParentPageIndex sets the parent node's page index.
func (p Page) SetParentPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offParentPageIndex:], uint32(idx))
}

// PrevPageIndex returns the leaf's previous sibling, or InvalidPageIndex.
func (p Page) PrevPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offPrevPageIndex:]))
}

// SetPrevPageIndex sets the leaf's previous sibling.
func (p Page) SetPrevPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offPrevPageIndex:], uint32(idx))
}

// NextPageIndex returns the leaf's next sibling, or InvalidPageIndex.
func (p Page) NextPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offNextPageIndex:]))
}

// SetNextPageIndex sets the leaf's next sibling.
func (p Page) SetNextPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offNextPageIndex:], uint32(idx))
}

// RightmostChildPageIndex returns the internal node's trailing child pointer.
func (p Page) RightmostChildPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offRightmostChildPageIndex:]))
}

// SetRightmostChildPageIndex sets the internal node's trailing child pointer.
func (p Page) SetRightmostChildPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offRightmostChildPageIndex:], uint32(idx))
}

// RootPageIndex returns the table header's B+Tree root page index.
func (p Page) RootPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offRootPageIndex:]))
}

// SetRootPageIndex sets the table header's B+Tree root page index.
func (p Page) SetRootPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offRootPageIndex:], uint32(idx))
}

// Initialize zeroes the page and writes a fresh header of the given type,
// with dataStartOffset = Size, itemCount = 0, and parentPageIndex set to
// parent (or InvalidPageIndex if parent is negative).
func Initialize(p Page, pageType Type, parent int32) {
	if parent < 0 {
		parent = InvalidPageIndex
	}
	for i := range p.buf {
		p.buf[i] = 0
	}
	h := Header{
		PageLsn:                0,
		PageType:                pageType,
		ItemCount:                0,
		DataStartOffset:          int32(Size),
		ParentPageIndex:          parent,
		PrevPageIndex:            InvalidPageIndex,
		NextPageIndex:            InvalidPageIndex,
		RightmostChildPageIndex:  InvalidPageIndex,
		RootPageIndex:            InvalidPageIndex,
	}
	MarshalHeader(h, p.buf)
}

// MaxRecordSize is the largest record payload that can ever fit on an
// empty page (Size - HeaderSize - SlotSize for the one slot it needs).
const MaxRecordSize = Size - HeaderSize - SlotSize

// TooLarge reports whether a record of the given length can never be
// stored, on any page, regardless of current occupancy.
func TooLarge(recordLen int) bool {
	return recordLen > MaxRecordSize
}

func slotOffset(index int32) int32 {
	return int32(HeaderSize) + index*int32(SlotSize)
}

func (p Page) readSlot(index int32) (recordOffset, recordLength int32) {
	off := slotOffset(index)
	recordOffset = int32(binary.LittleEndian.Uint32(p.buf[off:]))
	recordLength = int32(binary.LittleEndian.Uint32(p.buf[off+4:]))
	return
}

func (p Page) writeSlot(index, recordOffset, recordLength int32) {
	off := slotOffset(index)
	binary.LittleEndian.PutUint32(p.buf[off:], uint32(recordOffset))
	binary.LittleEndian.PutUint32(p.buf[off+4:], uint32(recordLength))
}

// GetFreeSpace returns the number of bytes available for a new record
// plus its slot entry.
func (p Page) GetFreeSpace() int32 {
	h := p.Header()
	free := h.DataStartOffset - (int32(HeaderSize) + h.ItemCount*int32(SlotSize))
	if free < 0 {
		return 0
	}
	return free
}

// TryAddRecord inserts bytes as a new record at logical slot index,
// shifting slots [index, itemCount) right by one. Returns false without
// modifying the page if there is insufficient free space.
func TryAddRecord(p Page, record []byte, index int32) bool {
	h := p.Header()
	if index < 0 || index > h.ItemCount || len(record) == 0 {
		return false
	}
	need := int32(len(record)) + int32(SlotSize)
	if p.GetFreeSpace() < need {
		return false
	}

	newDataStart := h.DataStartOffset - int32(len(record))
	copy(p.buf[newDataStart:newDataStart+int32(len(record))], record)

	for i := h.ItemCount; i > index; i-- {
		off, ln := p.readSlot(i - 1)
		p.writeSlot(i, off, ln)
	}
	p.writeSlot(index, newDataStart, int32(len(record)))

	p.setDataStartOffset(newDataStart)
	p.setItemCount(h.ItemCount + 1)
	return true
}

// GetRawRecord returns the raw bytes for slotIndex, or an empty slice if
// the slot is tombstoned (recordLength == 0).
func GetRawRecord(p Page, slotIndex int32) []byte {
	off, ln := p.readSlot(slotIndex)
	if ln == 0 {
		return nil
	}
	out := make([]byte, ln)
	copy(out, p.buf[off:off+ln])
	return out
}

// TryUpdateRecord overwrites the record at slotIndex with newBytes. An
// in-place update (newBytes no longer than the current record) never
// moves dataStartOffset. An out-of-place update appends to the heap if
// there is room; otherwise it returns false and leaves the page
// bit-identical.
func TryUpdateRecord(p Page, slotIndex int32, newBytes []byte) bool {
	off, ln := p.readSlot(slotIndex)
	if int32(len(newBytes)) <= ln {
		copy(p.buf[off:off+int32(len(newBytes))], newBytes)
		p.writeSlot(slotIndex, off, int32(len(newBytes)))
		return true
	}

	h := p.Header()
	if p.GetFreeSpace() < int32(len(newBytes)) {
		return false
	}
	newOff := h.DataStartOffset - int32(len(newBytes))
	copy(p.buf[newOff:newOff+int32(len(newBytes))], newBytes)
	p.writeSlot(slotIndex, newOff, int32(len(newBytes)))
	p.setDataStartOffset(newOff)
	return true
}

// DeleteRecord removes the slot at slotIndex, compacting the slot array
// left and decrementing itemCount. The record's heap bytes become dead
// until the page is repopulated or compacted.
func DeleteRecord(p Page, slotIndex int32) {
	h := p.Header()
	for i := slotIndex; i < h.ItemCount-1; i++ {
		off, ln := p.readSlot(i + 1)
		p.writeSlot(i, off, ln)
	}
	p.setItemCount(h.ItemCount - 1)
}

// AllRawRecords returns the raw bytes of every non-tombstoned slot, in
// slot order.
func AllRawRecords(p Page) [][]byte {
	h := p.Header()
	out := make([][]byte, 0, h.ItemCount)
	for i := int32(0); i < h.ItemCount; i++ {
		rec := GetRawRecord(p, i)
		if rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Repopulate atomically replaces page contents with sortedRawRecords,
// preserving parentPageIndex/prevPageIndex/nextPageIndex. Fails without
// modifying the page if the records do not fit.
func Repopulate(p Page, sortedRawRecords [][]byte) error {
	total := int32(0)
	for _, r := range sortedRawRecords {
		total += int32(len(r)) + int32(SlotSize)
	}
	if total > int32(Size-HeaderSize) {
		return fmt.Errorf("page: Repopulate: %w: %d bytes exceed capacity %d", storeerr.ErrInvalidOperation, total, Size-HeaderSize)
	}

	h := p.Header()
	parent, prev, next := h.ParentPageIndex, h.PrevPageIndex, h.NextPageIndex
	pageType := h.PageType
	rightmost := h.RightmostChildPageIndex
	root := h.RootPageIndex

	Initialize(p, pageType, parent)
	p.SetPrevPageIndex(prev)
	p.SetNextPageIndex(next)
	p.SetRightmostChildPageIndex(rightmost)
	p.SetRootPageIndex(root)

	for i, r := range sortedRawRecords {
		if !TryAddRecord(p, r, int32(i)) {
			return fmt.Errorf("page: Repopulate: %w: record %d unexpectedly did not fit", storeerr.ErrInvariantViolation, i)
		}
	}
	return nil
}
