package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"relstore/internal/page"
	"relstore/internal/record"
	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

// internalEntry is an in-memory decode of one (key, childPageIndex)
// entry of an internal node.
type internalEntry struct {
	Key   schema.Key
	Child int32
}

// encodeInternalEntry serializes (key, child) as the PK-column bytes of
// key followed by a 4-byte little-endian child page index — spec's
// "serialize_record(key, pageId) = serialize(pk_columns, key) ||
// int32(pageId.pageIndex)".
func encodeInternalEntry(table *schema.Table, key schema.Key, child int32) ([]byte, error) {
	kb, err := record.SerializeKey(table, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(kb)+4)
	copy(out, kb)
	binary.LittleEndian.PutUint32(out[len(kb):], uint32(child))
	return out, nil
}

func decodeInternalEntry(table *schema.Table, raw []byte) (internalEntry, error) {
	if len(raw) < 4 {
		return internalEntry{}, fmt.Errorf("btree: decodeInternalEntry: %w: entry shorter than child pointer", storeerr.ErrInvalidData)
	}
	kb := raw[:len(raw)-4]
	child := int32(binary.LittleEndian.Uint32(raw[len(raw)-4:]))
	key, err := record.DeserializeKey(table, kb)
	if err != nil {
		return internalEntry{}, err
	}
	return internalEntry{Key: key, Child: child}, nil
}

func internalEntryAt(p page.Page, table *schema.Table, slotIndex int32) (internalEntry, error) {
	raw := page.GetRawRecord(p, slotIndex)
	if raw == nil {
		return internalEntry{}, fmt.Errorf("btree: internalEntryAt: %w: slot %d is tombstoned", storeerr.ErrInvariantViolation, slotIndex)
	}
	return decodeInternalEntry(table, raw)
}

// InternalAllEntries decodes every entry of p, in slot order.
func InternalAllEntries(p page.Page, table *schema.Table) ([]internalEntry, error) {
	n := int(p.ItemCount())
	out := make([]internalEntry, n)
	for i := 0; i < n; i++ {
		e, err := internalEntryAt(p, table, int32(i))
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// InternalLookupChild applies the precise routing rule: find the
// largest entry index i such that entries[i].Key <= key; if none,
// return the first entry's child; if i is the last entry, return
// rightmost; otherwise return entries[i+1].Child. An empty node always
// returns rightmost.
func InternalLookupChild(p page.Page, table *schema.Table, key schema.Key) (int32, error) {
	n := int(p.ItemCount())
	if n == 0 {
		return p.RightmostChildPageIndex(), nil
	}

	var findErr error
	// largest i such that entries[i].Key <= key == (first i such that
	// entries[i].Key > key) - 1.
	i := sort.Search(n, func(i int) bool {
		e, err := internalEntryAt(p, table, int32(i))
		if err != nil {
			findErr = err
			return true
		}
		return key.Less(e.Key)
	})
	if findErr != nil {
		return 0, findErr
	}
	if i == 0 {
		e, err := internalEntryAt(p, table, 0)
		if err != nil {
			return 0, err
		}
		return e.Child, nil
	}
	largest := i - 1
	if largest == n-1 {
		return p.RightmostChildPageIndex(), nil
	}
	e, err := internalEntryAt(p, table, int32(largest+1))
	if err != nil {
		return 0, err
	}
	return e.Child, nil
}

// InternalTryInsert inserts (key, child) in sorted position. Fails with
// ErrDuplicateKey if key already has an entry; returns (false, nil) if
// there is insufficient free space.
func InternalTryInsert(p page.Page, table *schema.Table, key schema.Key, child int32) (bool, error) {
	n := int(p.ItemCount())
	var findErr error
	idx := sort.Search(n, func(i int) bool {
		e, err := internalEntryAt(p, table, int32(i))
		if err != nil {
			findErr = err
			return true
		}
		return !e.Key.Less(key)
	})
	if findErr != nil {
		return false, findErr
	}
	if idx < n {
		e, err := internalEntryAt(p, table, int32(idx))
		if err != nil {
			return false, err
		}
		if e.Key.Equal(key) {
			return false, storeerr.ErrDuplicateKey
		}
	}
	raw, err := encodeInternalEntry(table, key, child)
	if err != nil {
		return false, err
	}
	return page.TryAddRecord(p, raw, int32(idx)), nil
}

// InternalDelete removes the entry for key, if present.
func InternalDelete(p page.Page, table *schema.Table, key schema.Key) (bool, error) {
	n := int(p.ItemCount())
	for i := 0; i < n; i++ {
		e, err := internalEntryAt(p, table, int32(i))
		if err != nil {
			return false, err
		}
		if e.Key.Equal(key) {
			page.DeleteRecord(p, int32(i))
			return true, nil
		}
	}
	return false, nil
}

// InternalPatchChild looks for oldChild in p's rightmost pointer and
// then in its entries, replacing the first occurrence found with
// newChild; later occurrences are left as they are. Reports whether a
// match was found (and patched).
func InternalPatchChild(p page.Page, table *schema.Table, oldChild, newChild int32) (bool, error) {
	if p.RightmostChildPageIndex() == oldChild {
		p.SetRightmostChildPageIndex(newChild)
		return true, nil
	}
	n := int(p.ItemCount())
	for i := 0; i < n; i++ {
		e, err := internalEntryAt(p, table, int32(i))
		if err != nil {
			return false, err
		}
		if e.Child != oldChild {
			continue
		}
		raw, err := encodeInternalEntry(table, e.Key, newChild)
		if err != nil {
			return false, err
		}
		if !page.TryUpdateRecord(p, int32(i), raw) {
			return false, fmt.Errorf("btree: InternalPatchChild: %w: in-place child patch unexpectedly grew the record", storeerr.ErrInvariantViolation)
		}
		return true, nil
	}
	return false, nil
}

// InternalRepopulate atomically replaces p's entries and rightmost
// pointer.
func InternalRepopulate(p page.Page, table *schema.Table, entries []internalEntry, rightmost int32) error {
	raws := make([][]byte, len(entries))
	for i, e := range entries {
		raw, err := encodeInternalEntry(table, e.Key, e.Child)
		if err != nil {
			return err
		}
		raws[i] = raw
	}
	if err := page.Repopulate(p, raws); err != nil {
		return err
	}
	p.SetRightmostChildPageIndex(rightmost)
	return nil
}

// InternalMergeLeft merges this into left: appends (demotedKey,
// left.rightmost) to left, then all of this's entries, then sets
// left.rightmost = this.rightmost, then wipes this. Fails with
// InvalidOperation, leaving both pages unchanged, if left lacks the
// capacity for this's entries plus the one additional entry.
func InternalMergeLeft(table *schema.Table, left page.Page, demotedKey schema.Key, demotedPointer int32, this page.Page) error {
	leftEntries, err := InternalAllEntries(left, table)
	if err != nil {
		return err
	}
	thisEntries, err := InternalAllEntries(this, table)
	if err != nil {
		return err
	}

	merged := make([]internalEntry, 0, len(leftEntries)+1+len(thisEntries))
	merged = append(merged, leftEntries...)
	merged = append(merged, internalEntry{Key: demotedKey, Child: left.RightmostChildPageIndex()})
	merged = append(merged, thisEntries...)

	total := int32(0)
	for _, e := range merged {
		raw, err := encodeInternalEntry(table, e.Key, e.Child)
		if err != nil {
			return err
		}
		total += int32(len(raw)) + int32(page.SlotSize)
	}
	if total > int32(page.Size-page.HeaderSize) {
		return fmt.Errorf("btree: InternalMergeLeft: %w: merged entries exceed page capacity", storeerr.ErrInvalidOperation)
	}

	if err := InternalRepopulate(left, table, merged, this.RightmostChildPageIndex()); err != nil {
		return err
	}
	for i := range this.Bytes() {
		this.Bytes()[i] = 0
	}
	_ = demotedPointer // unused: left.rightmost already supplies the demoted child
	return nil
}
