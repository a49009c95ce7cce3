package btree

import (
	"strings"
	"testing"

	"relstore/internal/page"
	"relstore/internal/schema"
)

func newInternalTestPage() page.Page {
	buf := make([]byte, page.Size)
	p := page.Wrap(buf)
	page.Initialize(p, page.TypeInternalNode, page.InvalidPageIndex)
	return p
}

// wideTable has a single Varchar primary-key column, so a handful of
// entries with long keys is enough to exceed a page's capacity without
// needing hundreds of int-keyed entries.
func wideTable() *schema.Table {
	return &schema.Table{
		Name:       "wide",
		Columns:    []schema.Column{{Name: "K", Type: schema.Varchar}},
		PrimaryKey: []int{0},
	}
}

func wideKey(s string) schema.Key {
	return schema.Key{Values: []schema.DataValue{{Type: schema.Varchar, Bytes: []byte(s)}}}
}

func TestInternalDeleteFound(t *testing.T) {
	table := idTable()
	p := newInternalTestPage()
	p.SetRightmostChildPageIndex(99)
	for _, e := range []struct {
		key   int32
		child int32
	}{{10, 1}, {20, 2}, {30, 3}} {
		ok, err := InternalTryInsert(p, table, intKey(e.key), e.child)
		if err != nil || !ok {
			t.Fatalf("InternalTryInsert(%d): ok=%v err=%v", e.key, ok, err)
		}
	}

	ok, err := InternalDelete(p, table, intKey(20))
	if err != nil {
		t.Fatalf("InternalDelete: %v", err)
	}
	if !ok {
		t.Fatalf("expected InternalDelete to find key 20")
	}
	entries, err := InternalAllEntries(p, table)
	if err != nil {
		t.Fatalf("InternalAllEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Key.Compare(intKey(10)) != 0 || entries[1].Key.Compare(intKey(30)) != 0 {
		t.Fatalf("remaining entries = %+v, want keys [10 30]", entries)
	}
}

func TestInternalDeleteNotFound(t *testing.T) {
	table := idTable()
	p := newInternalTestPage()
	p.SetRightmostChildPageIndex(99)
	if ok, err := InternalTryInsert(p, table, intKey(10), 1); err != nil || !ok {
		t.Fatalf("InternalTryInsert: ok=%v err=%v", ok, err)
	}

	ok, err := InternalDelete(p, table, intKey(999))
	if err != nil {
		t.Fatalf("InternalDelete: %v", err)
	}
	if ok {
		t.Fatalf("expected InternalDelete to report no match for an absent key")
	}
	entries, err := InternalAllEntries(p, table)
	if err != nil {
		t.Fatalf("InternalAllEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want unchanged 1", len(entries))
	}
}

func TestInternalMergeLeftSuccessful(t *testing.T) {
	table := idTable()
	left := newInternalTestPage()
	left.SetRightmostChildPageIndex(100)
	if ok, err := InternalTryInsert(left, table, intKey(10), 1); err != nil || !ok {
		t.Fatalf("seed left: ok=%v err=%v", ok, err)
	}

	this := newInternalTestPage()
	this.SetRightmostChildPageIndex(200)
	if ok, err := InternalTryInsert(this, table, intKey(80), 8); err != nil || !ok {
		t.Fatalf("seed this: ok=%v err=%v", ok, err)
	}

	if err := InternalMergeLeft(table, left, intKey(50), 100, this); err != nil {
		t.Fatalf("InternalMergeLeft: %v", err)
	}

	entries, err := InternalAllEntries(left, table)
	if err != nil {
		t.Fatalf("InternalAllEntries(left): %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("merged left has %d entries, want 3", len(entries))
	}
	wantKeys := []int32{10, 50, 80}
	wantChildren := []int32{1, 100, 8}
	for i, k := range wantKeys {
		if entries[i].Key.Compare(intKey(k)) != 0 {
			t.Fatalf("entry %d key = %+v, want %d", i, entries[i].Key, k)
		}
		if entries[i].Child != wantChildren[i] {
			t.Fatalf("entry %d child = %d, want %d", i, entries[i].Child, wantChildren[i])
		}
	}
	if left.RightmostChildPageIndex() != 200 {
		t.Fatalf("left.rightmost = %d, want 200 (this's original rightmost)", left.RightmostChildPageIndex())
	}
	if this.ItemCount() != 0 {
		t.Fatalf("this.ItemCount() = %d, want 0 after wipe", this.ItemCount())
	}
}

func TestInternalMergeLeftCapacityExceeded(t *testing.T) {
	table := wideTable()
	padding := strings.Repeat("x", 3000)

	left := newInternalTestPage()
	left.SetRightmostChildPageIndex(100)
	if ok, err := InternalTryInsert(left, table, wideKey("a-"+padding), 1); err != nil || !ok {
		t.Fatalf("seed left: ok=%v err=%v", ok, err)
	}

	this := newInternalTestPage()
	this.SetRightmostChildPageIndex(200)
	if ok, err := InternalTryInsert(this, table, wideKey("z-"+padding), 8); err != nil || !ok {
		t.Fatalf("seed this: ok=%v err=%v", ok, err)
	}

	leftBefore := append([]byte(nil), left.Bytes()...)
	thisBefore := append([]byte(nil), this.Bytes()...)

	err := InternalMergeLeft(table, left, wideKey("m-"+padding), 100, this)
	if err == nil {
		t.Fatalf("expected InternalMergeLeft to fail: merged entries exceed page capacity")
	}
	if string(left.Bytes()) != string(leftBefore) {
		t.Fatalf("left page mutated despite failed merge")
	}
	if string(this.Bytes()) != string(thisBefore) {
		t.Fatalf("this page mutated despite failed merge")
	}
}
