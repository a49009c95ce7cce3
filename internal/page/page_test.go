package page

import (
	"bytes"
	"testing"
)

func newTestPage() Page {
	buf := make([]byte, Size)
	p := Wrap(buf)
	Initialize(p, TypeLeafNode, InvalidPageIndex)
	return p
}

func TestInitialize(t *testing.T) {
	p := newTestPage()
	h := p.Header()
	if h.PageType != TypeLeafNode {
		t.Fatalf("pageType = %v, want LeafNode", h.PageType)
	}
	if h.ItemCount != 0 {
		t.Fatalf("itemCount = %d, want 0", h.ItemCount)
	}
	if h.DataStartOffset != int32(Size) {
		t.Fatalf("dataStartOffset = %d, want %d", h.DataStartOffset, Size)
	}
	if h.PageLsn != 0 {
		t.Fatalf("pageLsn = %d, want 0", h.PageLsn)
	}
	if p.GetFreeSpace() != int32(Size-HeaderSize) {
		t.Fatalf("GetFreeSpace = %d, want %d", p.GetFreeSpace(), Size-HeaderSize)
	}
}

func TestTryAddRecordAndGet(t *testing.T) {
	p := newTestPage()
	recs := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for i, r := range recs {
		if !TryAddRecord(p, r, int32(i)) {
			t.Fatalf("TryAddRecord(%d) failed", i)
		}
	}
	if p.ItemCount() != 3 {
		t.Fatalf("ItemCount = %d, want 3", p.ItemCount())
	}
	for i, want := range recs {
		got := GetRawRecord(p, int32(i))
		if !bytes.Equal(got, want) {
			t.Fatalf("slot %d = %q, want %q", i, got, want)
		}
	}
}

func TestTryAddRecordInsertsAtIndexAndShifts(t *testing.T) {
	p := newTestPage()
	TryAddRecord(p, []byte("first"), 0)
	TryAddRecord(p, []byte("third"), 1)
	if !TryAddRecord(p, []byte("second"), 1) {
		t.Fatalf("insert at middle index failed")
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if got := string(GetRawRecord(p, int32(i))); got != w {
			t.Fatalf("slot %d = %q, want %q", i, got, w)
		}
	}
}

func TestTryAddRecordFailsWhenFull(t *testing.T) {
	p := newTestPage()
	big := bytes.Repeat([]byte("x"), int(MaxRecordSize))
	if !TryAddRecord(p, big, 0) {
		t.Fatalf("expected first max-size record to fit")
	}
	if TryAddRecord(p, []byte("y"), 1) {
		t.Fatalf("expected second record to fail: page should be full")
	}
}

func TestGetFreeSpaceNeverLies(t *testing.T) {
	p := newTestPage()
	free := p.GetFreeSpace()
	rec := bytes.Repeat([]byte("z"), int(free)-SlotSize)
	if !TryAddRecord(p, rec, 0) {
		t.Fatalf("record sized exactly to free space should fit")
	}
	if p.GetFreeSpace() != 0 {
		t.Fatalf("GetFreeSpace after filling = %d, want 0", p.GetFreeSpace())
	}
}

func TestTryUpdateRecordInPlace(t *testing.T) {
	p := newTestPage()
	TryAddRecord(p, []byte("hello"), 0)
	before := p.DataStartOffset()
	if !TryUpdateRecord(p, 0, []byte("hi")) {
		t.Fatalf("in-place shrink update failed")
	}
	if p.DataStartOffset() != before {
		t.Fatalf("in-place update must not move dataStartOffset: got %d, want %d", p.DataStartOffset(), before)
	}
	if got := string(GetRawRecord(p, 0)); got != "hi" {
		t.Fatalf("record = %q, want %q", got, "hi")
	}
}

func TestTryUpdateRecordOutOfPlace(t *testing.T) {
	p := newTestPage()
	TryAddRecord(p, []byte("hi"), 0)
	before := p.DataStartOffset()
	if !TryUpdateRecord(p, 0, []byte("hello world")) {
		t.Fatalf("out-of-place grow update failed")
	}
	if p.DataStartOffset() >= before {
		t.Fatalf("out-of-place update must shrink dataStartOffset: got %d, was %d", p.DataStartOffset(), before)
	}
	if got := string(GetRawRecord(p, 0)); got != "hello world" {
		t.Fatalf("record = %q, want %q", got, "hello world")
	}
}

func TestTryUpdateRecordFailsLeavesPageUnchanged(t *testing.T) {
	p := newTestPage()
	free := p.GetFreeSpace()
	rec := bytes.Repeat([]byte("a"), int(free)-SlotSize)
	TryAddRecord(p, rec, 0)
	snapshot := append([]byte(nil), p.Bytes()...)

	tooBig := bytes.Repeat([]byte("b"), int(free)+100)
	if TryUpdateRecord(p, 0, tooBig) {
		t.Fatalf("expected update to fail: not enough free space")
	}
	if !bytes.Equal(p.Bytes(), snapshot) {
		t.Fatalf("page mutated despite failed update")
	}
}

func TestDeleteRecordCompactsSlotArray(t *testing.T) {
	p := newTestPage()
	TryAddRecord(p, []byte("a"), 0)
	TryAddRecord(p, []byte("b"), 1)
	TryAddRecord(p, []byte("c"), 2)
	DeleteRecord(p, 1)
	if p.ItemCount() != 2 {
		t.Fatalf("ItemCount = %d, want 2", p.ItemCount())
	}
	if got := string(GetRawRecord(p, 0)); got != "a" {
		t.Fatalf("slot 0 = %q, want %q", got, "a")
	}
	if got := string(GetRawRecord(p, 1)); got != "c" {
		t.Fatalf("slot 1 = %q, want %q", got, "c")
	}
}

func TestRepopulatePreservesLinksAndOrder(t *testing.T) {
	p := newTestPage()
	p.SetPrevPageIndex(5)
	p.SetNextPageIndex(6)
	p.SetParentPageIndex(7)
	TryAddRecord(p, []byte("old1"), 0)
	TryAddRecord(p, []byte("old2"), 1)

	if err := Repopulate(p, [][]byte{[]byte("new1"), []byte("new2"), []byte("new3")}); err != nil {
		t.Fatalf("Repopulate failed: %v", err)
	}
	if p.ItemCount() != 3 {
		t.Fatalf("ItemCount = %d, want 3", p.ItemCount())
	}
	if p.PrevPageIndex() != 5 || p.NextPageIndex() != 6 || p.ParentPageIndex() != 7 {
		t.Fatalf("sibling/parent links not preserved: prev=%d next=%d parent=%d",
			p.PrevPageIndex(), p.NextPageIndex(), p.ParentPageIndex())
	}
	for i, want := range []string{"new1", "new2", "new3"} {
		if got := string(GetRawRecord(p, int32(i))); got != want {
			t.Fatalf("slot %d = %q, want %q", i, got, want)
		}
	}
}

func TestRepopulateFailsWhenTooLarge(t *testing.T) {
	p := newTestPage()
	TryAddRecord(p, []byte("keepme"), 0)
	snapshot := append([]byte(nil), p.Bytes()...)

	tooMany := make([][]byte, 0)
	chunk := bytes.Repeat([]byte("x"), 100)
	for i := 0; i < (Size/100)+10; i++ {
		tooMany = append(tooMany, chunk)
	}
	if err := Repopulate(p, tooMany); err == nil {
		t.Fatalf("expected Repopulate to fail: records exceed capacity")
	}
	if !bytes.Equal(p.Bytes(), snapshot) {
		t.Fatalf("page mutated despite failed Repopulate")
	}
}

func TestTooLarge(t *testing.T) {
	if TooLarge(MaxRecordSize) {
		t.Fatalf("MaxRecordSize itself must fit on an empty page")
	}
	if !TooLarge(MaxRecordSize + 1) {
		t.Fatalf("MaxRecordSize+1 must be reported as too large")
	}
}
