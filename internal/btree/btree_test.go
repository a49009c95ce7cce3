package btree

import (
	"fmt"
	"strings"
	"testing"

	"relstore/internal/buffer"
	"relstore/internal/disk"
	"relstore/internal/page"
	"relstore/internal/record"
	"relstore/internal/schema"
)

func newTestPool(t *testing.T, poolSize int) *buffer.Pool {
	t.Helper()
	d, err := disk.NewFileManager(t.TempDir(), ".tbl")
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	return buffer.NewPool(d, poolSize)
}

func idTable() *schema.Table {
	return &schema.Table{
		Name: "t",
		Columns: []schema.Column{
			{Name: "Id", Type: schema.Int},
			{Name: "Data", Type: schema.Varchar},
		},
		PrimaryKey: []int{0},
	}
}

func intKey(v int32) schema.Key {
	return schema.Key{Values: []schema.DataValue{{Type: schema.Int, Int32: v}}}
}

func intRow(id int32, data string) []schema.DataValue {
	return []schema.DataValue{
		{Type: schema.Int, Int32: id},
		{Type: schema.Varchar, Bytes: []byte(data)},
	}
}

// Scenario 1: empty insert/search.
func TestScenarioEmptyInsertSearch(t *testing.T) {
	pool := newTestPool(t, 16)
	table := idTable()
	bt, err := New(pool, 1, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, found, err := bt.Search(intKey(100))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found {
		t.Fatalf("expected no row for key 100 in a fresh tree")
	}

	if err := bt.Insert(intRow(100, "Hello World")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	row, found, err := bt.Search(intKey(100))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Fatalf("expected row for key 100 after insert")
	}
	if string(row[1].Bytes) != "Hello World" {
		t.Fatalf("Data = %q, want %q", row[1].Bytes, "Hello World")
	}
}

// Scenario 2: root split. Three 2500-byte rows stay in a single leaf; the
// fourth forces the root to split into an internal node with itemCount=1.
func TestScenarioRootSplit(t *testing.T) {
	pool := newTestPool(t, 16)
	table := idTable()
	bt, err := New(pool, 1, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	root := bt.DebugRootID()

	big := strings.Repeat("A", 2500)
	for _, id := range []int32{10, 20, 30} {
		if err := bt.Insert(intRow(id, big)); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	if bt.DebugRootID() != root {
		t.Fatalf("root changed after only 3 rows, want unchanged")
	}

	if err := bt.Insert(intRow(40, big)); err != nil {
		t.Fatalf("insert 40: %v", err)
	}
	if bt.DebugRootID() == root {
		t.Fatalf("expected root to change after the 4th insert")
	}

	rootGuard, err := pool.FetchPage(disk.PageID{TableID: 1, PageIndex: bt.DebugRootID()})
	if err != nil {
		t.Fatalf("fetch new root: %v", err)
	}
	if rootGuard.Page().Type() != page.TypeInternalNode {
		t.Fatalf("new root type = %v, want InternalNode", rootGuard.Page().Type())
	}
	if rootGuard.Page().ItemCount() != 1 {
		t.Fatalf("new root itemCount = %d, want 1", rootGuard.Page().ItemCount())
	}
	rootGuard.Unpin()

	for _, id := range []int32{10, 20, 30, 40} {
		_, found, err := bt.Search(intKey(id))
		if err != nil {
			t.Fatalf("search %d: %v", id, err)
		}
		if !found {
			t.Fatalf("key %d not found after root split", id)
		}
	}
}

// Scenario 3: leaf split, parent absorbs promotion. Manually constructs a
// three-node tree: left leaf [10, 30], right leaf [80], a parent with a
// single entry (50 -> left leaf) and rightmost = right leaf, and a
// grandroot with zero entries and rightmost = parent. Inserting (20, ...)
// overflows the left leaf; the split promotes 20 into the parent.
func TestScenarioLeafSplitParentAbsorbsPromotion(t *testing.T) {
	pool := newTestPool(t, 16)
	table := idTable()
	const tableID = int32(1)

	leftGuard, err := pool.CreatePage(tableID)
	if err != nil {
		t.Fatalf("create left leaf: %v", err)
	}
	leftIdx := leftGuard.ID().PageIndex
	page.Initialize(leftGuard.Page(), page.TypeLeafNode, page.InvalidPageIndex)

	rightLeafGuard, err := pool.CreatePage(tableID)
	if err != nil {
		t.Fatalf("create right leaf: %v", err)
	}
	rightLeafIdx := rightLeafGuard.ID().PageIndex
	page.Initialize(rightLeafGuard.Page(), page.TypeLeafNode, page.InvalidPageIndex)

	parentGuard, err := pool.CreatePage(tableID)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	parentIdx := parentGuard.ID().PageIndex
	page.Initialize(parentGuard.Page(), page.TypeInternalNode, page.InvalidPageIndex)

	grandrootGuard, err := pool.CreatePage(tableID)
	if err != nil {
		t.Fatalf("create grandroot: %v", err)
	}
	grandrootIdx := grandrootGuard.ID().PageIndex
	page.Initialize(grandrootGuard.Page(), page.TypeInternalNode, page.InvalidPageIndex)

	headerGuard, err := pool.CreatePage(tableID)
	if err != nil {
		t.Fatalf("create header: %v", err)
	}
	headerIdx := headerGuard.ID().PageIndex
	page.Initialize(headerGuard.Page(), page.TypeTableHeader, page.InvalidPageIndex)
	headerGuard.Page().SetRootPageIndex(grandrootIdx)

	leftGuard.Page().SetParentPageIndex(parentIdx)
	leftGuard.Page().SetNextPageIndex(rightLeafIdx)
	rightLeafGuard.Page().SetParentPageIndex(parentIdx)
	rightLeafGuard.Page().SetPrevPageIndex(leftIdx)

	// Existing left-leaf rows large enough that adding a third row of
	// similar size overflows the page and forces a real split.
	filler := strings.Repeat("A", 3800)
	if ok, err := LeafTryInsert(leftGuard.Page(), table, intRow(10, filler)); err != nil || !ok {
		t.Fatalf("seed left leaf 10: ok=%v err=%v", ok, err)
	}
	if ok, err := LeafTryInsert(leftGuard.Page(), table, intRow(30, filler)); err != nil || !ok {
		t.Fatalf("seed left leaf 30: ok=%v err=%v", ok, err)
	}
	if ok, err := LeafTryInsert(rightLeafGuard.Page(), table, intRow(80, "right")); err != nil || !ok {
		t.Fatalf("seed right leaf 80: ok=%v err=%v", ok, err)
	}

	if ok, err := InternalTryInsert(parentGuard.Page(), table, intKey(50), leftIdx); err != nil || !ok {
		t.Fatalf("seed parent entry: ok=%v err=%v", ok, err)
	}
	parentGuard.Page().SetRightmostChildPageIndex(rightLeafIdx)

	grandrootGuard.Page().SetRightmostChildPageIndex(parentIdx)

	for _, g := range []*buffer.PinGuard{leftGuard, rightLeafGuard, parentGuard, grandrootGuard, headerGuard} {
		g.MarkDirty()
		if err := g.Unpin(); err != nil {
			t.Fatalf("unpin seed page: %v", err)
		}
	}

	bt, err := Open(pool, tableID, table, headerIdx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if bt.DebugRootID() != grandrootIdx {
		t.Fatalf("opened root = %d, want grandroot %d", bt.DebugRootID(), grandrootIdx)
	}

	if err := bt.Insert(intRow(20, strings.Repeat("X", 3000))); err != nil {
		t.Fatalf("Insert 20: %v", err)
	}

	if bt.DebugRootID() != grandrootIdx {
		t.Fatalf("root changed, want unchanged at %d", grandrootIdx)
	}

	pg, err := pool.FetchPage(disk.PageID{TableID: tableID, PageIndex: parentIdx})
	if err != nil {
		t.Fatalf("fetch parent: %v", err)
	}
	entries, err := InternalAllEntries(pg.Page(), table)
	if err != nil {
		t.Fatalf("InternalAllEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("parent entry count = %d, want 2", len(entries))
	}
	if entries[0].Key.Compare(intKey(20)) != 0 || entries[0].Child != leftIdx {
		t.Fatalf("entries[0] = %+v, want (20, leftLeaf)", entries[0])
	}
	if entries[1].Key.Compare(intKey(50)) != 0 {
		t.Fatalf("entries[1].Key = %+v, want 50", entries[1].Key)
	}
	newSiblingIdx := entries[1].Child
	if pg.Page().RightmostChildPageIndex() != rightLeafIdx {
		t.Fatalf("parent rightmost = %d, want original right leaf %d", pg.Page().RightmostChildPageIndex(), rightLeafIdx)
	}
	pg.Unpin()

	for _, id := range []int32{10, 20, 30, 80} {
		_, found, err := bt.Search(intKey(id))
		if err != nil {
			t.Fatalf("search %d: %v", id, err)
		}
		if !found {
			t.Fatalf("key %d not found after promotion", id)
		}
	}

	sibGuard, err := pool.FetchPage(disk.PageID{TableID: tableID, PageIndex: newSiblingIdx})
	if err != nil {
		t.Fatalf("fetch new sibling: %v", err)
	}
	if sibGuard.Page().ItemCount() != 2 {
		t.Fatalf("new sibling itemCount = %d, want 2 (20, 30)", sibGuard.Page().ItemCount())
	}
	sibGuard.Unpin()
}

// Scenario 5: recursive split grows the tree by a level. Large Varchar
// keys make both leaf rows and internal-node entries large, so a root
// that has already grown into an InternalNode (scenario 4) overflows
// after only a couple more leaf splits feed it promotions, forcing a
// second, recursive split that grows a brand-new root with itemCount=1
// above it.
func TestScenarioRecursiveSplitGrowsTreeByOneLevel(t *testing.T) {
	pool := newTestPool(t, 64)
	table := &schema.Table{
		Name: "t",
		Columns: []schema.Column{
			{Name: "K", Type: schema.Varchar},
			{Name: "V", Type: schema.Int},
		},
		PrimaryKey: []int{0},
	}
	bt, err := New(pool, 1, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keyOf := func(i int) string {
		return fmt.Sprintf("%04d-", i) + strings.Repeat("K", 3000)
	}
	row := func(i int) []schema.DataValue {
		return []schema.DataValue{
			{Type: schema.Varchar, Bytes: []byte(keyOf(i))},
			{Type: schema.Int, Int32: int32(i)},
		}
	}

	roots := []int32{bt.DebugRootID()}
	const maxInserts = 64
	i := 0
	for ; i < maxInserts; i++ {
		if err := bt.Insert(row(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if cur := bt.DebugRootID(); cur != roots[len(roots)-1] {
			roots = append(roots, cur)
			if len(roots) == 3 {
				break
			}
		}
	}
	if len(roots) != 3 {
		t.Fatalf("after %d inserts, root changed %d time(s), want 2 (leaf split then recursive split)", i+1, len(roots)-1)
	}

	newRoot := roots[2]
	rootGuard, err := pool.FetchPage(disk.PageID{TableID: 1, PageIndex: newRoot})
	if err != nil {
		t.Fatalf("fetch new root: %v", err)
	}
	if rootGuard.Page().Type() != page.TypeInternalNode {
		t.Fatalf("new root type = %v, want InternalNode", rootGuard.Page().Type())
	}
	if rootGuard.Page().ItemCount() != 1 {
		t.Fatalf("new root itemCount = %d, want 1 after the tree grows by a level", rootGuard.Page().ItemCount())
	}
	rootGuard.Unpin()

	for n := 0; n <= i; n++ {
		key := schema.Key{Values: []schema.DataValue{{Type: schema.Varchar, Bytes: []byte(keyOf(n))}}}
		got, found, err := bt.Search(key)
		if err != nil {
			t.Fatalf("search %d: %v", n, err)
		}
		if !found {
			t.Fatalf("key %d not found after recursive split", n)
		}
		if got[1].Int32 != int32(n) {
			t.Fatalf("V for key %d = %d, want %d", n, got[1].Int32, n)
		}
	}
}

// Sixty rows with 201-byte keys overflow the single root leaf, so the
// leaf splits and the tree grows by a level into an internal root,
// while every inserted key remains searchable. Rows of this size cause
// a single leaf split; no internal node splits here.
func TestManyInsertsGrowTreeAndKeepAllKeysSearchable(t *testing.T) {
	pool := newTestPool(t, 64)
	table := &schema.Table{
		Name: "t",
		Columns: []schema.Column{
			{Name: "KeyData", Type: schema.Varchar},
			{Name: "Val", Type: schema.Int},
		},
		PrimaryKey: []int{0},
	}
	bt, err := New(pool, 1, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	initialRoot := bt.DebugRootID()

	const n = 60
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k := strings.Repeat(string(rune('A'+(i%26))), 200) + string(rune('0'+i%10))
		row := []schema.DataValue{
			{Type: schema.Varchar, Bytes: []byte(k)},
			{Type: schema.Int, Int32: int32(i)},
		}
		if err := bt.Insert(row); err != nil {
			t.Fatalf("insert %d (%q): %v", i, k, err)
		}
		keys = append(keys, k)
	}

	if bt.DebugRootID() == initialRoot {
		t.Fatalf("expected root to change after %d large-key inserts", n)
	}

	for i, k := range keys {
		key := schema.Key{Values: []schema.DataValue{{Type: schema.Varchar, Bytes: []byte(k)}}}
		row, found, err := bt.Search(key)
		if err != nil {
			t.Fatalf("search %q: %v", k, err)
		}
		if !found {
			t.Fatalf("key %q (insert #%d) not found after tree growth", k, i)
		}
		if row[1].Int32 != int32(i) {
			t.Fatalf("Val for key %q = %d, want %d", k, row[1].Int32, i)
		}
	}
}

// Order preservation and pin-count neutrality.
func TestOrderPreservationAndPinCountNeutrality(t *testing.T) {
	pool := newTestPool(t, 32)
	table := idTable()
	bt, err := New(pool, 1, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ids := []int32{50, 10, 90, 30, 70, 20, 80, 40, 60}
	for _, id := range ids {
		if err := bt.Insert(intRow(id, "v")); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}

	raws, err := bt.scanLeaves()
	if err != nil {
		t.Fatalf("scanLeaves: %v", err)
	}
	if len(raws) != len(ids) {
		t.Fatalf("scanned %d records, want %d", len(raws), len(ids))
	}
	prev := schema.Key{}
	for i, raw := range raws {
		k, err := record.DeserializePrimaryKey(table, raw)
		if err != nil {
			t.Fatalf("DeserializePrimaryKey: %v", err)
		}
		if i > 0 && !prev.Less(k) {
			t.Fatalf("leaf chain out of order: %+v before %+v", prev, k)
		}
		prev = k
	}

	beforePin, _, beforeResident := pool.DebugFrameInfo(disk.PageID{TableID: 1, PageIndex: bt.DebugRootID()})
	if _, _, err := bt.Search(intKey(50)); err != nil {
		t.Fatalf("search: %v", err)
	}
	afterPin, _, afterResident := pool.DebugFrameInfo(disk.PageID{TableID: 1, PageIndex: bt.DebugRootID()})
	if beforeResident && (beforePin != afterPin) {
		t.Fatalf("pin count changed across Search: before=%d after=%d", beforePin, afterPin)
	}
	_ = afterResident
}
