package btree

import (
	"fmt"
	"sort"

	"relstore/internal/buffer"
	"relstore/internal/disk"
	"relstore/internal/page"
	"relstore/internal/record"
	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

// BTree is a clustered index over table, keyed by table's primary-key
// columns. State is the buffer pool, the table definition, and the page
// index of a table-header page whose rootPageIndex is the persistent
// source of truth; the in-memory root is rewritten there whenever the
// root grows.
type BTree struct {
	pool        *buffer.Pool
	tableID     int32
	table       *schema.Table
	headerIndex int32
	root        int32
}

func (bt *BTree) pid(index int32) disk.PageID {
	return disk.PageID{TableID: bt.tableID, PageIndex: index}
}

// NoHeader signals to Open-time callers that no catalog/table header
// page exists yet and a fresh tree must be bootstrapped via New.
const NoHeader = page.InvalidPageIndex

// HeaderIndex returns the page index of this tree's table-header page,
// the persistent anchor a caller must remember across restarts to
// reopen the same tree via Open.
func (bt *BTree) HeaderIndex() int32 { return bt.headerIndex }

// New creates a fresh, empty tree: a table-header page and a single
// empty leaf root.
func New(pool *buffer.Pool, tableID int32, table *schema.Table) (*BTree, error) {
	headerGuard, err := pool.CreatePage(tableID)
	if err != nil {
		return nil, fmt.Errorf("btree: New: create header page: %w", err)
	}
	page.Initialize(headerGuard.Page(), page.TypeTableHeader, page.InvalidPageIndex)
	headerIndex := headerGuard.ID().PageIndex

	rootGuard, err := pool.CreatePage(tableID)
	if err != nil {
		headerGuard.Unpin()
		return nil, fmt.Errorf("btree: New: create root page: %w", err)
	}
	page.Initialize(rootGuard.Page(), page.TypeLeafNode, page.InvalidPageIndex)
	rootIndex := rootGuard.ID().PageIndex

	headerGuard.Page().SetRootPageIndex(rootIndex)
	headerGuard.MarkDirty()
	rootGuard.MarkDirty()
	if err := headerGuard.Unpin(); err != nil {
		return nil, err
	}
	if err := rootGuard.Unpin(); err != nil {
		return nil, err
	}

	return &BTree{pool: pool, tableID: tableID, table: table, headerIndex: headerIndex, root: rootIndex}, nil
}

// Open reconstructs a BTree over an existing table-header page,
// discovering the current root from it.
func Open(pool *buffer.Pool, tableID int32, table *schema.Table, headerIndex int32) (*BTree, error) {
	g, err := pool.FetchPage(disk.PageID{TableID: tableID, PageIndex: headerIndex})
	if err != nil {
		return nil, fmt.Errorf("btree: Open: %w", err)
	}
	root := g.Page().RootPageIndex()
	if err := g.Unpin(); err != nil {
		return nil, err
	}
	return &BTree{pool: pool, tableID: tableID, table: table, headerIndex: headerIndex, root: root}, nil
}

// Search performs a root-to-leaf traversal, returning the row for key
// or found=false if no such row exists. Exactly one page is pinned at a
// time; all pins are released before return.
func (bt *BTree) Search(key schema.Key) ([]schema.DataValue, bool, error) {
	guard, err := bt.descendToLeaf(key)
	if err != nil {
		return nil, false, err
	}
	row, found, err := LeafSearch(guard.Page(), bt.table, key)
	guard.Unpin()
	return row, found, err
}

// Insert descends to the target leaf, attempts an in-place insert, and
// on overflow performs a leaf split whose separator is propagated up
// via insertIntoParent, up to and including root growth.
func (bt *BTree) Insert(row []schema.DataValue) error {
	key, err := record.KeyOf(bt.table, row)
	if err != nil {
		return err
	}

	guard, err := bt.descendToLeaf(key)
	if err != nil {
		return err
	}

	leafIndex := guard.ID().PageIndex
	ok, err := LeafTryInsert(guard.Page(), bt.table, row)
	if err != nil {
		guard.Unpin()
		return err
	}
	if ok {
		guard.MarkDirty()
		return guard.Unpin()
	}

	// Leaf split.
	parentIndex := guard.Page().ParentPageIndex()

	newSiblingGuard, err := bt.pool.CreatePage(bt.tableID)
	if err != nil {
		guard.Unpin()
		return err
	}
	page.Initialize(newSiblingGuard.Page(), page.TypeLeafNode, parentIndex)
	newSiblingIndex := newSiblingGuard.ID().PageIndex

	farRightValid := guard.Page().NextPageIndex() != page.InvalidPageIndex
	var farRightGuard *buffer.PinGuard
	if farRightValid {
		farRightGuard, err = bt.pool.FetchPage(bt.pid(guard.Page().NextPageIndex()))
		if err != nil {
			guard.Unpin()
			newSiblingGuard.Unpin()
			return err
		}
	}

	var farRightPage page.Page
	if farRightValid {
		farRightPage = farRightGuard.Page()
	}
	separator, err := LeafSplitAndInsert(bt.table, guard.Page(), leafIndex, row, newSiblingGuard.Page(), newSiblingIndex, farRightPage, farRightValid)

	if farRightValid {
		farRightGuard.MarkDirty()
		farRightGuard.Unpin()
	}
	if err != nil {
		guard.Unpin()
		newSiblingGuard.Unpin()
		return err
	}

	guard.MarkDirty()
	newSiblingGuard.MarkDirty()
	if err := guard.Unpin(); err != nil {
		newSiblingGuard.Unpin()
		return err
	}
	if err := newSiblingGuard.Unpin(); err != nil {
		return err
	}

	return bt.insertIntoParent(leafIndex, parentIndex, separator, newSiblingIndex)
}

// Update overwrites the row with row's key, in place. Returns
// ErrRecordNotFound if no such row exists. Never splits: an in-place
// update never grows a row's PK, and an out-of-place update reuses the
// leaf's existing free space exactly as LeafTryUpdate does.
func (bt *BTree) Update(row []schema.DataValue) error {
	key, err := record.KeyOf(bt.table, row)
	if err != nil {
		return err
	}
	guard, err := bt.descendToLeaf(key)
	if err != nil {
		return err
	}
	ok, err := LeafTryUpdate(guard.Page(), bt.table, row)
	if err != nil {
		guard.Unpin()
		return err
	}
	if !ok {
		guard.Unpin()
		return fmt.Errorf("btree: Update: %w: row grew beyond the leaf's free space", storeerr.ErrInvalidOperation)
	}
	guard.MarkDirty()
	return guard.Unpin()
}

// Delete removes the row for key, if present, reporting whether a row
// was actually removed. Point delete only: no underflow
// rebalancing/merge is triggered (spec.md leaves delete-rebalancing out
// of scope; see DESIGN.md).
func (bt *BTree) Delete(key schema.Key) (bool, error) {
	guard, err := bt.descendToLeaf(key)
	if err != nil {
		return false, err
	}
	ok, err := LeafDelete(guard.Page(), bt.table, key)
	if err != nil {
		guard.Unpin()
		return false, err
	}
	if ok {
		guard.MarkDirty()
	}
	return ok, guard.Unpin()
}

// descendToLeaf performs the common root-to-leaf routing walk shared by
// Search, Update, and Delete, returning a pin guard over the target
// leaf.
func (bt *BTree) descendToLeaf(key schema.Key) (*buffer.PinGuard, error) {
	guard, err := bt.pool.FetchPage(bt.pid(bt.root))
	if err != nil {
		return nil, err
	}
	for guard.Page().Type() == page.TypeInternalNode {
		child, err := InternalLookupChild(guard.Page(), bt.table, key)
		if err != nil {
			guard.Unpin()
			return nil, err
		}
		guard.Unpin()
		next, err := bt.pool.FetchPage(bt.pid(child))
		if err != nil {
			return nil, err
		}
		guard = next
	}
	return guard, nil
}

// setChildParent fetches childIndex and overwrites its parentPageIndex.
func (bt *BTree) setChildParent(childIndex, parentIndex int32) error {
	g, err := bt.pool.FetchPage(bt.pid(childIndex))
	if err != nil {
		return err
	}
	g.Page().SetParentPageIndex(parentIndex)
	g.MarkDirty()
	return g.Unpin()
}

// persistRoot writes the in-memory root page index into the table
// header page.
func (bt *BTree) persistRoot() error {
	g, err := bt.pool.FetchPage(bt.pid(bt.headerIndex))
	if err != nil {
		return err
	}
	g.Page().SetRootPageIndex(bt.root)
	g.MarkDirty()
	return g.Unpin()
}

// insertIntoParent installs the promoted separator into oldChild's
// parent: the parent's pointer to oldChild is redirected to newChild
// and a (separator, oldChild) entry is inserted. The parent is
// fetched via parentIndex (an indirect
// reference re-resolved through the buffer pool rather than a live
// object pointer); a full parent is split recursively, propagating as
// far as a new root if necessary.
func (bt *BTree) insertIntoParent(oldChild, parentIndex int32, separator schema.Key, newChild int32) error {
	if parentIndex == page.InvalidPageIndex {
		newRootGuard, err := bt.pool.CreatePage(bt.tableID)
		if err != nil {
			return err
		}
		page.Initialize(newRootGuard.Page(), page.TypeInternalNode, page.InvalidPageIndex)
		newRootGuard.Page().SetRightmostChildPageIndex(newChild)
		if _, err := InternalTryInsert(newRootGuard.Page(), bt.table, separator, oldChild); err != nil {
			newRootGuard.Unpin()
			return err
		}
		newRootIndex := newRootGuard.ID().PageIndex
		newRootGuard.MarkDirty()
		if err := newRootGuard.Unpin(); err != nil {
			return err
		}

		if err := bt.setChildParent(oldChild, newRootIndex); err != nil {
			return err
		}
		if err := bt.setChildParent(newChild, newRootIndex); err != nil {
			return err
		}

		bt.root = newRootIndex
		return bt.persistRoot()
	}

	parentGuard, err := bt.pool.FetchPage(bt.pid(parentIndex))
	if err != nil {
		return err
	}

	if _, err := InternalPatchChild(parentGuard.Page(), bt.table, oldChild, newChild); err != nil {
		parentGuard.Unpin()
		return err
	}

	ok, err := InternalTryInsert(parentGuard.Page(), bt.table, separator, oldChild)
	if err != nil {
		parentGuard.Unpin()
		return err
	}
	if ok {
		parentGuard.MarkDirty()
		return parentGuard.Unpin()
	}

	// Recursive internal split.
	entries, err := InternalAllEntries(parentGuard.Page(), bt.table)
	if err != nil {
		parentGuard.Unpin()
		return err
	}
	rightmost := parentGuard.Page().RightmostChildPageIndex()
	grandParentIndex := parentGuard.Page().ParentPageIndex()

	allEntries := make([]internalEntry, 0, len(entries)+1)
	allEntries = append(allEntries, entries...)
	allEntries = append(allEntries, internalEntry{Key: separator, Child: oldChild})
	sort.Slice(allEntries, func(i, j int) bool { return allEntries[i].Key.Less(allEntries[j].Key) })

	total := len(allEntries)
	m := total / 2
	leftEntries := allEntries[:m]
	median := allEntries[m]
	rightEntries := allEntries[m+1:]

	newSiblingGuard, err := bt.pool.CreatePage(bt.tableID)
	if err != nil {
		parentGuard.Unpin()
		return err
	}
	page.Initialize(newSiblingGuard.Page(), page.TypeInternalNode, grandParentIndex)
	newSiblingIndex := newSiblingGuard.ID().PageIndex

	if err := InternalRepopulate(parentGuard.Page(), bt.table, leftEntries, median.Child); err != nil {
		parentGuard.Unpin()
		newSiblingGuard.Unpin()
		return err
	}
	if err := InternalRepopulate(newSiblingGuard.Page(), bt.table, rightEntries, rightmost); err != nil {
		parentGuard.Unpin()
		newSiblingGuard.Unpin()
		return err
	}

	for _, e := range rightEntries {
		if err := bt.setChildParent(e.Child, newSiblingIndex); err != nil {
			parentGuard.Unpin()
			newSiblingGuard.Unpin()
			return err
		}
	}
	if err := bt.setChildParent(rightmost, newSiblingIndex); err != nil {
		parentGuard.Unpin()
		newSiblingGuard.Unpin()
		return err
	}

	oldParentIndex := parentIndex
	parentGuard.MarkDirty()
	newSiblingGuard.MarkDirty()
	if err := parentGuard.Unpin(); err != nil {
		newSiblingGuard.Unpin()
		return err
	}
	if err := newSiblingGuard.Unpin(); err != nil {
		return err
	}

	return bt.insertIntoParent(oldParentIndex, grandParentIndex, median.Key, newSiblingIndex)
}

// DebugRootID reports the tree's current root page index. Test/debug
// only: exposes internal structure that the public search/insert
// contract otherwise hides.
func (bt *BTree) DebugRootID() int32 { return bt.root }

func (bt *BTree) leftmostLeaf() (int32, error) {
	idx := bt.root
	for {
		g, err := bt.pool.FetchPage(bt.pid(idx))
		if err != nil {
			return 0, err
		}
		if g.Page().Type() != page.TypeInternalNode {
			g.Unpin()
			return idx, nil
		}
		var child int32
		if g.Page().ItemCount() == 0 {
			child = g.Page().RightmostChildPageIndex()
		} else {
			e, err := internalEntryAt(g.Page(), bt.table, 0)
			if err != nil {
				g.Unpin()
				return 0, err
			}
			child = e.Child
		}
		g.Unpin()
		idx = child
	}
}

// scanLeaves walks every leaf left to right via nextPageIndex,
// collecting raw record bytes. Debug/test only: spec.md does not
// expose a public cursor/scan API over the leaf chain.
func (bt *BTree) scanLeaves() ([][]byte, error) {
	idx, err := bt.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for idx != page.InvalidPageIndex {
		g, err := bt.pool.FetchPage(bt.pid(idx))
		if err != nil {
			return nil, err
		}
		out = append(out, LeafAllRawRecords(g.Page())...)
		next := g.Page().NextPageIndex()
		if err := g.Unpin(); err != nil {
			return nil, err
		}
		idx = next
	}
	return out, nil
}

// Count returns the total number of rows in the tree, by walking the
// leaf chain. Grounded on the teacher's BTree.Count.
func (bt *BTree) Count() (int, error) {
	raws, err := bt.scanLeaves()
	if err != nil {
		return 0, err
	}
	return len(raws), nil
}
