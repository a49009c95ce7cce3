// Package catalog implements the system-catalog bootstrapper: an
// ordinary B+Tree client that maps table names to their table-header
// page and schema. It carries no engineering of its own beyond what
// internal/btree already provides — exactly the "straightforward glue"
// role the storage core's interesting engineering (disk, page, buffer,
// btree) leaves for it.
//
// Grounded on the teacher's internal/storage/pager/catalog.go Catalog/
// CatalogEntry (a catalog-as-B+Tree over a "tenant\x00table" key with a
// JSON-encoded value), adapted to this core's structured, typed row
// format: the catalog is itself a one-table relstore database whose
// rows carry an Entry's fields as columns instead of one opaque JSON
// blob per row.
package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"relstore/internal/btree"
	"relstore/internal/buffer"
	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

// directoryName is the reserved table name under which the catalog
// keeps its own table-name directory, since the B+Tree core exposes no
// public scan/range API (spec.md §4.6's leaf sibling pointers exist on
// disk, but walking them is deliberately not part of BTree's public
// contract). A table named this can never be registered.
const directoryName = "\x00relstore_directory\x00"

// catalogTable is the schema of the catalog's own backing table: one
// row per registered table, plus the reserved directory row.
var catalogTable = &schema.Table{
	Name: "__catalog__",
	Columns: []schema.Column{
		{Name: "Name", Type: schema.Varchar},
		{Name: "ID", Type: schema.Blob},
		{Name: "TableID", Type: schema.Int},
		{Name: "RootPageID", Type: schema.Int},
		{Name: "ColumnsJSON", Type: schema.Blob},
		{Name: "PrimaryKeyJSON", Type: schema.Blob},
	},
	PrimaryKey: []int{0},
}

// Entry describes one registered table: its identity, the on-disk table
// file it lives in, and its schema. RootPageID holds the page index of
// that file's B+Tree table-header page (the one btree.Open reads the
// current root from), not the root page itself.
type Entry struct {
	ID         uuid.UUID
	TableName  string
	TableID    int32
	RootPageID int32
	Columns    []schema.Column
	PrimaryKey []int
}

// Catalog manages the system catalog B+Tree.
type Catalog struct {
	tree *btree.BTree
}

func nameKey(name string) schema.Key {
	return schema.Key{Values: []schema.DataValue{{Type: schema.Varchar, Bytes: []byte(name)}}}
}

func entryToRow(e Entry) ([]schema.DataValue, error) {
	columnsJSON, err := json.Marshal(e.Columns)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal columns for %q: %w", e.TableName, err)
	}
	pkJSON, err := json.Marshal(e.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal primary key for %q: %w", e.TableName, err)
	}
	return []schema.DataValue{
		{Type: schema.Varchar, Bytes: []byte(e.TableName)},
		{Type: schema.Blob, Bytes: e.ID[:]},
		{Type: schema.Int, Int32: e.TableID},
		{Type: schema.Int, Int32: e.RootPageID},
		{Type: schema.Blob, Bytes: columnsJSON},
		{Type: schema.Blob, Bytes: pkJSON},
	}, nil
}

func rowToEntry(row []schema.DataValue) (Entry, error) {
	var e Entry
	e.TableName = string(row[0].Bytes)
	copy(e.ID[:], row[1].Bytes)
	e.TableID = row[2].Int32
	e.RootPageID = row[3].Int32
	if err := json.Unmarshal(row[4].Bytes, &e.Columns); err != nil {
		return Entry{}, fmt.Errorf("catalog: unmarshal columns for %q: %w", e.TableName, err)
	}
	if err := json.Unmarshal(row[5].Bytes, &e.PrimaryKey); err != nil {
		return Entry{}, fmt.Errorf("catalog: unmarshal primary key for %q: %w", e.TableName, err)
	}
	return e, nil
}

func directoryRow(names []string) ([]schema.DataValue, error) {
	payload, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal directory: %w", err)
	}
	return []schema.DataValue{
		{Type: schema.Varchar, Bytes: []byte(directoryName)},
		{Type: schema.Blob, Bytes: make([]byte, 16)},
		{Type: schema.Int, Int32: -1},
		{Type: schema.Int, Int32: -1},
		{Type: schema.Blob, Bytes: payload},
		{Type: schema.Blob, Bytes: []byte("[]")},
	}, nil
}

func readDirectory(tree *btree.BTree) ([]string, bool, error) {
	row, found, err := tree.Search(nameKey(directoryName))
	if err != nil || !found {
		return nil, found, err
	}
	var names []string
	if err := json.Unmarshal(row[4].Bytes, &names); err != nil {
		return nil, false, fmt.Errorf("catalog: unmarshal directory: %w", err)
	}
	return names, true, nil
}

func writeDirectory(tree *btree.BTree, names []string) error {
	sort.Strings(names)
	row, err := directoryRow(names)
	if err != nil {
		return err
	}
	if _, found, err := readDirectory(tree); err != nil {
		return err
	} else if found {
		return tree.Update(row)
	}
	return tree.Insert(row)
}

// OpenCatalog opens an existing catalog tree rooted at tableID/
// headerIndex, or bootstraps a fresh one if headerIndex is
// btree.NoHeader, logging which happened.
func OpenCatalog(pool *buffer.Pool, tableID int32, headerIndex int32) (*Catalog, error) {
	if headerIndex == btree.NoHeader {
		tree, err := btree.New(pool, tableID, catalogTable)
		if err != nil {
			return nil, fmt.Errorf("catalog: bootstrap: %w", err)
		}
		if err := writeDirectory(tree, nil); err != nil {
			return nil, fmt.Errorf("catalog: seed directory: %w", err)
		}
		log.Printf("catalog: bootstrapped fresh system catalog in table %d", tableID)
		return &Catalog{tree: tree}, nil
	}

	tree, err := btree.Open(pool, tableID, catalogTable, headerIndex)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	log.Printf("catalog: opened existing system catalog in table %d", tableID)
	return &Catalog{tree: tree}, nil
}

// HeaderIndex returns the page index of the catalog's own table-header
// page, for the engine to persist across restarts.
func (c *Catalog) HeaderIndex() int32 { return c.tree.HeaderIndex() }

// PutEntry registers or replaces entry.
func (c *Catalog) PutEntry(entry Entry) error {
	if entry.TableName == directoryName {
		return fmt.Errorf("catalog: PutEntry %q: %w: reserved table name", entry.TableName, storeerr.ErrInvalidOperation)
	}
	row, err := entryToRow(entry)
	if err != nil {
		return err
	}

	_, found, err := c.tree.Search(nameKey(entry.TableName))
	if err != nil {
		return err
	}
	if found {
		if err := c.tree.Update(row); err != nil {
			return err
		}
	} else {
		if err := c.tree.Insert(row); err != nil {
			return err
		}
	}

	names, _, err := readDirectory(c.tree)
	if err != nil {
		return err
	}
	if !found {
		names = append(names, entry.TableName)
		if err := writeDirectory(c.tree, names); err != nil {
			return err
		}
	}
	return nil
}

// GetEntry retrieves a catalog entry. found is false if no such table
// is registered.
func (c *Catalog) GetEntry(tableName string) (entry Entry, found bool, err error) {
	row, found, err := c.tree.Search(nameKey(tableName))
	if err != nil || !found {
		return Entry{}, found, err
	}
	entry, err = rowToEntry(row)
	return entry, true, err
}

// DeleteEntry removes tableName's catalog entry, if present.
func (c *Catalog) DeleteEntry(tableName string) error {
	ok, err := c.tree.Delete(nameKey(tableName))
	if err != nil || !ok {
		return err
	}
	names, _, err := readDirectory(c.tree)
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != tableName {
			kept = append(kept, n)
		}
	}
	return writeDirectory(c.tree, kept)
}

// ListTables returns every registered table name, sorted.
func (c *Catalog) ListTables() ([]string, error) {
	names, _, err := readDirectory(c.tree)
	return names, err
}
