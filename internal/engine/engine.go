// Package engine wires the Disk Manager, Buffer Pool, B+Tree, and system
// catalog into a thin storage engine: open a database directory, create
// or open named tables, and insert/search/update/delete rows through
// their clustered B+Tree index. It carries none of the transaction
// manager, WAL, or MVCC machinery the core deliberately excludes.
//
// Grounded on the shape of the teacher's internal/storage/db.go DB
// (NewDB/OpenDB constructors, a map of per-table state guarded by a
// mutex, a Close that flushes outstanding state) with the MVCC
// manager, WAL manager, and pluggable storage backend stripped out:
// this engine's only durable state is the buffer pool's pages and the
// catalog tree describing them.
package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"relstore/internal/btree"
	"relstore/internal/buffer"
	"relstore/internal/catalog"
	"relstore/internal/config"
	"relstore/internal/disk"
	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

// catalogTableID is the fixed on-disk table ID reserved for the system
// catalog's own backing file; user tables start at 1.
const catalogTableID int32 = 0

// Engine is a single open database: a buffer pool shared by every open
// table's B+Tree, plus the system catalog describing those tables.
type Engine struct {
	cfg  config.Config
	disk disk.Manager
	pool *buffer.Pool
	cat  *catalog.Catalog

	mu        sync.Mutex
	tables    map[string]*btree.BTree
	nextTable int32
}

// Open creates the database directory if needed and opens it, bootstrapping
// a fresh system catalog on first use.
func Open(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	catalogExisted := catalogFileExists(cfg)

	fm, err := disk.NewFileManager(cfg.BaseDir, cfg.Extension)
	if err != nil {
		return nil, fmt.Errorf("engine: open base dir: %w", err)
	}
	pool := buffer.NewPool(fm, cfg.BufferPoolSize)

	if err := fm.CreateTableFile(catalogTableID); err != nil {
		return nil, fmt.Errorf("engine: create catalog file: %w", err)
	}
	// The catalog's header page is always the first page New() ever
	// allocates in its file, so a pre-existing non-empty file means
	// page 0 is that header; an empty or absent file means there is
	// none yet and a fresh catalog tree must be bootstrapped.
	catalogHeader := btree.NoHeader
	if catalogExisted {
		catalogHeader = 0
	}
	cat, err := catalog.OpenCatalog(pool, catalogTableID, catalogHeader)
	if err != nil {
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		disk:      fm,
		pool:      pool,
		cat:       cat,
		tables:    make(map[string]*btree.BTree),
		nextTable: catalogTableID + 1,
	}
	names, err := cat.ListTables()
	if err != nil {
		return nil, fmt.Errorf("engine: list tables: %w", err)
	}
	for _, name := range names {
		if err := e.reopenTable(name); err != nil {
			return nil, err
		}
	}
	log.Printf("engine: opened %q with %d existing table(s)", cfg.BaseDir, len(names))
	return e, nil
}

// catalogFileExists reports whether the catalog's table file already has
// content, the same ext-normalization disk.FileManager applies.
func catalogFileExists(cfg config.Config) bool {
	ext := cfg.Extension
	if ext == "" {
		ext = ".tbl"
	} else if ext[0] != '.' {
		ext = "." + ext
	}
	path := filepath.Join(cfg.BaseDir, fmt.Sprintf("%d%s", catalogTableID, ext))
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func (e *Engine) reopenTable(name string) error {
	entry, found, err := e.cat.GetEntry(name)
	if err != nil {
		return fmt.Errorf("engine: catalog lookup %q: %w", name, err)
	}
	if !found {
		return fmt.Errorf("engine: table %q listed but not found in catalog", name)
	}
	table := &schema.Table{Name: entry.TableName, Columns: entry.Columns, PrimaryKey: entry.PrimaryKey}
	tree, err := btree.Open(e.pool, entry.TableID, table, entry.RootPageID)
	if err != nil {
		return fmt.Errorf("engine: open table %q: %w", name, err)
	}
	e.tables[name] = tree
	if entry.TableID >= e.nextTable {
		e.nextTable = entry.TableID + 1
	}
	return nil
}

// CreateTable registers a new table with the given schema and opens its
// B+Tree. It is an error to create a table name that already exists.
func (e *Engine) CreateTable(table *schema.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tables[table.Name]; exists {
		return fmt.Errorf("engine: create table %q: %w: already exists", table.Name, storeerr.ErrInvalidOperation)
	}
	if _, found, err := e.cat.GetEntry(table.Name); err != nil {
		return err
	} else if found {
		return fmt.Errorf("engine: create table %q: %w: already exists", table.Name, storeerr.ErrInvalidOperation)
	}

	tableID := e.nextTable
	if err := e.disk.CreateTableFile(tableID); err != nil {
		return fmt.Errorf("engine: create table file for %q: %w", table.Name, err)
	}
	tree, err := btree.New(e.pool, tableID, table)
	if err != nil {
		return fmt.Errorf("engine: bootstrap table %q: %w", table.Name, err)
	}
	e.nextTable++

	entry := catalog.Entry{
		ID:         uuid.New(),
		TableName:  table.Name,
		TableID:    tableID,
		RootPageID: tree.HeaderIndex(),
		Columns:    table.Columns,
		PrimaryKey: table.PrimaryKey,
	}
	if err := e.cat.PutEntry(entry); err != nil {
		return fmt.Errorf("engine: register table %q: %w", table.Name, err)
	}

	e.tables[table.Name] = tree
	log.Printf("engine: created table %q (table id %d)", table.Name, tableID)
	return nil
}

func (e *Engine) table(name string) (*btree.BTree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tree, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("engine: table %q: %w", name, storeerr.ErrRecordNotFound)
	}
	return tree, nil
}

// Insert adds row to table.
func (e *Engine) Insert(table string, row []schema.DataValue) error {
	tree, err := e.table(table)
	if err != nil {
		return err
	}
	return tree.Insert(row)
}

// Search looks up key in table's clustered index.
func (e *Engine) Search(table string, key schema.Key) ([]schema.DataValue, bool, error) {
	tree, err := e.table(table)
	if err != nil {
		return nil, false, err
	}
	return tree.Search(key)
}

// Update replaces the row in table matching row's primary-key columns.
func (e *Engine) Update(table string, row []schema.DataValue) error {
	tree, err := e.table(table)
	if err != nil {
		return err
	}
	return tree.Update(row)
}

// Delete removes the row matching key from table, reporting whether a row
// was actually removed.
func (e *Engine) Delete(table string, key schema.Key) (bool, error) {
	tree, err := e.table(table)
	if err != nil {
		return false, err
	}
	return tree.Delete(key)
}

// ListTables returns every registered table name, sorted.
func (e *Engine) ListTables() ([]string, error) {
	return e.cat.ListTables()
}

// Close flushes every dirty page in the buffer pool. The Engine must not
// be used afterward.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.pool.FlushAll(); err != nil {
		return fmt.Errorf("engine: close: %w", err)
	}
	log.Printf("engine: closed %q", e.cfg.BaseDir)
	return nil
}
