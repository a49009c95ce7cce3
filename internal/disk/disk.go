// Package disk implements the storage core's Disk Manager: it maps a
// (tableId, pageIndex) pair to a byte offset inside a per-table file and
// provides page-granular reads and writes.
//
// The file/directory primitives underneath (open, positional read/write,
// length, extend) are treated as an external collaborator — here that
// collaborator is simply *os.File's positional I/O, the same way the
// teacher's pager.go drives *os.File directly in readPageRaw/writePageRaw
// rather than wrapping it in its own abstraction.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"relstore/internal/storeerr"
)

// PageSize is the fixed size of every page in bytes.
const PageSize = 8192

// InvalidPageIndex marks an absent page link.
const InvalidPageIndex int32 = -1

// PageID identifies a page within the instance.
type PageID struct {
	TableID   int32
	PageIndex int32
}

// String renders a PageID for logs and error messages.
func (id PageID) String() string {
	return fmt.Sprintf("(table=%d,page=%d)", id.TableID, id.PageIndex)
}

// Manager is the Disk Manager's public contract (spec.md §4.1).
type Manager interface {
	ReadPage(id PageID, buf []byte) error
	WritePage(id PageID, buf []byte) error
	AllocatePage(tableID int32) (PageID, error)
	CreateTableFile(tableID int32) error
}

// FileManager is the default Manager: one regular file per table under a
// base directory, named "<tableId><ext>".
type FileManager struct {
	baseDir string
	ext     string

	mu    sync.Mutex
	files map[int32]*os.File
}

// NewFileManager creates a FileManager rooted at baseDir. baseDir is
// created if it does not already exist. ext is the per-table file suffix
// (e.g. ".tbl"); a leading dot is added if the caller omits one.
func NewFileManager(baseDir, ext string) (*FileManager, error) {
	if ext == "" {
		ext = ".tbl"
	} else if ext[0] != '.' {
		ext = "." + ext
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create base dir %q: %w", baseDir, err)
	}
	return &FileManager{
		baseDir: baseDir,
		ext:     ext,
		files:   make(map[int32]*os.File),
	}, nil
}

func (m *FileManager) path(tableID int32) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("%d%s", tableID, m.ext))
}

// CreateTableFile idempotently ensures the table's file exists.
func (m *FileManager) CreateTableFile(tableID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.openLocked(tableID, true)
	return err
}

// openLocked returns the cached *os.File for tableID, opening (and
// optionally creating) it on first use. m.mu must be held.
func (m *FileManager) openLocked(tableID int32, create bool) (*os.File, error) {
	if f, ok := m.files[tableID]; ok {
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(m.path(tableID), flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("disk: %w: table %d", storeerr.ErrFileNotFound, tableID)
		}
		return nil, fmt.Errorf("disk: open table %d: %w", tableID, err)
	}
	m.files[tableID] = f
	return f, nil
}

// ReadPage reads exactly PageSize bytes for id into buf.
func (m *FileManager) ReadPage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("disk: ReadPage: buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	m.mu.Lock()
	f, err := m.openLocked(id.TableID, false)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	off := int64(id.PageIndex) * int64(PageSize)
	n, err := f.ReadAt(buf, off)
	if err != nil || n != PageSize {
		if err == nil {
			err = fmt.Errorf("short read: got %d of %d bytes", n, PageSize)
		}
		return fmt.Errorf("disk: read %s: %w", id, err)
	}
	return nil
}

// WritePage writes exactly PageSize bytes for id at pageIndex*PageSize,
// creating the file if absent and zero-filling any gap so that a write to
// a non-contiguous page index leaves prior pages as zeros.
func (m *FileManager) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("disk: WritePage: buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.openLocked(id.TableID, true)
	if err != nil {
		return err
	}
	if err := m.zeroFillLocked(f, id.PageIndex); err != nil {
		return err
	}
	off := int64(id.PageIndex) * int64(PageSize)
	if _, err := f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("disk: write %s: %w", id, err)
	}
	return nil
}

// zeroFillLocked extends f so that page pageIndex can be written, filling
// any gap between the current length and pageIndex*PageSize with zeros.
// m.mu must be held.
func (m *FileManager) zeroFillLocked(f *os.File, pageIndex int32) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("disk: stat: %w", err)
	}
	wantLen := int64(pageIndex+1) * int64(PageSize)
	if info.Size() >= wantLen {
		return nil
	}
	gap := wantLen - info.Size()
	zeros := make([]byte, gap)
	if _, err := f.WriteAt(zeros, info.Size()); err != nil {
		return fmt.Errorf("disk: zero-fill: %w", err)
	}
	return nil
}

// AllocatePage returns the next page index for tableID (file_length /
// PageSize) and extends the file by one zero-filled page. A non-aligned
// tail on an existing file is treated as unreferenced padding: the
// returned index is the integer quotient.
func (m *FileManager) AllocatePage(tableID int32) (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.openLocked(tableID, true)
	if err != nil {
		return PageID{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return PageID{}, fmt.Errorf("disk: stat table %d: %w", tableID, err)
	}
	idx := int32(info.Size() / PageSize)
	id := PageID{TableID: tableID, PageIndex: idx}
	if err := m.zeroFillLocked(f, idx); err != nil {
		return PageID{}, err
	}
	return id, nil
}

// Close closes every open table file. Safe to call once at shutdown.
func (m *FileManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for id, f := range m.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("disk: close table %d: %w", id, err)
		}
	}
	m.files = make(map[int32]*os.File)
	return first
}

var _ Manager = (*FileManager)(nil)
