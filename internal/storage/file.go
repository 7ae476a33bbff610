package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/calvinalkan/docbase/pkg/fs"
)

// File is the open handle onto one docbase data file plus its companion
// WAL. Every page write into the live file goes through CommitPages, the
// path that makes a multi-page change durable and crash-consistent (Vacuum
// writes pages only into a temp file it then renames over the live one);
// there is no direct "write this page and fsync" entry point, mirroring how the
// teacher's Store never lets a caller touch the file without going
// through a Tx.
type File struct {
	mu sync.Mutex

	fsys   fs.FS
	path   string
	f      fs.File
	locker *fs.Locker
	lock   *fs.Lock
	wal    *walFile

	header    fileHeader
	freeList  []uint64 // offsets of reclaimed pages, for Vacuum/allocation reuse
}

// Open opens path, acquiring an exclusive flock for the lifetime of the
// handle (the single-open-handle DatabaseBusy guarantee), creating a new
// empty file if it doesn't exist, and replaying any committed-but-not-
// applied WAL record left by a prior crash.
func Open(fsys fs.FS, path string) (*File, error) {
	locker := fs.NewLocker(path + ".lock")
	lock, err := locker.TryLock()
	if err != nil {
		if err == fs.ErrWouldBlock {
			return nil, fmt.Errorf("storage: %w", ErrDatabaseBusy)
		}
		return nil, fmt.Errorf("storage: acquire lock: %w", err)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("storage: %w: open data file: %v", ErrIoFailure, err)
	}

	sf := &File{fsys: fsys, path: path, f: f, locker: locker, lock: lock}

	info, err := f.Stat()
	if err != nil {
		sf.Close()
		return nil, fmt.Errorf("storage: %w: stat data file: %v", ErrIoFailure, err)
	}

	if info.Size() == 0 {
		sf.header = fileHeader{version: formatVersion, catalogOffset: 0, nextPageOffset: headerSize}
		if err := sf.writeHeader(); err != nil {
			sf.Close()
			return nil, err
		}
	} else {
		if err := sf.readHeader(); err != nil {
			sf.Close()
			return nil, err
		}
	}

	wal, err := openWAL(fsys, path+".wal")
	if err != nil {
		sf.Close()
		return nil, err
	}
	sf.wal = wal

	if err := sf.recover(); err != nil {
		sf.Close()
		return nil, err
	}

	return sf, nil
}

func (sf *File) readHeader() error {
	if _, err := sf.f.Seek(0, 0); err != nil {
		return fmt.Errorf("storage: %w: seek header: %v", ErrIoFailure, err)
	}
	buf := make([]byte, headerSize)
	if _, err := readFull(sf.f, buf); err != nil {
		return fmt.Errorf("storage: %w: read header: %v", ErrIoFailure, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	sf.header = h
	return nil
}

func (sf *File) writeHeader() error {
	if _, err := sf.f.Seek(0, 0); err != nil {
		return fmt.Errorf("storage: %w: seek header: %v", ErrIoFailure, err)
	}
	if _, err := sf.f.Write(encodeHeader(sf.header)); err != nil {
		return fmt.Errorf("storage: %w: write header: %v", ErrIoFailure, err)
	}
	return sf.f.Sync()
}

func readFull(f fs.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// recover replays a committed WAL record left over from a crash between
// writeAndCommit and truncate: every op is a page overwrite, so replay is
// idempotent and can run unconditionally on Open.
func (sf *File) recover() error {
	state, body, err := readWALState(sf.fsys, sf.path+".wal")
	if err != nil {
		return err
	}
	switch state {
	case walEmpty:
		return nil
	case walUncommitted:
		// Torn write from a crash mid-append: the intended mutation never
		// reached durability, so it is simply discarded.
		return sf.wal.truncate()
	case walCommitted:
		rec, err := decodeWALOps(body)
		if err != nil {
			return err
		}
		// The on-disk header predates this commit (it was only ever
		// written after the page ops, which never happened before the
		// crash), so the journaled header values, not sf.header as loaded
		// by readHeader, are what applyOps must restore.
		sf.header.catalogOffset = rec.CatalogOffset
		sf.header.nextPageOffset = rec.NextPageOffset
		if err := sf.applyOps(rec.Ops); err != nil {
			return err
		}
		return sf.wal.truncate()
	default:
		return fmt.Errorf("storage: %w: unknown wal state", ErrCorruptFormat)
	}
}

func (sf *File) applyOps(ops []walOp) error {
	for _, op := range ops {
		if _, err := sf.f.Seek(int64(op.Offset), 0); err != nil {
			return fmt.Errorf("storage: %w: seek apply op: %v", ErrIoFailure, err)
		}
		if _, err := sf.f.Write(op.Data); err != nil {
			return fmt.Errorf("storage: %w: write apply op: %v", ErrIoFailure, err)
		}
	}
	if err := sf.f.Sync(); err != nil {
		return fmt.Errorf("storage: %w: fsync apply ops: %v", ErrIoFailure, err)
	}
	return sf.writeHeader()
}

// Close releases the exclusive lock and closes the data file and WAL.
func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	var firstErr error
	if sf.wal != nil {
		if err := sf.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sf.f != nil {
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sf.lock != nil {
		if err := sf.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PendingWrite is one page to be written at a specific offset, or 0 to
// request a freshly allocated offset at the end of the file.
type PendingWrite struct {
	Offset uint64 // 0 means "append"
	Kind   PageKind
	Payload []byte
}

// Applied describes where a PendingWrite with Offset==0 actually landed.
type Applied struct {
	Offset uint64
	Length uint64
}

// CommitPages durably applies a batch of page writes: it writes a WAL
// record describing the post-image of every page touched (so replay is a
// blind overwrite), fsyncs it, applies the pages to the data file, fsyncs
// again, then truncates the WAL. A crash at any point before the WAL fsync
// leaves the data file untouched; a crash after leaves a committed WAL
// that Open's recovery step will replay.
func (sf *File) CommitPages(txnID uint64, writes []PendingWrite, newCatalogOffset *uint64) ([]Applied, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	applied := make([]Applied, len(writes))
	ops := make([]walOp, len(writes))
	cursor := sf.header.nextPageOffset

	for i, w := range writes {
		framed := encodePage(w.Kind, w.Payload)
		offset := w.Offset
		if offset == 0 {
			offset = cursor
			cursor += uint64(len(framed))
		}
		ops[i] = walOp{Offset: offset, Data: framed}
		applied[i] = Applied{Offset: offset, Length: uint64(len(framed))}
	}

	// The header write that finalizes this commit's page allocations and
	// catalog root happens inside applyOps, after the WAL record is
	// durable, so there is exactly one header write per commit and it
	// always reflects the fully-applied post-state.
	newHeader := sf.header
	newHeader.nextPageOffset = cursor
	if newCatalogOffset != nil {
		newHeader.catalogOffset = *newCatalogOffset
	}

	if err := sf.wal.writeAndCommit(txnID, ops, newHeader.catalogOffset, newHeader.nextPageOffset); err != nil {
		return nil, err
	}
	sf.header = newHeader
	if err := sf.applyOps(ops); err != nil {
		return nil, err
	}
	if err := sf.wal.truncate(); err != nil {
		return nil, err
	}
	return applied, nil
}

// ReadPage reads and validates the page at offset.
func (sf *File) ReadPage(offset uint64) (PageKind, []byte, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if _, err := sf.f.Seek(int64(offset), 0); err != nil {
		return 0, nil, fmt.Errorf("storage: %w: seek read page: %v", ErrIoFailure, err)
	}
	hdr := make([]byte, pageHeaderSize)
	if _, err := readFull(sf.f, hdr); err != nil {
		return 0, nil, fmt.Errorf("storage: %w: read page header: %v", ErrIoFailure, err)
	}
	length := le32(hdr[1:5])
	body := make([]byte, pageHeaderSize+int(length))
	copy(body, hdr)
	if _, err := readFull(sf.f, body[pageHeaderSize:]); err != nil {
		return 0, nil, fmt.Errorf("storage: %w: read page payload: %v", ErrIoFailure, err)
	}
	kind, payload, _, err := decodePage(body)
	return kind, payload, err
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// CatalogOffset returns the current root catalog page offset, 0 if none
// has been written yet.
func (sf *File) CatalogOffset() uint64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.header.catalogOffset
}

// NextPageOffset returns the offset the next append-mode (Offset: 0)
// PendingWrite in a CommitPages batch will land at, so a caller that needs
// to embed one page's offset inside another page's payload (the catalog
// referencing collection-meta pages, meta referencing document/index
// pages) can precompute the layout before submitting the batch.
func (sf *File) NextPageOffset() uint64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.header.nextPageOffset
}

// SizeOnDisk returns the total bytes the data file currently occupies.
func (sf *File) SizeOnDisk() (int64, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	info, err := sf.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("storage: %w: stat: %v", ErrIoFailure, err)
	}
	return info.Size(), nil
}

// HeaderSize returns the fixed file header size in bytes, i.e. the offset
// the first page always starts at. Exported so internal/catalog can lay
// out a from-scratch page sequence for Vacuum without duplicating the
// constant.
func HeaderSize() uint64 { return headerSize }

// SetCatalogOffset records a new catalog root by rewriting the header
// directly; the write is not covered by any WAL record. CommitPages's
// newCatalogOffset argument is the WAL-covered way to move the root in
// the same commit as the pages it points at.
func (sf *File) SetCatalogOffset(offset uint64) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.header.catalogOffset = offset
	return sf.writeHeader()
}

// Reclaim adds a page's offset to the free list. Nothing in the engine
// calls it, and CommitPages never allocates from the free list; Vacuum
// clears it.
func (sf *File) Reclaim(offset uint64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.freeList = append(sf.freeList, offset)
}

// Vacuum compacts the file by rewriting all live pages contiguously from
// headerSize and dropping free-listed pages, via the teacher's own
// atomic-write pattern (temp file + fsync + rename) so a crash mid-vacuum
// never corrupts the live file.
func (sf *File) Vacuum(livePages func() ([]PendingWrite, uint64, error)) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	writes, catalogOffset, err := livePages()
	if err != nil {
		return err
	}

	tmpPath := sf.path + ".vacuum.tmp"
	tmp, err := sf.fsys.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: %w: open vacuum temp: %v", ErrIoFailure, err)
	}

	cursor := uint64(headerSize)
	newOffsets := make([]uint64, len(writes))
	for i, w := range writes {
		framed := encodePage(w.Kind, w.Payload)
		if _, err := tmp.Seek(int64(cursor), 0); err != nil {
			tmp.Close()
			return fmt.Errorf("storage: %w: seek vacuum temp: %v", ErrIoFailure, err)
		}
		if _, err := tmp.Write(framed); err != nil {
			tmp.Close()
			return fmt.Errorf("storage: %w: write vacuum temp: %v", ErrIoFailure, err)
		}
		newOffsets[i] = cursor
		cursor += uint64(len(framed))
	}

	newHeader := fileHeader{version: formatVersion, catalogOffset: catalogOffset, nextPageOffset: cursor}
	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: %w: seek vacuum header: %v", ErrIoFailure, err)
	}
	if _, err := tmp.Write(encodeHeader(newHeader)); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: %w: write vacuum header: %v", ErrIoFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: %w: fsync vacuum temp: %v", ErrIoFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: %w: close vacuum temp: %v", ErrIoFailure, err)
	}

	if err := sf.f.Close(); err != nil {
		return fmt.Errorf("storage: %w: close live file before vacuum rename: %v", ErrIoFailure, err)
	}
	if err := sf.fsys.Rename(tmpPath, sf.path); err != nil {
		return fmt.Errorf("storage: %w: rename vacuum temp: %v", ErrIoFailure, err)
	}

	f, err := sf.fsys.OpenFile(sf.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("storage: %w: reopen after vacuum: %v", ErrIoFailure, err)
	}
	sf.f = f
	sf.header = newHeader
	sf.freeList = nil
	return nil
}
