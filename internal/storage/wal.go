package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/google/uuid"

	"github.com/calvinalkan/docbase/pkg/fs"
)

// walMagic/walFooterSize/the footer-redundancy scheme (length, inverted
// length, CRC, inverted CRC) and the three-state recovery machine are
// adapted line-for-line from this module family's ticket-store WAL, which
// uses the same trick to detect a footer torn by a mid-write crash: a
// flipped bit in either the length or CRC very likely fails both the
// plain and inverted comparison simultaneously.
const (
	walMagic       = "DOCBWAL1"
	walFooterSize  = 32 // magic(8) + length(4) + ^length(4) + crc(4) + ^crc(4) + pad(8)
)

type walState int

const (
	walEmpty walState = iota
	walUncommitted
	walCommitted
)

// walOp is one durable intent: overwrite the page at Offset with Data.
// Replaying a committed WAL means applying every op in order then
// truncating the log.
type walOp struct {
	Offset uint64 `json:"offset"`
	Data   []byte `json:"data"`
}

// walRecord is the JSON body written before the footer. TxnID correlates
// the record with internal/txn's transaction id; CorrelationID is a random
// identifier logged for operational tracing, not used by recovery logic
// itself. CatalogOffset/NextPageOffset are the post-commit header values:
// journaling them alongside the page ops means replay can restore the
// header exactly as it would have ended up had the crash not happened,
// instead of reconstructing it from the stale on-disk header.
type walRecord struct {
	TxnID          uint64  `json:"txn_id"`
	CorrelationID  string  `json:"correlation_id"`
	Ops            []walOp `json:"ops"`
	CatalogOffset  uint64  `json:"catalog_offset"`
	NextPageOffset uint64  `json:"next_page_offset"`
}

type walFile struct {
	fsys fs.FS
	path string
	f    fs.File
}

func openWAL(fsys fs.FS, path string) (*walFile, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: %w: open wal: %v", ErrIoFailure, err)
	}
	return &walFile{fsys: fsys, path: path, f: f}, nil
}

func (w *walFile) Close() error {
	return w.f.Close()
}

// writeAndCommit writes a record body plus footer and fsyncs before
// returning, so a process crash after this call returns is guaranteed to
// see the record as committed on the next Open. catalogOffset/nextPageOffset
// are the header values the commit will produce once its pages are applied;
// recovery restores them verbatim rather than recomputing them.
func (w *walFile) writeAndCommit(txnID uint64, ops []walOp, catalogOffset, nextPageOffset uint64) error {
	body, err := json.Marshal(walRecord{
		TxnID:          txnID,
		CorrelationID:  uuid.NewString(),
		Ops:            ops,
		CatalogOffset:  catalogOffset,
		NextPageOffset: nextPageOffset,
	})
	if err != nil {
		return fmt.Errorf("storage: encode wal record: %w", err)
	}

	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("storage: %w: seek wal: %v", ErrIoFailure, err)
	}
	if _, err := w.f.Write(body); err != nil {
		return fmt.Errorf("storage: %w: write wal body: %v", ErrIoFailure, err)
	}
	footer := encodeWALFooter(body)
	if _, err := w.f.Write(footer); err != nil {
		return fmt.Errorf("storage: %w: write wal footer: %v", ErrIoFailure, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("storage: %w: fsync wal: %v", ErrIoFailure, err)
	}
	return nil
}

// truncate discards the WAL body after its ops have been applied to pages
// and the page file itself has been fsynced.
func (w *walFile) truncate() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("storage: %w: truncate wal: %v", ErrIoFailure, err)
	}
	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("storage: %w: seek wal after truncate: %v", ErrIoFailure, err)
	}
	return w.f.Sync()
}

func encodeWALFooter(body []byte) []byte {
	bodyLen := uint32(len(body))
	crc := crc32.Checksum(body, crcTable)

	buf := make([]byte, 0, walFooterSize)
	buf = append(buf, walMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, bodyLen)
	buf = binary.LittleEndian.AppendUint32(buf, ^bodyLen)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	buf = binary.LittleEndian.AppendUint32(buf, ^crc)
	buf = append(buf, make([]byte, walFooterSize-len(buf))...)
	return buf
}

// readWALState inspects the file's tail footer and reports whether the log
// is empty, holds an uncommitted (torn) write, or holds a fully committed
// record ready for replay. body is the record bytes when state is
// walCommitted.
func readWALState(fsys fs.FS, path string) (walState, []byte, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return walEmpty, nil, nil
		}
		return walEmpty, nil, fmt.Errorf("storage: %w: read wal: %v", ErrIoFailure, err)
	}
	if len(data) == 0 {
		return walEmpty, nil, nil
	}
	if len(data) < walFooterSize {
		return walUncommitted, nil, nil
	}

	footer := data[len(data)-walFooterSize:]
	if string(footer[:8]) != walMagic {
		return walUncommitted, nil, nil
	}
	length := binary.LittleEndian.Uint32(footer[8:12])
	invLength := binary.LittleEndian.Uint32(footer[12:16])
	if length != ^invLength {
		return walUncommitted, nil, nil
	}
	crcA := binary.LittleEndian.Uint32(footer[16:20])
	invCRCB := binary.LittleEndian.Uint32(footer[20:24])
	if crcA != ^invCRCB {
		return walUncommitted, nil, nil
	}

	body := data[:len(data)-walFooterSize]
	if uint32(len(body)) != length {
		return walUncommitted, nil, nil
	}
	if crc32.Checksum(body, crcTable) != crcA {
		return walUncommitted, nil, nil
	}
	return walCommitted, body, nil
}

func decodeWALOps(body []byte) (walRecord, error) {
	var rec walRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return walRecord{}, fmt.Errorf("storage: %w: decode wal record: %v", ErrCorruptFormat, err)
	}
	return rec, nil
}
