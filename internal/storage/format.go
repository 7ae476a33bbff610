// Package storage implements the single-file, page-based on-disk format:
// a fixed header, a catalog page, per-collection metadata pages, document
// and index pages, and a companion write-ahead commit log used to make
// multi-page commits crash-consistent. The page header layout and CRC
// scheme are adapted from the slot-cache binary format used elsewhere in
// this module family.
package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// fileMagic identifies a docbase data file. version is bumped whenever the
// on-disk page or header layout changes incompatibly.
const (
	fileMagic     = "DOCB"
	formatVersion = uint32(1)
)

// fileHeader occupies the first headerSize bytes of the data file.
//
//	offset  size  field
//	0       4     magic "DOCB"
//	4       4     version
//	8       8     catalogOffset  (0 if catalog not yet written)
//	16      8     nextPageOffset (append cursor / end of allocated pages)
//	24      4     headerCRC32C (over bytes [0,24))
const (
	offMagic          = 0
	offVersion        = 4
	offCatalogOffset  = 8
	offNextPageOffset = 16
	offHeaderCRC      = 24
	headerSize        = 32
)

type fileHeader struct {
	version        uint32
	catalogOffset  uint64
	nextPageOffset uint64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[offMagic:], fileMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.version)
	binary.LittleEndian.PutUint64(buf[offCatalogOffset:], h.catalogOffset)
	binary.LittleEndian.PutUint64(buf[offNextPageOffset:], h.nextPageOffset)
	crc := crc32.Checksum(buf[:offHeaderCRC], crcTable)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC:], crc)
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, fmt.Errorf("storage: %w: header truncated", ErrCorruptFormat)
	}
	if string(buf[offMagic:offMagic+4]) != fileMagic {
		return fileHeader{}, fmt.Errorf("storage: %w: bad magic", ErrCorruptFormat)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[offHeaderCRC:])
	gotCRC := crc32.Checksum(buf[:offHeaderCRC], crcTable)
	if wantCRC != gotCRC {
		return fileHeader{}, fmt.Errorf("storage: %w: header checksum mismatch", ErrCorruptFormat)
	}
	h := fileHeader{
		version:        binary.LittleEndian.Uint32(buf[offVersion:]),
		catalogOffset:  binary.LittleEndian.Uint64(buf[offCatalogOffset:]),
		nextPageOffset: binary.LittleEndian.Uint64(buf[offNextPageOffset:]),
	}
	if h.version != formatVersion {
		return fileHeader{}, fmt.Errorf("storage: %w: file version %d, engine supports %d", ErrVersionMismatch, h.version, formatVersion)
	}
	return h, nil
}

// PageKind tags the payload kind stored in a page, per spec's storage
// layout: catalog, collection metadata, document blocks, index nodes, and
// free (reclaimed) pages. Commit log records live in the companion WAL
// file, not as a page kind here.
type PageKind byte

const (
	PageCatalog PageKind = iota + 1
	PageCollectionMeta
	PageDocumentBlock
	PageIndexNode
	PageFree
)

// pageHeaderSize is {kind byte, length uint32, crc32 uint32}.
const pageHeaderSize = 1 + 4 + 4

// encodePage frames payload with a page header: kind byte, little-endian
// length, and a CRC32-Castagnoli checksum over payload.
func encodePage(kind PageKind, payload []byte) []byte {
	buf := make([]byte, 0, pageHeaderSize+len(payload))
	buf = append(buf, byte(kind))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	crc := crc32.Checksum(payload, crcTable)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	buf = append(buf, payload...)
	return buf
}

// decodePage parses one page starting at buf[0], returning its kind,
// payload, and total bytes consumed (header + payload).
func decodePage(buf []byte) (PageKind, []byte, int, error) {
	if len(buf) < pageHeaderSize {
		return 0, nil, 0, fmt.Errorf("storage: %w: page header truncated", ErrCorruptFormat)
	}
	kind := PageKind(buf[0])
	length := binary.LittleEndian.Uint32(buf[1:5])
	wantCRC := binary.LittleEndian.Uint32(buf[5:9])
	if uint64(len(buf)) < uint64(pageHeaderSize)+uint64(length) {
		return 0, nil, 0, fmt.Errorf("storage: %w: page payload truncated", ErrCorruptFormat)
	}
	payload := buf[pageHeaderSize : pageHeaderSize+int(length)]
	gotCRC := crc32.Checksum(payload, crcTable)
	if wantCRC != gotCRC {
		return 0, nil, 0, fmt.Errorf("storage: %w: page checksum mismatch", ErrCorruptFormat)
	}
	return kind, payload, pageHeaderSize + int(length), nil
}
