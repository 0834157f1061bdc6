package pagestore

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dbathon/pagestore/mmap"
)

// fileBackendMagic identifies a pagestore FileBackend file.
const fileBackendMagic uint64 = 0x70616765_53746f72 // "page" "Stor"

// fileHeaderSize is the fixed header preceding the Index Page slot:
// magic(8) + max_index_page_size(4) + index_tx_id(8) + index_len(4) + pad(8).
const fileHeaderSize = 32

// dirRecordHeaderSize is the on-disk record framing one page write in the
// data log: page_number(4) + tx_id(8) + length(4).
const dirRecordHeaderSize = 16

// FileBackend is a real, persisted Backend (§6): the Index Page lives in a
// fixed, mmap'd slot at the front of the file (grounded in the teacher's
// `mmap` package); backend pages are appended to a log-structured data
// region read and written via plain file I/O, fronted by a bounded
// github.com/hashicorp/golang-lru read cache so repeated reads of hot
// pages skip the pread syscall. A single exclusive file lock, in the style
// of the teacher's lock.go flock usage, guards against two processes
// opening the same file at once; it is not a substitute for the backend's
// own CAS write contract, which remains the source of truth for commits.
//
// The data region is append-only: the directory built at open time is
// recovered by scanning every record in file order and keeping, per page
// number, only the most recent one. A record whose declared length runs
// past the end of the file (the signature of a write that was interrupted
// mid-append) is discarded along with everything after it, truncating the
// file back to the last complete record.
type FileBackend struct {
	maxPageSize uint32
	file        *os.File
	header      *mmap.Map // mmap of [0, fileHeaderSize+indexCap)
	indexCap    uint32

	mu        sync.Mutex
	indexTxID uint64
	indexLen  uint32
	dir       map[uint32]fileDirEntry
	dataEnd   int64
	readCache *lru.Cache
}

type fileDirEntry struct {
	txID   uint64
	offset int64
	length uint32
}

// NewFileBackend opens (creating if necessary) a file-backed Backend at
// path. maxPageSize bounds the size of any single backend page this
// instance will accept; maxIndexPageSize bounds the Index Page slot
// reserved at the front of the file. cacheSize is the number of raw page
// reads the LRU cache keeps before evicting.
func NewFileBackend(path string, maxPageSize, maxIndexPageSize uint32, cacheSize int) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, WrapError(ErrBackend, err)
	}
	if err := lockFileExclusive(f); err != nil {
		f.Close()
		return nil, err
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		f.Close()
		return nil, WrapError(ErrInvalidArgument, err)
	}

	b := &FileBackend{
		maxPageSize: maxPageSize,
		file:        f,
		indexCap:    maxIndexPageSize,
		dir:         make(map[uint32]fileDirEntry),
		readCache:   cache,
	}

	if err := b.openOrInit(); err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) openOrInit() error {
	prefixSize := int64(fileHeaderSize) + int64(b.indexCap)

	fi, err := b.file.Stat()
	if err != nil {
		return WrapError(ErrBackend, err)
	}

	if fi.Size() == 0 {
		if err := b.file.Truncate(prefixSize); err != nil {
			return WrapError(ErrBackend, err)
		}
		fi, err = b.file.Stat()
		if err != nil {
			return WrapError(ErrBackend, err)
		}
	}
	if fi.Size() < prefixSize {
		return NewError(ErrFormat, "file backend file smaller than header + index slot")
	}

	m, err := mmap.New(int(b.file.Fd()), 0, int(prefixSize), true)
	if err != nil {
		return WrapError(ErrBackend, err)
	}
	b.header = m

	magic := binary.BigEndian.Uint64(m.Data()[0:8])
	if magic == 0 {
		binary.BigEndian.PutUint64(m.Data()[0:8], fileBackendMagic)
		binary.BigEndian.PutUint32(m.Data()[8:12], b.indexCap)
	} else {
		if magic != fileBackendMagic {
			return NewError(ErrFormat, "not a pagestore file backend file")
		}
		storedCap := binary.BigEndian.Uint32(m.Data()[8:12])
		if storedCap != b.indexCap {
			return NewError(ErrFormat, "max_index_page_size does not match file")
		}
	}
	b.indexTxID = binary.BigEndian.Uint64(m.Data()[12:20])
	b.indexLen = binary.BigEndian.Uint32(m.Data()[20:24])

	b.dataEnd = prefixSize
	return b.scanDataLog(fi.Size(), prefixSize)
}

// scanDataLog replays the append-only data region from prefixSize to
// fileSize, rebuilding b.dir. It stops (and will later truncate the file)
// at the first record that doesn't fully fit, which is how a crash mid-
// append is detected and recovered from.
func (b *FileBackend) scanDataLog(fileSize, prefixSize int64) error {
	pos := prefixSize
	var hdr [dirRecordHeaderSize]byte
	for pos+dirRecordHeaderSize <= fileSize {
		if _, err := b.file.ReadAt(hdr[:], pos); err != nil && err != io.EOF {
			return WrapError(ErrBackend, err)
		}
		pageNumber := binary.BigEndian.Uint32(hdr[0:4])
		txID := binary.BigEndian.Uint64(hdr[4:12])
		length := binary.BigEndian.Uint32(hdr[12:16])
		dataStart := pos + dirRecordHeaderSize
		if dataStart+int64(length) > fileSize {
			break
		}
		b.dir[pageNumber] = fileDirEntry{txID: txID, offset: dataStart, length: length}
		pos = dataStart + int64(length)
	}
	b.dataEnd = pos
	if pos < fileSize {
		return b.file.Truncate(pos)
	}
	return nil
}

func (b *FileBackend) MaxPageSize() uint32 {
	return b.maxPageSize
}

func (b *FileBackend) ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageID) (ReadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result ReadResult
	if includeIndex {
		bytes := make([]byte, b.indexLen)
		copy(bytes, b.header.Data()[fileHeaderSize:fileHeaderSize+int(b.indexLen)])
		result.Index = &IndexRead{TxID: b.indexTxID, Bytes: bytes}
	}

	for _, id := range ids {
		entry, ok := b.dir[id.PageNumber]
		if !ok || entry.txID != id.TxID {
			continue
		}
		bytes, err := b.readPageLocked(id, entry)
		if err != nil {
			return ReadResult{}, err
		}
		result.Pages = append(result.Pages, PageRead{ID: id, Bytes: bytes})
	}
	return result, nil
}

func (b *FileBackend) readPageLocked(id BackendPageID, entry fileDirEntry) ([]byte, error) {
	if cached, ok := b.readCache.Get(id); ok {
		out := make([]byte, len(cached.([]byte)))
		copy(out, cached.([]byte))
		return out, nil
	}

	buf := make([]byte, entry.length)
	if _, err := b.file.ReadAt(buf, entry.offset); err != nil {
		return nil, WrapError(ErrBackend, err)
	}
	b.readCache.Add(id, buf)
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (b *FileBackend) WritePages(ctx context.Context, newIndex IndexWrite, prevTxID uint64, pages []PageWrite) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.indexTxID != prevTxID {
		return false, nil
	}
	if uint32(len(newIndex.Bytes)) > b.indexCap {
		return false, NewError(ErrInvalidArgument, "index bytes exceed the file backend's reserved index slot")
	}

	for _, pw := range pages {
		if uint32(len(pw.Bytes)) > b.maxPageSize {
			return false, NewError(ErrInvalidArgument, "page bytes exceed max_page_size")
		}

		var rec [dirRecordHeaderSize]byte
		binary.BigEndian.PutUint32(rec[0:4], pw.ID.PageNumber)
		binary.BigEndian.PutUint64(rec[4:12], pw.ID.TxID)
		binary.BigEndian.PutUint32(rec[12:16], uint32(len(pw.Bytes)))

		offset := b.dataEnd
		if _, err := b.file.WriteAt(rec[:], offset); err != nil {
			return false, WrapError(ErrBackend, err)
		}
		if len(pw.Bytes) > 0 {
			if _, err := b.file.WriteAt(pw.Bytes, offset+dirRecordHeaderSize); err != nil {
				return false, WrapError(ErrBackend, err)
			}
		}
		dataStart := offset + dirRecordHeaderSize
		b.dir[pw.ID.PageNumber] = fileDirEntry{txID: pw.ID.TxID, offset: dataStart, length: uint32(len(pw.Bytes))}
		b.dataEnd = dataStart + int64(len(pw.Bytes))
		b.readCache.Remove(BackendPageID{PageNumber: pw.ID.PageNumber, TxID: pw.ID.TxID})
	}

	copy(b.header.Data()[fileHeaderSize:], newIndex.Bytes)
	binary.BigEndian.PutUint64(b.header.Data()[12:20], newIndex.TxID)
	binary.BigEndian.PutUint32(b.header.Data()[20:24], uint32(len(newIndex.Bytes)))
	b.indexTxID = newIndex.TxID
	b.indexLen = uint32(len(newIndex.Bytes))

	if err := b.header.Sync(); err != nil {
		return false, WrapError(ErrBackend, err)
	}
	if err := b.file.Sync(); err != nil {
		return false, WrapError(ErrBackend, err)
	}
	return true, nil
}

// Close flushes and releases the backend's file handle and lock.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.header != nil {
		if err := b.header.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := unlockFile(b.file); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
