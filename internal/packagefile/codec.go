// Package packagefile implements the binary translation package format: a
// small header, a run of zlib-deflated payload blocks, and a fixed-width
// index trailer, read back via a read-only memory map for O(1) random
// access to any task's translations.
//
// Layout:
//
//	[header, 16B] [payload block 1] [payload block 2] ... [index entry 1] ... [EOF]
//
// The header's index_offset field points at the start of the index region.
package packagefile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"github.com/tgscan/transpipe/internal/domain"
)

const (
	magic          = "MLTR"
	formatVersion  = uint8(1)
	headerSize     = 16 // magic(4) + version(1) + reserved(3) + index_offset(8, u64 BE)
	indexEntrySize = 48 // task_id(36) + size(u32 BE) + offset(u64 BE)
	taskIDFieldLen = 36
)

// Errors returned by the reader. All are non-retriable — a corrupt or
// unsupported package file is never auto-repaired.
var (
	ErrBadMagic          = errors.New("packagefile: bad magic")
	ErrUnsupportedVersion = errors.New("packagefile: unsupported version")
	ErrTruncatedIndex    = errors.New("packagefile: truncated index")
	ErrEntryOverflow     = errors.New("packagefile: index entry overflows file")
	ErrDecompressFailed  = errors.New("packagefile: payload decompress failed")
	ErrTaskNotFound      = errors.New("packagefile: task not found")
)

// TextSource distinguishes a translation derived from the original text
// input from one derived from a speech-to-text transcript.
type TextSource string

const (
	SourceText  TextSource = "TEXT"
	SourceAudio TextSource = "AUDIO"
)

// TaskData is the decoded, in-memory form of one task's payload block: its
// translations grouped by the text they were derived from.
type TaskData struct {
	TaskID       string
	Translations map[TextSource]map[domain.LanguageCode]string
}

// NewTaskData returns an empty TaskData ready to be filled via AddTranslation.
func NewTaskData(taskID string) *TaskData {
	return &TaskData{
		TaskID: taskID,
		Translations: map[TextSource]map[domain.LanguageCode]string{
			SourceText:  {},
			SourceAudio: {},
		},
	}
}

// AddTranslation records one (source, language) -> text entry.
func (t *TaskData) AddTranslation(source TextSource, lang domain.LanguageCode, text string) {
	if t.Translations[source] == nil {
		t.Translations[source] = map[domain.LanguageCode]string{}
	}
	t.Translations[source][lang] = text
}

// GetTranslation looks up a single (source, language) entry.
func (t *TaskData) GetTranslation(source TextSource, lang domain.LanguageCode) (string, bool) {
	m, ok := t.Translations[source]
	if !ok {
		return "", false
	}
	text, ok := m[lang]
	return text, ok
}

// wirePayload is the self-describing JSON shape written to each payload
// block, replacing the original implementation's unsafe str()+eval()
// round trip with an unambiguous, versionable encoding.
type wirePayload struct {
	TaskID       string                                     `json:"task_id"`
	Translations map[TextSource]map[domain.LanguageCode]string `json:"translations"`
}

func (t *TaskData) pack() ([]byte, error) {
	payload := wirePayload{TaskID: t.TaskID, Translations: t.Translations}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate task payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

func unpackTaskData(compressed []byte) (*TaskData, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return &TaskData{TaskID: payload.TaskID, Translations: payload.Translations}, nil
}

// Write encodes an ordered sequence of task records to path: header,
// deflated payload blocks in order, then the fixed-width index. The file
// is written to a temp path in the same directory and renamed into place
// so no reader ever observes a partial write.
func Write(path string, tasks []*TaskData) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pkg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp package file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := writeTo(tmp, tasks); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp package file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename package file into place: %w", err)
	}
	return nil
}

func writeTo(w io.WriteSeeker, tasks []*TaskData) error {
	// Placeholder header; rewritten once index_offset is known.
	if err := writeHeader(w, 0); err != nil {
		return err
	}

	type locatedEntry struct {
		taskID string
		offset uint64
		size   uint32
	}
	entries := make([]locatedEntry, 0, len(tasks))
	offset := uint64(headerSize)

	for _, task := range tasks {
		block, err := task.pack()
		if err != nil {
			return err
		}
		if _, err := w.Write(block); err != nil {
			return fmt.Errorf("write payload block: %w", err)
		}
		entries = append(entries, locatedEntry{taskID: task.TaskID, offset: offset, size: uint32(len(block))})
		offset += uint64(len(block))
	}

	indexOffset := offset
	for _, e := range entries {
		if err := writeIndexEntry(w, e.taskID, e.offset, e.size); err != nil {
			return err
		}
	}

	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}
	return writeHeader(w, indexOffset)
}

func writeHeader(w io.Writer, indexOffset uint64) error {
	var buf [headerSize]byte
	copy(buf[0:4], magic)
	buf[4] = formatVersion
	// bytes 5-7 reserved, left zero
	binary.BigEndian.PutUint64(buf[8:16], indexOffset)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func writeIndexEntry(w io.Writer, taskID string, offset uint64, size uint32) error {
	var buf [indexEntrySize]byte
	if len(taskID) > taskIDFieldLen {
		return fmt.Errorf("%w: task_id %q exceeds %d bytes", ErrEntryOverflow, taskID, taskIDFieldLen)
	}
	copy(buf[0:taskIDFieldLen], taskID)
	binary.BigEndian.PutUint32(buf[36:40], size)
	binary.BigEndian.PutUint64(buf[40:48], offset)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}
	return nil
}

// indexRecord is one decoded index entry, kept in insertion order so
// iteration matches the write-time order (property 8: deterministic
// rewrite of the same inputs produces a byte-identical file).
type indexRecord struct {
	offset uint64
	size   uint32
}

// Package is a read-only, concurrency-safe handle on an opened package
// file. The mmap handle and the in-memory index are immutable after Open,
// so concurrent readers never need to lock.
type Package struct {
	ra    *mmap.ReaderAt
	index map[string]indexRecord
	order []string
}

// Open memory-maps path and decodes its index. The payload blocks are not
// read until Query/GetTask is called.
func Open(path string) (*Package, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap open: %w", err)
	}

	var header [headerSize]byte
	if _, err := ra.ReadAt(header[:], 0); err != nil {
		ra.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != magic {
		ra.Close()
		return nil, ErrBadMagic
	}
	if header[4] != formatVersion {
		ra.Close()
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, header[4])
	}
	indexOffset := binary.BigEndian.Uint64(header[8:16])

	fileSize := int64(ra.Len())
	if int64(indexOffset) > fileSize {
		ra.Close()
		return nil, ErrTruncatedIndex
	}
	indexBytes := fileSize - int64(indexOffset)
	if indexBytes%indexEntrySize != 0 {
		ra.Close()
		return nil, ErrTruncatedIndex
	}

	count := indexBytes / indexEntrySize
	index := make(map[string]indexRecord, count)
	order := make([]string, 0, count)
	entry := make([]byte, indexEntrySize)
	for i := int64(0); i < count; i++ {
		pos := int64(indexOffset) + i*indexEntrySize
		if _, err := ra.ReadAt(entry, pos); err != nil {
			ra.Close()
			return nil, fmt.Errorf("%w: %v", ErrTruncatedIndex, err)
		}
		taskID := string(bytes.TrimRight(entry[0:taskIDFieldLen], "\x00"))
		size := binary.BigEndian.Uint32(entry[36:40])
		offset := binary.BigEndian.Uint64(entry[40:48])
		if offset+uint64(size) > indexOffset {
			ra.Close()
			return nil, ErrEntryOverflow
		}
		if _, exists := index[taskID]; !exists {
			order = append(order, taskID)
		}
		index[taskID] = indexRecord{offset: offset, size: size}
	}

	return &Package{ra: ra, index: index, order: order}, nil
}

// Close releases the memory map.
func (p *Package) Close() error {
	return p.ra.Close()
}

// TaskIDs returns every task_id present in the package, in index order.
func (p *Package) TaskIDs() []string {
	return append([]string(nil), p.order...)
}

// GetTask decodes and returns the full task record for taskID.
func (p *Package) GetTask(taskID string) (*TaskData, error) {
	rec, ok := p.index[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	buf := make([]byte, rec.size)
	if _, err := p.ra.ReadAt(buf, int64(rec.offset)); err != nil {
		return nil, fmt.Errorf("read payload block: %w", err)
	}
	return unpackTaskData(buf)
}

// Query returns the translated text for (taskID, source, lang), or
// ErrTaskNotFound / a "missing" false if the language isn't present.
func (p *Package) Query(taskID string, source TextSource, lang domain.LanguageCode) (string, bool, error) {
	task, err := p.GetTask(taskID)
	if err != nil {
		return "", false, err
	}
	text, ok := task.GetTranslation(source, lang)
	return text, ok, nil
}
