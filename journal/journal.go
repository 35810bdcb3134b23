// Package journal is a file-backed Recorder that mirrors committed state
// changes into append-only JSONL segments. Each line carries an xxh3 checksum
// of its payload so replay can detect torn or corrupted entries. Segments
// rotate at a size threshold and can be zstd-compressed.
//
// The journal is a mirror, not the system of record: the engine's storage
// keeps the authoritative audit log, and journal write failures after a
// committed transition are logged by the engine rather than surfaced.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/statecraft-io/statecraft/machine"
)

var (
	ErrJournalClosed     = errors.New("journal already closed")
	ErrChecksumMismatch  = errors.New("journal entry checksum mismatch")
	ErrMalformedEntry    = errors.New("malformed journal entry")
	ErrDirectoryRequired = errors.New("journal directory required")
)

const (
	plainSuffix      = ".jsonl"
	compressedSuffix = ".jsonl.zst"

	defaultMaxSegmentSize = 64 << 20
)

// entry is one journal line: the raw change payload plus the xxh3 hash of
// those exact bytes.
type entry struct {
	Checksum string          `json:"checksum"`
	Change   json.RawMessage `json:"change"`
}

// Journal implements machine.Recorder on a directory of segment files.
// Appends stage in memory per record; Commit writes the record's staged
// entries to the active segment.
type Journal struct {
	mu sync.Mutex

	dir        string
	compress   bool
	maxSegment int64

	staged map[string][]machine.StateChange

	segmentSeq  int
	segmentSize int64
	file        *os.File
	zw          *zstd.Encoder
	buf         *bufio.Writer
	closed      bool
}

type Option func(*Journal)

// WithCompression enables zstd compression for new segments.
func WithCompression() Option {
	return func(j *Journal) {
		j.compress = true
	}
}

// WithMaxSegmentSize sets the rotation threshold in bytes.
func WithMaxSegmentSize(size int64) Option {
	return func(j *Journal) {
		j.maxSegment = size
	}
}

// New opens a journal in the directory, creating it if needed. New segments
// are numbered after any already present so replay order survives restarts.
func New(dir string, opts ...Option) (*Journal, error) {
	if dir == "" {
		return nil, ErrDirectoryRequired
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		dir:        dir,
		maxSegment: defaultMaxSegmentSize,
		staged:     make(map[string][]machine.StateChange),
	}

	for _, opt := range opts {
		opt(j)
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	j.segmentSeq = len(segments)

	return j, nil
}

// Append stages a change for the record. Nothing reaches disk until Commit.
func (j *Journal) Append(_ context.Context, rec machine.Record, change machine.StateChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	j.staged[rec.ID()] = append(j.staged[rec.ID()], change)

	return nil
}

// Commit writes the record's staged changes to the active segment and
// flushes them.
func (j *Journal) Commit(_ context.Context, rec machine.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	changes := j.staged[rec.ID()]
	if len(changes) == 0 {
		return nil
	}

	delete(j.staged, rec.ID())

	for _, change := range changes {
		if err := j.writeEntry(change); err != nil {
			return err
		}
	}

	return j.flush()
}

// Discard drops the record's staged changes.
func (j *Journal) Discard(rec machine.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.staged, rec.ID())
}

// Close flushes and closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.closeSegment()
}

// Replay reads every segment in order and calls fn for each entry. It stops
// at the first callback error, checksum mismatch, or malformed line. The
// journal lock is held for the whole replay to keep concurrent commits from
// interleaving with the read, so fn must not call back into the journal.
func (j *Journal) Replay(fn func(machine.StateChange) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flush(); err != nil {
			return err
		}
	}

	segments, err := listSegments(j.dir)
	if err != nil {
		return err
	}

	for _, segment := range segments {
		if err := replaySegment(filepath.Join(j.dir, segment), fn); err != nil {
			return err
		}
	}

	return nil
}

func (j *Journal) writeEntry(change machine.StateChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode state change %s: %w", change.ID, err)
	}

	line, err := json.Marshal(entry{
		Checksum: fmt.Sprintf("%016x", xxh3.Hash(payload)),
		Change:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode journal entry %s: %w", change.ID, err)
	}

	line = append(line, '\n')

	if j.buf == nil || j.segmentSize >= j.maxSegment {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	if _, err := j.buf.Write(line); err != nil {
		return fmt.Errorf("failed to write journal entry %s: %w", change.ID, err)
	}

	j.segmentSize += int64(len(line))

	return nil
}

func (j *Journal) segmentName(seq int) string {
	suffix := plainSuffix
	if j.compress {
		suffix = compressedSuffix
	}

	return fmt.Sprintf("segment-%06d%s", seq, suffix)
}

func (j *Journal) rotate() error {
	if err := j.closeSegment(); err != nil {
		return err
	}

	name := j.segmentName(j.segmentSeq)
	j.segmentSeq++

	file, err := os.OpenFile(filepath.Join(j.dir, name), //nolint:gosec // journal-owned path
		os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", name, err)
	}

	j.file = file
	j.segmentSize = 0

	if j.compress {
		zw, err := zstd.NewWriter(file)
		if err != nil {
			file.Close() //nolint:errcheck,gosec // open failed, best-effort cleanup

			return fmt.Errorf("failed to open zstd writer for %s: %w", name, err)
		}

		j.zw = zw
		j.buf = bufio.NewWriter(zw)
	} else {
		j.buf = bufio.NewWriter(file)
	}

	return nil
}

func (j *Journal) flush() error {
	if j.buf == nil {
		return nil
	}

	if err := j.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}

	if j.zw != nil {
		if err := j.zw.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressed journal: %w", err)
		}
	}

	return nil
}

func (j *Journal) closeSegment() error {
	if j.file == nil {
		return nil
	}

	if err := j.flush(); err != nil {
		return err
	}

	if j.zw != nil {
		if err := j.zw.Close(); err != nil {
			return fmt.Errorf("failed to close compressed segment: %w", err)
		}

		j.zw = nil
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	j.file = nil
	j.buf = nil

	return nil
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal directory: %w", err)
	}

	var segments []string

	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, plainSuffix) || strings.HasSuffix(name, compressedSuffix) {
			segments = append(segments, name)
		}
	}

	sort.Strings(segments)

	return segments, nil
}

func replaySegment(path string, fn func(machine.StateChange) error) error {
	file, err := os.Open(path) //nolint:gosec // journal-owned path
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // read-only

	var reader io.Reader = file

	compressed := strings.HasSuffix(path, compressedSuffix)

	if compressed {
		zr, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to open zstd reader for %s: %w", path, err)
		}
		defer zr.Close()

		reader = zr
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	line := 0

	for scanner.Scan() {
		line++

		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("%w: %s line %d: %v", ErrMalformedEntry, path, line, err)
		}

		if fmt.Sprintf("%016x", xxh3.Hash(e.Change)) != e.Checksum {
			return fmt.Errorf("%w: %s line %d", ErrChecksumMismatch, path, line)
		}

		var change machine.StateChange
		if err := json.Unmarshal(e.Change, &change); err != nil {
			return fmt.Errorf("%w: %s line %d: %v", ErrMalformedEntry, path, line, err)
		}

		if err := fn(change); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		// The active compressed segment has no frame terminator until the
		// journal is closed. Flushes happen on entry boundaries, so the
		// frame just ends after the last committed entry.
		if compressed && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}

		return fmt.Errorf("failed to read segment %s: %w", path, err)
	}

	return nil
}
