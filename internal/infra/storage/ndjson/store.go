// Package ndjson stores the record streams as newline-delimited JSON files,
// one file per record type, in a single directory.
package ndjson

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/recovery"
	"github.com/gabapcia/rpcparity/internal/sampler"
	"github.com/gabapcia/rpcparity/internal/stats"

	"github.com/spf13/afero"
)

const (
	// maxLineSize bounds a single record line.
	maxLineSize = 4 << 20

	readBufferSize = 64 * 1024
)

// FileNames maps a record type to the file of its stream.
var FileNames = map[record.Type]string{
	record.TypeSample:   "samples.ndjson",
	record.TypeMismatch: "mismatches.ndjson",
	record.TypeRecovery: "recoveries.ndjson",
	record.TypeError:    "errors.ndjson",
}

type store struct {
	mu      sync.Mutex
	fs      afero.Fs
	dir     string
	maxLine int
	files   map[record.Type]afero.File
}

var (
	_ sampler.RecordStorage  = (*store)(nil)
	_ recovery.RecordStorage = (*store)(nil)
	_ stats.RecordReader     = (*store)(nil)
)

func (s *store) path(t record.Type) string {
	return filepath.Join(s.dir, FileNames[t])
}

// file returns the append handle of stream t, opening it on first use.
// Callers hold s.mu.
func (s *store) file(t record.Type) (afero.File, error) {
	if f, ok := s.files[t]; ok {
		return f, nil
	}

	f, err := s.fs.OpenFile(s.path(t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s.files[t] = f
	return f, nil
}

// Append writes r as one line of its stream. Each record is written with a
// single call while holding the store lock, so lines never interleave.
func (s *store) Append(_ context.Context, r record.Record) error {
	line, err := record.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(r.RecordType())
	if err != nil {
		return fmt.Errorf("open %s stream: %w", r.RecordType(), err)
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to %s stream: %w", r.RecordType(), err)
	}

	return nil
}

// readLine reads the next line without its newline. Bytes past limit are
// discarded and reported through tooLong; the reader is left at the start of
// the following line either way.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}

		if !tooLong && len(line)+len(chunk) > limit {
			tooLong, line = true, nil
		}
		if !tooLong {
			line = append(line, chunk...)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// readStream adds every line of stream t to streams. A missing file is an
// empty stream. Lines over the limit are skipped and reported as malformed.
func (s *store) readStream(ctx context.Context, t record.Type, streams *record.Streams) error {
	f, err := s.fs.Open(s.path(t))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, readBufferSize)

	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, err := readLine(reader, s.maxLine)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		eof := err != nil
		if eof && len(line) == 0 && !tooLong {
			return nil
		}

		lineNo++
		if tooLong {
			streams.AddTooLong(t, lineNo)
		} else {
			streams.AddLine(t, lineNo, line)
		}

		if eof {
			return nil
		}
	}
}

// ReadAll reads the four streams from disk. Corrupt lines are reported in
// Streams.Malformed; only I/O failures are returned as errors.
func (s *store) ReadAll(ctx context.Context) (record.Streams, error) {
	var streams record.Streams

	for _, t := range record.Types {
		if err := s.readStream(ctx, t, &streams); err != nil {
			return record.Streams{}, fmt.Errorf("read %s stream: %w", t, err)
		}
	}

	return streams, nil
}

// Close closes the append handles.
func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for t, f := range s.files {
		errs = append(errs, f.Close())
		delete(s.files, t)
	}
	return errors.Join(errs...)
}

// New returns a store keeping its streams under dir on fsys. The directory is
// created if needed.
func New(fsys afero.Fs, dir string) (*store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &store{
		fs:      fsys,
		dir:     dir,
		maxLine: maxLineSize,
		files:   make(map[record.Type]afero.File),
	}, nil
}
