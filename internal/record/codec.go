package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for a line that cannot be parsed as a record.
	ErrMalformed = errors.New("malformed record")

	// ErrUnexpectedType is returned when a line carries a record of another stream.
	ErrUnexpectedType = errors.New("unexpected record type")

	// ErrUnsupportedSchema is returned for schema versions this build cannot read.
	ErrUnsupportedSchema = errors.New("unsupported schema version")

	// ErrLineTooLong is reported for a line longer than the reader accepts.
	ErrLineTooLong = errors.New("line exceeds limit")
)

// Marshal encodes r as a single JSON line without the trailing newline.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// decode parses one line into a record of type want.
func decode[T Record](line []byte, want Type) (T, error) {
	var (
		rec T
		hdr Header
	)

	if err := json.Unmarshal(line, &hdr); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if hdr.Type != want {
		return rec, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, hdr.Type, want)
	}

	if hdr.Schema < 1 || hdr.Schema > SchemaVersion {
		return rec, fmt.Errorf("%w: %d", ErrUnsupportedSchema, hdr.Schema)
	}

	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return rec, nil
}

// Malformed describes a line that was skipped while reading a stream.
type Malformed struct {
	Stream Type   `json:"stream"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Streams holds the parsed content of the four record streams.
type Streams struct {
	Samples    []Sample
	Mismatches []Mismatch
	Recoveries []Recovery
	Errors     []ErrorRecord
	Malformed  []Malformed
}

// AddLine parses one line of the given stream and appends the record, or a
// Malformed entry when it cannot be parsed. Blank lines are ignored. Lines are
// numbered from 1.
func (s *Streams) AddLine(stream Type, lineNo int, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var err error
	switch stream {
	case TypeSample:
		var r Sample
		if r, err = decode[Sample](line, stream); err == nil {
			s.Samples = append(s.Samples, r)
		}
	case TypeMismatch:
		var r Mismatch
		if r, err = decode[Mismatch](line, stream); err == nil {
			s.Mismatches = append(s.Mismatches, r)
		}
	case TypeRecovery:
		var r Recovery
		if r, err = decode[Recovery](line, stream); err == nil {
			s.Recoveries = append(s.Recoveries, r)
		}
	case TypeError:
		var r ErrorRecord
		if r, err = decode[ErrorRecord](line, stream); err == nil {
			s.Errors = append(s.Errors, r)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnexpectedType, stream)
	}

	if err != nil {
		s.Malformed = append(s.Malformed, Malformed{Stream: stream, Line: lineNo, Reason: err.Error()})
	}
}

// AddTooLong records line lineNo of stream as skipped for exceeding the
// reader's line limit.
func (s *Streams) AddTooLong(stream Type, lineNo int) {
	s.Malformed = append(s.Malformed, Malformed{Stream: stream, Line: lineNo, Reason: ErrLineTooLong.Error()})
}
