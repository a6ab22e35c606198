// Package record defines the records emitted by the sampler and the recovery
// lifecycle: samples, mismatches, recoveries and backend errors. Each record is
// tagged with its type and a schema version so that every line of a stream can
// be parsed independently.
package record

import (
	"fmt"
	"time"
)

// SchemaVersion is the version written on every new record.
const SchemaVersion = 1

// Type tags a record line with the stream it belongs to.
type Type string

const (
	TypeSample   Type = "sample"
	TypeMismatch Type = "mismatch"
	TypeRecovery Type = "recovery"
	TypeError    Type = "error"
)

// Types lists every record type in a stable order.
var Types = []Type{TypeSample, TypeMismatch, TypeRecovery, TypeError}

// Kind identifies the kind of request a record refers to.
type Kind string

const (
	KindValueRead   Kind = "value-read"
	KindCall        Kind = "call"
	KindLogQuery    Kind = "log-query"
	KindBatch       Kind = "batch"
	KindBlockNumber Kind = "block-number"
)

// Side identifies one of the two compared backends.
type Side string

const (
	SidePrimary   Side = "primary"
	SideReference Side = "reference"
)

// Header is embedded in every record.
type Header struct {
	Schema int  `json:"schema"`
	Type   Type `json:"type"`
}

func header(t Type) Header {
	return Header{Schema: SchemaVersion, Type: t}
}

// Record is implemented by every persisted record.
type Record interface {
	RecordType() Type
}

// BlockJump describes how far one side's head moved since the previous iteration.
// Both fields are zero when the height did not change.
type BlockJump struct {
	Blocks    uint64 `json:"blocks"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// BatchMetrics are the batch sub-metrics of a sample.
type BatchMetrics struct {
	Size               int      `json:"size"`
	PrimaryLatencyMs   float64  `json:"primaryLatencyMs"`
	ReferenceLatencyMs float64  `json:"referenceLatencyMs"`
	PrimaryOrdered     bool     `json:"primaryOrdered"`
	ReferenceOrdered   bool     `json:"referenceOrdered"`
	Matched            bool     `json:"matched"`
	Compared           int      `json:"compared"`
	Disagreements      int      `json:"disagreements"`
	Speedup            *float64 `json:"speedup"`
}

// Ordered reports whether both sides answered the batch in request order.
func (b BatchMetrics) Ordered() bool {
	return b.PrimaryOrdered && b.ReferenceOrdered
}

// MemorySnapshot is a process memory reading, in megabytes.
type MemorySnapshot struct {
	HeapUsedMB  float64 `json:"heapUsedMB"`
	HeapTotalMB float64 `json:"heapTotalMB"`
	RSSMB       float64 `json:"rssMB"`
	ExternalMB  float64 `json:"externalMB"`
}

// LogMetrics are the log-query sub-metrics of a sample.
type LogMetrics struct {
	PrimaryLatencyMs   float64 `json:"primaryLatencyMs"`
	ReferenceLatencyMs float64 `json:"referenceLatencyMs"`
	Matched            bool    `json:"matched"`
	PrimaryCount       int     `json:"primaryCount"`
	ReferenceCount     int     `json:"referenceCount"`
}

// Sample is the outcome of one sampler iteration.
type Sample struct {
	Header
	Timestamp          time.Time       `json:"timestamp"`
	PrimaryHeight      uint64          `json:"primaryHeight"`
	ReferenceHeight    uint64          `json:"referenceHeight"`
	Drift              int64           `json:"drift"`
	PrimaryLatencyMs   *float64        `json:"primaryLatencyMs"`
	ReferenceLatencyMs *float64        `json:"referenceLatencyMs"`
	Matched            bool            `json:"matched"`
	Comparisons        int             `json:"comparisons"`
	PrimaryErrors      int             `json:"primaryErrors"`
	ReferenceErrors    int             `json:"referenceErrors"`
	PrimaryJump        BlockJump       `json:"primaryJump"`
	ReferenceJump      BlockJump       `json:"referenceJump"`
	Batch              *BatchMetrics   `json:"batch,omitempty"`
	Memory             *MemorySnapshot `json:"memory,omitempty"`
	Logs               *LogMetrics     `json:"logs,omitempty"`
}

// NewSample returns a Sample stamped with the current schema header.
func NewSample(at time.Time, primaryHeight, referenceHeight uint64) Sample {
	return Sample{
		Header:          header(TypeSample),
		Timestamp:       at,
		PrimaryHeight:   primaryHeight,
		ReferenceHeight: referenceHeight,
		Drift:           int64(primaryHeight) - int64(referenceHeight),
	}
}

func (Sample) RecordType() Type { return TypeSample }

// Mismatch is a value disagreement between the two sides for the same read at
// the same block.
type Mismatch struct {
	Header
	ID             string    `json:"id"`
	RunID          string    `json:"runId"`
	Timestamp      time.Time `json:"timestamp"`
	Block          uint64    `json:"block"`
	Kind           Kind      `json:"kind"`
	Context        string    `json:"context"`
	PrimaryValue   string    `json:"primaryValue"`
	ReferenceValue string    `json:"referenceValue"`
}

// NewMismatch returns a Mismatch stamped with the current schema header.
func NewMismatch(id, runID string, at time.Time, block uint64, kind Kind, context, primaryValue, referenceValue string) Mismatch {
	return Mismatch{
		Header:         header(TypeMismatch),
		ID:             id,
		RunID:          runID,
		Timestamp:      at,
		Block:          block,
		Kind:           kind,
		Context:        context,
		PrimaryValue:   primaryValue,
		ReferenceValue: referenceValue,
	}
}

func (Mismatch) RecordType() Type { return TypeMismatch }

// Key joins a mismatch with its recovery.
func (m Mismatch) Key() string {
	return JoinKey(m.RunID, m.ID)
}

// Recovery is the outcome of re-verifying a mismatch against the reference.
// ReferenceValue is nil when the re-check itself failed.
type Recovery struct {
	Header
	MismatchID     string    `json:"mismatchId"`
	RunID          string    `json:"runId"`
	Timestamp      time.Time `json:"timestamp"`
	Recovered      bool      `json:"recovered"`
	ReferenceValue *string   `json:"referenceValue"`
	Error          string    `json:"error,omitempty"`
}

// NewRecovery returns a Recovery stamped with the current schema header.
func NewRecovery(mismatchID, runID string, at time.Time, recovered bool, referenceValue *string, errMsg string) Recovery {
	return Recovery{
		Header:         header(TypeRecovery),
		MismatchID:     mismatchID,
		RunID:          runID,
		Timestamp:      at,
		Recovered:      recovered,
		ReferenceValue: referenceValue,
		Error:          errMsg,
	}
}

func (Recovery) RecordType() Type { return TypeRecovery }

// Key joins a recovery with its mismatch.
func (r Recovery) Key() string {
	return JoinKey(r.RunID, r.MismatchID)
}

// ErrorRecord is a single backend call that failed outright.
type ErrorRecord struct {
	Header
	Timestamp time.Time `json:"timestamp"`
	Block     uint64    `json:"block"`
	Kind      Kind      `json:"kind"`
	Side      Side      `json:"side"`
	Message   string    `json:"message"`
}

// NewError returns an ErrorRecord stamped with the current schema header.
func NewError(at time.Time, block uint64, kind Kind, side Side, message string) ErrorRecord {
	return ErrorRecord{
		Header:    header(TypeError),
		Timestamp: at,
		Block:     block,
		Kind:      kind,
		Side:      side,
		Message:   message,
	}
}

func (ErrorRecord) RecordType() Type { return TypeError }

// JoinKey builds the identifier used to join mismatches and recoveries. Run ids
// keep mismatch ids from different process lifetimes apart.
func JoinKey(runID, mismatchID string) string {
	if runID == "" {
		return mismatchID
	}
	return fmt.Sprintf("%s/%s", runID, mismatchID)
}

// FormatMismatchID renders the n-th mismatch id of a run.
func FormatMismatchID(n uint64) string {
	return fmt.Sprintf("M%d", n)
}
