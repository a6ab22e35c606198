package recovery

import (
	"context"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/record"
)

// Check is everything a re-check needs to repeat a mismatching read. It is
// copied into the scheduled task and never modified afterwards.
type Check struct {
	MismatchID     string
	RunID          string
	DetectedAt     time.Time
	Block          uint64
	Kind           record.Kind
	Request        backend.Request
	PrimaryValue   string
	ReferenceValue string
}

// CheckFromMismatch builds the Check for m, re-issuing req.
func CheckFromMismatch(m record.Mismatch, req backend.Request) Check {
	return Check{
		MismatchID:     m.ID,
		RunID:          m.RunID,
		DetectedAt:     m.Timestamp,
		Block:          m.Block,
		Kind:           m.Kind,
		Request:        req,
		PrimaryValue:   m.PrimaryValue,
		ReferenceValue: m.ReferenceValue,
	}
}

func (c Check) key() string {
	return record.JoinKey(c.RunID, c.MismatchID)
}

// RecordStorage persists recovery records.
type RecordStorage interface {
	Append(ctx context.Context, r record.Record) error
}
