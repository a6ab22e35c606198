package stats

import "github.com/gabapcia/rpcparity/internal/record"

// Status is the derived state of a mismatch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecovered  Status = "recovered"
	StatusPersistent Status = "persistent"
)

// ClassifiedMismatch is a mismatch joined with its recovery, if any.
type ClassifiedMismatch struct {
	record.Mismatch
	Status   Status           `json:"status"`
	Recovery *record.Recovery `json:"recovery,omitempty"`
}

// Classify joins every mismatch to its recovery on (run id, mismatch id). A
// mismatch without a recovery is pending. When a mismatch has several
// recoveries the first one wins.
func Classify(mismatches []record.Mismatch, recoveries []record.Recovery) []ClassifiedMismatch {
	byKey := make(map[string]record.Recovery, len(recoveries))
	for _, r := range recoveries {
		if _, ok := byKey[r.Key()]; !ok {
			byKey[r.Key()] = r
		}
	}

	out := make([]ClassifiedMismatch, len(mismatches))
	for i, m := range mismatches {
		c := ClassifiedMismatch{Mismatch: m, Status: StatusPending}
		if r, ok := byKey[m.Key()]; ok {
			c.Recovery = &r
			c.Status = StatusPersistent
			if r.Recovered {
				c.Status = StatusRecovered
			}
		}
		out[i] = c
	}
	return out
}
