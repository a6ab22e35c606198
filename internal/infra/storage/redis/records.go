package redis

import (
	"context"
	"fmt"

	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/recovery"
	"github.com/gabapcia/rpcparity/internal/sampler"
	"github.com/gabapcia/rpcparity/internal/stats"
)

// streamNames maps a record type to the suffix of its list key.
var streamNames = map[record.Type]string{
	record.TypeSample:   "samples",
	record.TypeMismatch: "mismatches",
	record.TypeRecovery: "recoveries",
	record.TypeError:    "errors",
}

// streamKey constructs the key of the list holding records of type t:
//
//	"<prefix>:samples"
func (c *client) streamKey(t record.Type) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, streamNames[t])
}

// Append pushes r to the tail of its stream. A single RPUSH per record keeps
// concurrent writers from interleaving.
func (c *client) Append(ctx context.Context, r record.Record) error {
	line, err := record.Marshal(r)
	if err != nil {
		return err
	}

	return c.conn.RPush(ctx, c.streamKey(r.RecordType()), line).Err()
}

// ReadAll reads the four streams. Missing keys read as empty lists and
// unparsable entries are reported in Streams.Malformed.
func (c *client) ReadAll(ctx context.Context) (record.Streams, error) {
	var streams record.Streams

	for _, t := range record.Types {
		lines, err := c.conn.LRange(ctx, c.streamKey(t), 0, -1).Result()
		if err != nil {
			return record.Streams{}, fmt.Errorf("read %s stream: %w", t, err)
		}

		for i, line := range lines {
			streams.AddLine(t, i+1, []byte(line))
		}
	}

	return streams, nil
}

var (
	_ sampler.RecordStorage  = (*client)(nil)
	_ recovery.RecordStorage = (*client)(nil)
	_ stats.RecordReader     = (*client)(nil)
)
