package sampler

import (
	"time"

	"github.com/gabapcia/rpcparity/internal/record"
)

// blockTracker follows the head of one backend between iterations.
type blockTracker struct {
	seen      bool
	height    uint64
	changedAt time.Time
}

// observe records height seen at now and returns how far the head moved since
// it last changed. The jump is zero when the head did not advance; a head that
// went backwards restarts tracking.
func (t *blockTracker) observe(height uint64, now time.Time) record.BlockJump {
	if !t.seen || height < t.height {
		t.seen = true
		t.height = height
		t.changedAt = now
		return record.BlockJump{}
	}

	if height == t.height {
		return record.BlockJump{}
	}

	jump := record.BlockJump{
		Blocks:    height - t.height,
		ElapsedMs: now.Sub(t.changedAt).Milliseconds(),
	}

	t.height = height
	t.changedAt = now
	return jump
}
