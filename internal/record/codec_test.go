package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSample(t *testing.T) {
	t.Run("computes a signed drift", func(t *testing.T) {
		ahead := NewSample(time.Unix(0, 0), 105, 100)
		behind := NewSample(time.Unix(0, 0), 98, 100)

		assert.Equal(t, int64(5), ahead.Drift)
		assert.Equal(t, int64(-2), behind.Drift)
		assert.Equal(t, Header{Schema: SchemaVersion, Type: TypeSample}, ahead.Header)
	})
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "M7", JoinKey("", "M7"))
	assert.Equal(t, "run-1/M7", JoinKey("run-1", "M7"))
	assert.Equal(t, "M12", FormatMismatchID(12))

	m := NewMismatch("M3", "run", time.Now(), 1, KindCall, "", "a", "b")
	r := NewRecovery("M3", "run", time.Now(), true, nil, "")
	assert.Equal(t, m.Key(), r.Key())
}

func TestMarshal(t *testing.T) {
	t.Run("writes the header inline", func(t *testing.T) {
		line, err := Marshal(NewError(time.Unix(10, 0).UTC(), 42, KindCall, SidePrimary, "timeout"))
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(line, &fields))
		assert.EqualValues(t, SchemaVersion, fields["schema"])
		assert.Equal(t, "error", fields["type"])
		assert.Equal(t, "primary", fields["side"])
		assert.NotContains(t, string(line), "\n")
	})

	t.Run("omits absent sample sub-metrics", func(t *testing.T) {
		line, err := Marshal(NewSample(time.Unix(0, 0).UTC(), 1, 1))
		require.NoError(t, err)

		assert.NotContains(t, string(line), `"batch"`)
		assert.NotContains(t, string(line), `"memory"`)
		assert.Contains(t, string(line), `"primaryLatencyMs":null`)
	})
}

func TestStreams_AddLine(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("parses every stream type", func(t *testing.T) {
		var s Streams

		value := "0x1"
		records := map[Type]Record{
			TypeSample:   NewSample(at, 10, 9),
			TypeMismatch: NewMismatch("M1", "run", at, 9, KindValueRead, "0xabc", "1", "2"),
			TypeRecovery: NewRecovery("M1", "run", at, true, &value, ""),
			TypeError:    NewError(at, 9, KindLogQuery, SideReference, "boom"),
		}

		for stream, r := range records {
			line, err := Marshal(r)
			require.NoError(t, err)
			s.AddLine(stream, 1, line)
		}

		require.Len(t, s.Samples, 1)
		require.Len(t, s.Mismatches, 1)
		require.Len(t, s.Recoveries, 1)
		require.Len(t, s.Errors, 1)
		assert.Empty(t, s.Malformed)

		assert.Equal(t, records[TypeSample], s.Samples[0])
		assert.Equal(t, records[TypeMismatch], s.Mismatches[0])
		assert.Equal(t, "0x1", *s.Recoveries[0].ReferenceValue)
		assert.Equal(t, SideReference, s.Errors[0].Side)
	})

	t.Run("reports corrupt lines without aborting", func(t *testing.T) {
		var s Streams

		good, err := Marshal(NewSample(at, 1, 1))
		require.NoError(t, err)

		s.AddLine(TypeSample, 1, good)
		s.AddLine(TypeSample, 2, []byte(`{"schema":1,"type":"sample","drift":`))
		s.AddLine(TypeSample, 3, []byte("   "))
		s.AddLine(TypeSample, 4, []byte(`{"schema":1,"type":"error"}`))
		s.AddLine(TypeSample, 5, []byte(`{"schema":99,"type":"sample"}`))
		s.AddLine(TypeSample, 6, []byte(`{"schema":1,"type":"sample","drift":"x"}`))
		s.AddLine(TypeSample, 7, good)

		assert.Len(t, s.Samples, 2)
		require.Len(t, s.Malformed, 4)

		lines := []int{s.Malformed[0].Line, s.Malformed[1].Line, s.Malformed[2].Line, s.Malformed[3].Line}
		assert.Equal(t, []int{2, 4, 5, 6}, lines)
		assert.Contains(t, s.Malformed[1].Reason, ErrUnexpectedType.Error())
		assert.Contains(t, s.Malformed[2].Reason, ErrUnsupportedSchema.Error())
		assert.Equal(t, TypeSample, s.Malformed[0].Stream)
	})

	t.Run("rejects an unknown stream", func(t *testing.T) {
		var s Streams
		s.AddLine(Type("audit"), 1, []byte(`{}`))

		require.Len(t, s.Malformed, 1)
		assert.Contains(t, s.Malformed[0].Reason, ErrUnexpectedType.Error())
	})
}
