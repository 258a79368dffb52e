package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemarcano/artemia/internal/scron"
)

func TestRecordLayout(t *testing.T) {
	ts := time.Unix(0x0102030405, 0)
	rec := AppendRecord(nil, ts)
	require.Len(t, rec, RecordSize)
	want := []byte{0x05, 0x04, 0x03, 0x02, 0x01, 0, 0, 0}
	assert.Equal(t, want, rec[:8])
	assert.Equal(t, want, rec[8:])

	got, ok := DecodeRecord(rec)
	require.True(t, ok)
	assert.Equal(t, ts.UTC(), got)
}

func TestRecoverLast(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 8, 0, 30, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 9, 0, 30, 0, time.UTC)
	t3 := time.Date(2024, 6, 1, 10, 0, 30, 0, time.UTC)
	stream := AppendRecord(AppendRecord(AppendRecord(nil, t1), t2), t3)

	load := func(b []byte) (time.Time, bool, error) {
		return RecoverLast(bytes.NewReader(b), int64(len(b)))
	}

	t.Run("newest wins", func(t *testing.T) {
		got, ok, err := load(stream)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, t3, got)
	})

	t.Run("torn trailing half falls back", func(t *testing.T) {
		got, ok, err := load(stream[:len(stream)-8])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, t2, got)
	})

	t.Run("mismatched halves fall back", func(t *testing.T) {
		b := append([]byte(nil), stream...)
		b[len(b)-1] ^= 0xff
		got, ok, err := load(b)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, t2, got)
	})

	t.Run("partial bytes of a new record are ignored", func(t *testing.T) {
		b := append(append([]byte(nil), stream...), 0xaa, 0xbb, 0xcc)
		got, ok, err := load(b)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, t3, got)
	})

	t.Run("empty stream", func(t *testing.T) {
		_, ok, err := load(nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no intact record", func(t *testing.T) {
		_, _, err := load(stream[:8])
		assert.ErrorIs(t, err, scron.ErrCorrupt)

		b := append([]byte(nil), stream[:RecordSize]...)
		b[0] ^= 0x01
		_, _, err = load(b)
		assert.ErrorIs(t, err, scron.ErrCorrupt)
	})
}
