package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/gemarcano/artemia/internal/scron"
)

// RecordSize is the on-medium size of one saved timestamp: the Unix seconds
// as a little-endian int64, written twice. A record whose halves differ was
// torn mid-write.
const RecordSize = 16

const half = RecordSize / 2

// AppendRecord appends the record for t to dst.
func AppendRecord(dst []byte, t time.Time) []byte {
	sec := uint64(t.Unix())
	dst = binary.LittleEndian.AppendUint64(dst, sec)
	return binary.LittleEndian.AppendUint64(dst, sec)
}

// DecodeRecord returns the timestamp in b and whether b is an intact record.
func DecodeRecord(b []byte) (time.Time, bool) {
	if len(b) != RecordSize {
		return time.Time{}, false
	}
	a := binary.LittleEndian.Uint64(b[:half])
	if a != binary.LittleEndian.Uint64(b[half:]) {
		return time.Time{}, false
	}
	return time.Unix(int64(a), 0).UTC(), true
}

// RecoverLast scans a stream of size bytes for its newest intact record.
//
// Records are aligned from the start of the stream; a trailing partial
// record is ignored and the scan walks back from the last complete one.
// It returns ok=false for an empty stream and scron.ErrCorrupt if the
// stream has data but no intact record.
func RecoverLast(r io.ReaderAt, size int64) (time.Time, bool, error) {
	if size <= 0 {
		return time.Time{}, false, nil
	}
	buf := make([]byte, RecordSize)
	for off := (size/RecordSize - 1) * RecordSize; off >= 0; off -= RecordSize {
		if _, err := r.ReadAt(buf, off); err != nil {
			return time.Time{}, false, fmt.Errorf("read record at %d: %w", off, err)
		}
		if t, ok := DecodeRecord(buf); ok {
			return t, true, nil
		}
	}
	return time.Time{}, false, scron.ErrCorrupt
}
