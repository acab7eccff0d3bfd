package chainpost

import "time"

// UTCOffset is the suffix used for readings posted without a timestamp.
const UTCOffset = "+00:00"

// Sample is one (timestamp, value) pair of a batch.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Record is the body of one reading in a sensor's data history.
type Record struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// NewRecord builds the record for a reading. See FormatTimestamp for how the
// timestamp is rendered.
func NewRecord(ts time.Time, value float64, tzoffset string) Record {
	return Record{
		Value:     value,
		Timestamp: FormatTimestamp(ts, tzoffset),
	}
}

// FormatTimestamp renders ts as ISO-8601 with microsecond precision, printing the
// fraction only when it is non-zero. When tzoffset is empty the offset of ts is
// appended ("+00:00" for UTC). Otherwise the wall clock of ts is printed without
// an offset and tzoffset is appended verbatim; it is not validated.
func FormatTimestamp(ts time.Time, tzoffset string) string {
	if tzoffset != "" {
		return isoformat(ts, false) + tzoffset
	}
	return isoformat(ts, true)
}

func isoformat(t time.Time, withOffset bool) string {
	layout := "2006-01-02T15:04:05"
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		layout += ".000000"
	}
	if withOffset {
		layout += "-07:00"
	}
	return t.Format(layout)
}
