// SPDX-License-Identifier: ice License 1.0

package time

import (
	"context"
	"strconv"
	stdlibtime "time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

func Now() *Time {
	return New(stdlibtime.Now())
}

func New(time stdlibtime.Time) *Time {
	utc := time.UTC()

	return &Time{
		Time: &utc,
	}
}

// Date renders the calendar date of t, or an empty string for a nil time.
func (t *Time) Date() string {
	if t == nil || t.Time == nil {
		return ""
	}

	return t.Time.Format(DateLayout)
}

func (t *Time) DecodeMsgpack(dec *msgpack.Decoder) error {
	nanoSecs, err := dec.DecodeUint64()
	if err != nil {
		return errors.Wrap(err, "failed to Time.DecodeMsgpack.DecodeUint64")
	}
	t.Time = new(stdlibtime.Time)
	*t.Time = stdlibtime.Unix(0, int64(nanoSecs)).UTC() //nolint:gosec // Nanos fit.

	return nil
}

func (t *Time) EncodeMsgpack(enc *msgpack.Encoder) error {
	return errors.Wrap(enc.EncodeUint64(uint64(t.UTC().UnixNano())), "failed to EncodeUint64") //nolint:gosec // Nanos fit.
}

func (t *Time) MarshalJSON(_ context.Context) ([]byte, error) {
	if t.Time == nil || t.UnixNano() == 0 {
		return []byte("null"), nil
	}

	return []byte(strconv.Quote(t.UTC().Format(stdlibtime.RFC3339Nano))), nil
}

func (t *Time) UnmarshalJSON(_ context.Context, bytes []byte) error {
	data := string(bytes)
	if data == "null" || data == `""` || data == "" {
		return nil
	}
	if millis, err := strconv.ParseInt(data, 10, 64); err == nil {
		t.Time = new(stdlibtime.Time)
		*t.Time = stdlibtime.UnixMilli(millis).UTC()

		return nil
	}
	time, err := stdlibtime.Parse(`"`+stdlibtime.RFC3339Nano+`"`, data)
	if err != nil {
		return errors.Wrapf(err, "invalid time format: %v", data)
	}
	t.Time = new(stdlibtime.Time)
	*t.Time = time.UTC()

	return nil
}
