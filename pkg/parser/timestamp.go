package parser

import (
	"time"

	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/pool"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// ExtractTimestamp fills the event timestamp from its fields. With an
// explicit field name only that field is probed; otherwise the standard
// candidates are tried in order. An explicit layout is tried before the
// adaptive table. A field that is present but unparsable is a soft error;
// an absent explicit field is not an error at all.
func ExtractTimestamp(e *model.Event, field, layout string) error {
	if _, ok := e.Timestamp(); ok {
		return nil
	}
	names := model.TimestampFields
	if field != "" {
		names = []string{field}
	}
	for _, name := range names {
		v, ok := e.Get(name)
		if !ok {
			continue
		}
		if t, ok := parseTSValue(v, layout); ok {
			e.SetTimestamp(t)
			return nil
		}
		return lserrors.Newf(lserrors.SeveritySoft, lserrors.CodeBadTimestamp,
			"field %q is not a recognizable timestamp: %s", name, v.Render())
	}
	return nil
}

func parseTSValue(v model.Value, layout string) (time.Time, bool) {
	if t, ok := v.AsTime(); ok {
		return t, true
	}
	if s, ok := v.AsString(); ok {
		if layout != "" {
			return pool.ParseLayout(s, layout)
		}
		return pool.ParseTimestamp(s)
	}
	if i, ok := v.AsInt(); ok {
		return pool.EpochToTime(i), true
	}
	if f, ok := v.AsFloat(); ok {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	return time.Time{}, false
}
