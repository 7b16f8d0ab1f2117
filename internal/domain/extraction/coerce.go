package extraction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relvacode/iso8601"
	"github.com/spf13/cast"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// Coercer converts raw JSON values to declared data types.
type Coercer struct {
	clock      clockwork.Clock
	loc        *time.Location
	dateFormat string
}

// CoercerOption configures a Coercer.
type CoercerOption func(*Coercer)

// WithDefaultDateFormat sets the format used when a call passes none.
func WithDefaultDateFormat(format string) CoercerOption {
	return func(c *Coercer) {
		if format != "" {
			c.dateFormat = format
		}
	}
}

// NewCoercer creates a Coercer. Dates are rendered in loc (UTC when nil),
// and the "default" null policy for dates uses clock.
func NewCoercer(clock clockwork.Clock, loc *time.Location, opts ...CoercerOption) *Coercer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Coercer{clock: clock, loc: loc, dateFormat: pipeline.DefaultDateFormat}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultDateFormat returns the format applied when none is given.
func (c *Coercer) DefaultDateFormat() string {
	return c.dateFormat
}

// Coerce converts raw to dataType. A nil raw value stands for both an
// absent field and a JSON null and goes through the null policy. Values
// that cannot be converted become nil; Coerce never fails.
func (c *Coercer) Coerce(raw any, dataType pipeline.DataType, policy pipeline.NullValueHandling, dateFormat string) any {
	if dateFormat == "" {
		dateFormat = c.dateFormat
	}
	if raw == nil {
		return c.nullValue(dataType, policy, dateFormat)
	}
	switch dataType {
	case pipeline.DataTypeString:
		return toString(raw)
	case pipeline.DataTypeNumber:
		return toNumber(raw)
	case pipeline.DataTypeBoolean:
		return toBool(raw)
	case pipeline.DataTypeDate:
		t, ok := c.parseTime(raw, dateFormat)
		if !ok {
			return nil
		}
		return formatterFor(dateFormat).format(t.In(c.loc))
	default:
		return raw
	}
}

func (c *Coercer) nullValue(dataType pipeline.DataType, policy pipeline.NullValueHandling, dateFormat string) any {
	switch policy {
	case pipeline.NullEmpty:
		if dataType == pipeline.DataTypeString {
			return ""
		}
		return nil
	case pipeline.NullDefault:
		switch dataType {
		case pipeline.DataTypeString:
			return ""
		case pipeline.DataTypeNumber:
			return float64(0)
		case pipeline.DataTypeBoolean:
			return false
		case pipeline.DataTypeDate:
			return formatterFor(dateFormat).format(c.clock.Now().In(c.loc))
		case pipeline.DataTypeArray:
			return []any{}
		case pipeline.DataTypeObject:
			return map[string]any{}
		}
		return nil
	default:
		return nil
	}
}

func toString(raw any) any {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []any, map[string]any, pipeline.Record:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	case time.Time:
		return v.Format(time.RFC3339)
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return nil
	}
	return s
}

func toNumber(raw any) any {
	var f float64
	switch v := raw.(type) {
	case bool:
		return nil
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f = cast.ToFloat64(v)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func toBool(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no", "off", "n", "f":
			return false
		}
		return true
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case pipeline.Record:
		return len(v) > 0
	}
	f, err := cast.ToFloat64E(raw)
	return err == nil && f != 0
}

func (c *Coercer) parseTime(raw any, dateFormat string) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), true
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return fromEpoch(cast.ToFloat64(v)), true
	case string:
		return c.parseTimeString(strings.TrimSpace(v), dateFormat)
	}
	return time.Time{}, false
}

func (c *Coercer) parseTimeString(s, dateFormat string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	// The output format comes first so all-digit formats read back their
	// own values rather than an epoch.
	if t, ok := formatterFor(dateFormat).parse(s, c.loc); ok {
		return t, true
	}
	if isDigits(s) && len(s) >= 9 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return fromEpoch(float64(n)), true
		}
	}
	if t, err := iso8601.ParseString(s); err == nil {
		return t, true
	}
	if t, err := cast.ToTimeInDefaultLocationE(s, c.loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// fromEpoch treats values beyond 1e12 as milliseconds.
func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
