package carrier

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// FlexString decodes a JSON string or number into a string. Carriers are
// inconsistent about numeric identifiers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the decoded value.
func (f FlexString) String() string {
	return string(f)
}

// FlexFloat decodes a JSON number or numeric string into a float.
type FlexFloat struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = FlexFloat{}
		return nil
	}
	b = bytes.Trim(b, `"`)
	if len(b) == 0 {
		*f = FlexFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat{Value: v, Set: true}
	return nil
}

// Ptr returns nil when the value was absent.
func (f FlexFloat) Ptr() *float64 {
	if !f.Set {
		return nil
	}
	return Float(f.Value)
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000000",
}

// Dhaka is Bangladesh Standard Time. The country observes no DST, so a
// fixed zone avoids depending on tzdata.
var Dhaka = time.FixedZone("BDT", 6*60*60)

// ParseEventTime parses the timestamp formats couriers put in callbacks.
// Timestamps without an offset are read as UTC.
// It returns the zero time when s is empty or unparseable.
func ParseEventTime(s string) time.Time {
	return ParseEventTimeIn(s, time.UTC)
}

// ParseEventTimeIn is ParseEventTime with timestamps lacking an offset read
// as wall time in loc. The result is in UTC.
func ParseEventTimeIn(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
