package message

import (
	"fmt"
	"strings"
	"time"
)

const (
	// HL7TimeFormat is the HL7 v3 / XDS timestamp layout (YYYYMMDDHHmmss)
	HL7TimeFormat = "20060102150405"
	// HL7DateFormat is the HL7 v3 date layout (YYYYMMDD)
	HL7DateFormat = "20060102"
)

// FormatHL7Time formats t in UTC as YYYYMMDDHHmmss
func FormatHL7Time(t time.Time) string {
	return t.UTC().Format(HL7TimeFormat)
}

// ParseHL7Time parses an HL7 v3 / XDS timestamp of any precision from YYYY
// to YYYYMMDDHHmmss, ignoring fractional seconds and zone offsets.
func ParseHL7Time(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) >= 10 && v[4] == '-' {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		return time.Parse(time.DateOnly, v[:10])
	}
	if i := strings.IndexAny(v, ".+-"); i >= 0 {
		v = v[:i]
	}
	layouts := map[int]string{
		4:  "2006",
		6:  "200601",
		8:  HL7DateFormat,
		10: "2006010215",
		12: "200601021504",
		14: HL7TimeFormat,
	}
	layout, ok := layouts[len(v)]
	if !ok {
		return time.Time{}, fmt.Errorf("invalid HL7 timestamp %q", v)
	}
	return time.Parse(layout, v)
}

// HL7ToISODate converts an HL7 timestamp to YYYY-MM-DD, or returns "" when
// it cannot be parsed.
func HL7ToISODate(v string) string {
	t, err := ParseHL7Time(v)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

// HL7ToISOTime converts an HL7 timestamp to RFC 3339, or returns "" when it
// cannot be parsed.
func HL7ToISOTime(v string) string {
	t, err := ParseHL7Time(v)
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ISODateToHL7 converts YYYY-MM-DD (or a full RFC 3339 time) to YYYYMMDD
func ISODateToHL7(v string) string {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.Format(HL7DateFormat)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC().Format(HL7DateFormat)
	}
	return strings.ReplaceAll(v, "-", "")
}
