package sqlite

import (
	"strconv"
	"strings"
	"time"
)

// Timestamps persist as Unix milliseconds; EXDATE/RDATE sets as
// comma-joined millisecond lists.

func encodeTime(t time.Time) int64 { return t.UnixMilli() }

func decodeTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeTimes(ts []time.Time) string {
	if len(ts) == 0 {
		return ""
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = strconv.FormatInt(encodeTime(t), 10)
	}
	return strings.Join(parts, ",")
}

func decodeTimes(s string) []time.Time {
	if s == "" {
		return nil
	}
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		ms, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, decodeTime(ms))
	}
	return out
}

// placeholders builds "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
