// Package tsformat translates a small subset of C strptime(3)/strftime(3)
// format directives into Go's reference-time layout strings, so ts-load
// can accept the same --date-format specifiers as original_source/ts-load.c
// without linking a C strptime. No library in the example corpus wraps
// strptime, so this is one of the few components built directly on the
// standard library rather than an ecosystem package.
package tsformat

import (
	"fmt"
	"strings"
	"time"
)

// directives maps the strptime conversion specifiers ts-load.c's default
// format ("%Y-%m-%d %H:%M:%S") and common variants use to their Go layout
// equivalent.
var directives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// ToGoLayout converts a strptime-style format string to a Go time layout.
func ToGoLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("tsformat: dangling %% at end of format %q", format)
		}
		layout, ok := directives[format[i]]
		if !ok {
			return "", fmt.Errorf("tsformat: unsupported directive %%%c in format %q", format[i], format)
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

// Parse parses value according to a strptime-style format string,
// interpreting the result in the local time zone as mktime(3) does.
func Parse(format, value string) (time.Time, error) {
	layout, err := ToGoLayout(format)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(layout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("tsformat: parse %q with format %q: %w", value, format, err)
	}
	return t, nil
}
