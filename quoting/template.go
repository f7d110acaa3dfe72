package quoting

import "strings"

// BuildCommand interleaves literal template segments with interpolated
// values, applying Quote to each value unless it is an Opaque produced by
// Raw. len(segments) must equal len(values)+1, matching the shape of a
// tagged-template call: text, value, text, value, ..., text.
func BuildCommand(segments []string, values []any) string {
	var b strings.Builder
	for i, seg := range segments {
		b.WriteString(seg)
		if i < len(values) {
			b.WriteString(Quote(values[i]))
		}
	}
	return b.String()
}
