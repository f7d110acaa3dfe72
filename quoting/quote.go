// Package quoting implements safe interpolation of values into shell
// command strings: smart auto-quoting, plus raw and literal escape hatches.
//
// The rules here are the whole of this module's injection defense:
// interpolated values must never change the shell-parse structure of the
// surrounding template, so every branch below is deliberate — resist the
// urge to "simplify" by routing more values through raw escaping.
package quoting

import (
	"strconv"
	"strings"
)

// safeUnquoted matches values that need no shell quoting at all.
const safeUnquotedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Opaque marks a string that buildCommand must splice without further
// processing (Raw) or wrap in forced single quotes (Literal).
type Opaque struct {
	value   string
	literal bool
}

// Raw marks a string to be spliced verbatim into the built command, with no
// escaping at all. Callers are responsible for its safety; this exists for
// callers who need to inject shell syntax on purpose (operators, globs).
func Raw(value string) Opaque {
	return Opaque{value: value}
}

// Literal forces single-quote wrapping, escaping any embedded single quotes
// with the canonical '\'' sequence, even if the value would otherwise
// qualify as safe-unquoted.
func Literal(value string) Opaque {
	return Opaque{value: value, literal: true}
}

// Quote produces a shell-safe token for value. A []string is joined with
// single spaces after quoting each element individually — joining a slice
// into one string yourself before calling Quote loses the per-element
// boundary; Quote cannot recover it for you.
func Quote(value any) string {
	switch v := value.(type) {
	case nil:
		return "''"
	case Opaque:
		if v.literal {
			return quoteLiteral(v.value)
		}
		return v.value
	case string:
		return quoteString(v)
	case []string:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = quoteString(s)
		}
		return strings.Join(parts, " ")
	case stringer:
		return quoteString(v.String())
	default:
		return quoteString(toString(v))
	}
}

type stringer interface {
	String() string
}

func quoteString(s string) string {
	if s == "" {
		return "''"
	}
	if isSafeUnquoted(s) {
		return s
	}
	if isIdempotentSingleQuoted(s) {
		return s
	}
	if isDoubleQuoted(s) {
		return quoteLiteral(s[1 : len(s)-1])
	}
	return quoteLiteral(s)
}

// isSafeUnquoted matches [A-Za-z0-9_@%+=:,./-]+, non-empty.
func isSafeUnquoted(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(safeUnquotedChars, r) {
			return false
		}
	}
	return true
}

// isIdempotentSingleQuoted reports whether a value already wrapped in
// matching single quotes with no interior single quote should be preserved
// as-is, so quote(quote(x)) == quote(x) for previously-literal input.
func isIdempotentSingleQuoted(s string) bool {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return false
	}
	inner := s[1 : len(s)-1]
	return !strings.ContainsRune(inner, '\'')
}

// isDoubleQuoted reports whether a value begins and ends with matching
// double quotes, in which case it is re-wrapped in single quotes. This
// library never emits double quotes itself.
func isDoubleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// quoteLiteral wraps a value in single quotes, escaping every interior
// single quote as '\''.
func quoteLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func toString(v any) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
