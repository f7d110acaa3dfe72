package quoting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote_SafeUnquoted(t *testing.T) {
	cases := []string{"hello", "foo-bar", "a.b_c", "user@host", "50%", "k=v", "path/to/file"}
	for _, c := range cases {
		assert.Equal(t, c, Quote(c), "safe-unquoted value %q should pass through verbatim", c)
	}
}

func TestQuote_EmptyString(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "''", Quote(nil))
}

func TestQuote_NeedsQuoting(t *testing.T) {
	assert.Equal(t, `'hello world'`, Quote("hello world"))
	assert.Equal(t, `'$(rm -rf /)'`, Quote("$(rm -rf /)"))
	assert.Equal(t, `';id;'`, Quote(";id;"))
}

func TestQuote_EmbeddedSingleQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
}

func TestQuote_Idempotent(t *testing.T) {
	once := Quote("it's")
	twice := Quote(once)
	assert.Equal(t, once, twice, "quoting an already-quoted literal must be a no-op")
}

func TestQuote_DoubleQuotedRewrapped(t *testing.T) {
	assert.Equal(t, `'hi there'`, Quote(`"hi there"`))
}

func TestQuote_Raw(t *testing.T) {
	assert.Equal(t, "$HOME/*.go", Quote(Raw("$HOME/*.go")))
}

func TestQuote_Literal(t *testing.T) {
	assert.Equal(t, `'hello'`, Quote(Literal("hello")))
	assert.Equal(t, `'it'\''s'`, Quote(Literal("it's")))
}

func TestQuote_StringSlice(t *testing.T) {
	assert.Equal(t, `foo 'bar baz' qux`, Quote([]string{"foo", "bar baz", "qux"}))
}

func TestQuote_ScalarTypes(t *testing.T) {
	assert.Equal(t, "42", Quote(42))
	assert.Equal(t, "-7", Quote(int64(-7)))
	assert.Equal(t, "true", Quote(true))
	assert.Equal(t, "false", Quote(false))
	assert.Equal(t, "3.5", Quote(3.5))
}

type namedThing struct{ name string }

func (n namedThing) String() string { return n.name }

func TestQuote_Stringer(t *testing.T) {
	assert.Equal(t, `'has spaces'`, Quote(namedThing{name: "has spaces"}))
}

func TestBuildCommand(t *testing.T) {
	got := BuildCommand([]string{"echo ", "", ""}, []any{"hello world"})
	assert.Equal(t, "echo 'hello world'", got)
}

func TestBuildCommand_RawInterpolation(t *testing.T) {
	got := BuildCommand([]string{"ls ", ""}, []any{Raw("*.go")})
	assert.Equal(t, "ls *.go", got)
}

func TestBuildCommand_MultipleValues(t *testing.T) {
	got := BuildCommand(
		[]string{"cp ", " ", ""},
		[]any{"my file.txt", "dest dir/"},
	)
	assert.Equal(t, "cp 'my file.txt' 'dest dir/'", got)
}
