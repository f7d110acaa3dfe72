package streamio

import (
	"bytes"
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsBuffer(t *testing.T) {
	assert.Nil(t, AsBuffer(nil))
	assert.Equal(t, []byte("hi"), AsBuffer([]byte("hi")))
	assert.Equal(t, []byte("hi"), AsBuffer("hi"))
	assert.Nil(t, AsBuffer(42))
}

func TestBrokenPipe(t *testing.T) {
	assert.True(t, BrokenPipe(syscall.EPIPE))
	assert.True(t, BrokenPipe(io.ErrClosedPipe))
	assert.False(t, BrokenPipe(errors.New("some other error")))
	assert.False(t, BrokenPipe(nil))
}

type failingWriter struct{ err error }

func (f failingWriter) Write(p []byte) (int, error) { return 0, f.err }

func TestSafeWrite_Success(t *testing.T) {
	var buf bytes.Buffer
	n, err := SafeWrite(&buf, []byte("data"), nil)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "data", buf.String())
}

func TestSafeWrite_SwallowsBrokenPipe(t *testing.T) {
	called := false
	w := failingWriter{err: syscall.EPIPE}
	_, err := SafeWrite(w, []byte("data"), func() { called = true })
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestSafeWrite_PropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	w := failingWriter{err: boom}
	_, err := SafeWrite(w, []byte("data"), func() { t.Fatal("onBroken should not fire") })
	assert.ErrorIs(t, err, boom)
}

func TestStripANSI(t *testing.T) {
	colored := "\x1b[31mred\x1b[0m plain"
	assert.Equal(t, "red plain", StripANSI(colored))
}

func TestStripANSI_NoEscapes(t *testing.T) {
	assert.Equal(t, "plain text", StripANSI("plain text"))
}
