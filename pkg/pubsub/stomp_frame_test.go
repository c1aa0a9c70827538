package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	in := NewFrame(cmdMessage,
		"subscription", "sub-1",
		"destination", "/queue/notifications/customer/7",
		"note", "a:b\nc",
	)
	in.Body = []byte(`{"id":"n1"}` + "\x00tail")

	out, err := ParseFrame(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, cmdMessage, out.Command)
	note, _ := out.Get("note")
	assert.Equal(t, "a:b\nc", note)
	assert.Equal(t, in.Body, out.Body)
}

func TestConnectFrameIsNotEscaped(t *testing.T) {
	raw := NewFrame(cmdConnect, "host", "a:b").Marshal()
	assert.Contains(t, string(raw), "host:a:b\n")

	f, err := ParseFrame([]byte("CONNECTED\nversion:1.2\nheart-beat:4000,4000\nserver:x:y\n\n\x00"))
	require.NoError(t, err)
	srv, _ := f.Get("server")
	assert.Equal(t, "x:y", srv)
}

func TestParseFrameWithoutContentLength(t *testing.T) {
	f, err := ParseFrame([]byte("\r\nERROR\r\nmessage:denied\r\n\r\nbad creds\x00\n"))
	require.NoError(t, err)
	assert.Equal(t, cmdError, f.Command)
	msg, _ := f.Get("message")
	assert.Equal(t, "denied", msg)
	assert.Equal(t, "bad creds", string(f.Body))
}

func TestParseFrameErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":          "\n\n",
		"no terminator":  "MESSAGE\n\nbody",
		"bad header":     "MESSAGE\nnocolon\n\n\x00",
		"truncated":      "MESSAGE\nkey:v",
		"content-length": "MESSAGE\ncontent-length:99\n\nabc\x00",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestRepeatedHeaderKeepsFirst(t *testing.T) {
	f, err := ParseFrame([]byte("MESSAGE\nfoo:1\nfoo:2\n\n\x00"))
	require.NoError(t, err)
	v, _ := f.Get("foo")
	assert.Equal(t, "1", v)
}

func TestIsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat([]byte("\n")))
	assert.True(t, IsHeartbeat([]byte("\r\n\n")))
	assert.False(t, IsHeartbeat([]byte("MESSAGE\n")))
}

func TestNegotiateHeartbeat(t *testing.T) {
	hb := 4 * time.Second

	out, in := NegotiateHeartbeat(hb, hb, "10000,2000")
	assert.Equal(t, 4*time.Second, out)
	assert.Equal(t, 10*time.Second, in)

	out, in = NegotiateHeartbeat(hb, hb, "0,0")
	assert.Zero(t, out)
	assert.Zero(t, in)

	out, in = NegotiateHeartbeat(hb, hb, "")
	assert.Zero(t, out)
	assert.Zero(t, in)

	out, in = NegotiateHeartbeat(0, hb, "5000,5000")
	assert.Zero(t, out)
	assert.Equal(t, 5*time.Second, in)
}
