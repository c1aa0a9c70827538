package pubsub

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// STOMP 1.2 commands used by the channel.
const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdError       = "ERROR"
	cmdReceipt     = "RECEIPT"
)

var errEmptyFrame = errors.New("stomp: empty frame")

type Header struct {
	Key, Value string
}

type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

func NewFrame(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{kv[i], kv[i+1]})
	}
	return f
}

// Get returns the first value for key; repeated headers keep the first.
func (f Frame) Get(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// CONNECT and CONNECTED frames are exchanged before escaping is agreed on.
func escapes(command string) bool {
	return command != cmdConnect && command != cmdConnected
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

func (f Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	esc := escapes(f.Command)
	for _, h := range f.Headers {
		k, v := h.Key, h.Value
		if esc {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Get("content-length"); !ok {
			b.WriteString("content-length:")
			b.WriteString(strconv.Itoa(len(f.Body)))
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// IsHeartbeat reports whether data carries only EOLs.
func IsHeartbeat(data []byte) bool {
	return len(bytes.Trim(data, "\r\n")) == 0
}

func ParseFrame(data []byte) (Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return Frame{}, errEmptyFrame
	}

	line, rest, ok := cutLine(data)
	if !ok {
		return Frame{}, fmt.Errorf("stomp: truncated command line")
	}
	f := Frame{Command: string(line)}
	esc := escapes(f.Command)

	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return Frame{}, fmt.Errorf("stomp: truncated headers in %s frame", f.Command)
		}
		if len(line) == 0 {
			break
		}
		k, v, found := bytes.Cut(line, []byte(":"))
		if !found {
			return Frame{}, fmt.Errorf("stomp: bad header line %q", line)
		}
		key, val := string(k), string(v)
		if esc {
			key, val = headerUnescaper.Replace(key), headerUnescaper.Replace(val)
		}
		f.Headers = append(f.Headers, Header{key, val})
	}

	if cl, ok := f.Get("content-length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(rest) {
			return Frame{}, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		f.Body = rest[:n]
		return f, nil
	}
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		f.Body = rest[:i]
		return f, nil
	}
	return Frame{}, fmt.Errorf("stomp: missing frame terminator")
}

func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil, nil, false
	}
	line = bytes.TrimSuffix(b[:i], []byte("\r"))
	return line, b[i+1:], true
}
