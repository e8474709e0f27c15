package services

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// STOMP 1.2 commands used by the order stream.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

var errEmptyFrame = errors.New("stomp: empty frame")

// Frame is one STOMP frame. Header order is kept for encoding.
type Frame struct {
	Command string
	Headers [][2]string
	Body    []byte
}

func NewFrame(command string, headers ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers = append(f.Headers, [2]string{headers[i], headers[i+1]})
	}
	return f
}

// Header returns the first value for key. Repeated headers keep the first
// occurrence, as STOMP requires.
func (f Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h[0] == key {
			return h[1]
		}
	}
	return ""
}

func (f *Frame) SetHeader(key, value string) {
	for i, h := range f.Headers {
		if h[0] == key {
			f.Headers[i][1] = value
			return
		}
	}
	f.Headers = append(f.Headers, [2]string{key, value})
}

// Encode renders the frame including the trailing NUL. CONNECT headers are
// not escaped.
func (f Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for _, h := range f.Headers {
		if f.Command == CmdConnect || f.Command == CmdConnected {
			buf.WriteString(h[0])
			buf.WriteByte(':')
			buf.WriteString(h[1])
		} else {
			buf.WriteString(escapeHeader(h[0]))
			buf.WriteByte(':')
			buf.WriteString(escapeHeader(h[1]))
		}
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Header("content-length") == "" {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeFrames splits one transport message into frames. Heart-beat EOLs
// between frames are skipped; a message made only of EOLs yields no frames.
func DecodeFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := decodeFrame(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func decodeFrame(data []byte) (Frame, []byte, error) {
	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd, sepLen = crlf, 4
	}
	if headerEnd < 0 {
		return Frame{}, nil, fmt.Errorf("stomp: frame without header terminator")
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headerEnd]), "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return Frame{}, nil, errEmptyFrame
	}
	f := Frame{Command: lines[0]}
	unescape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		if unescape {
			k, v = unescapeHeader(k), unescapeHeader(v)
		}
		f.Headers = append(f.Headers, [2]string{k, v})
	}

	body := data[headerEnd+sepLen:]
	if cl := f.Header("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return Frame{}, nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		if n < len(body) && body[n] != 0 {
			return Frame{}, nil, fmt.Errorf("stomp: frame not NUL-terminated")
		}
		f.Body = append([]byte(nil), body[:n]...)
		if n < len(body) {
			return f, body[n+1:], nil
		}
		return f, nil, nil
	}

	end := bytes.IndexByte(body, 0)
	if end < 0 {
		// some servers drop the trailing NUL on the last frame of a message
		f.Body = append([]byte(nil), body...)
		return f, nil, nil
	}
	f.Body = append([]byte(nil), body[:end]...)
	return f, body[end+1:], nil
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }

// negotiateHeartBeat applies the STOMP heart-beat rules. want is the
// client's "cx,cy" and got the server's "sx,sy"; zero means disabled.
func negotiateHeartBeat(want, got string) (outgoing, incoming time.Duration) {
	cx, cy := parseHeartBeat(want)
	sx, sy := parseHeartBeat(got)
	if cx > 0 && sy > 0 {
		outgoing = time.Duration(max(cx, sy)) * time.Millisecond
	}
	if cy > 0 && sx > 0 {
		incoming = time.Duration(max(cy, sx)) * time.Millisecond
	}
	return outgoing, incoming
}

func parseHeartBeat(v string) (int, int) {
	a, b, ok := strings.Cut(strings.TrimSpace(v), ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return x, y
}
