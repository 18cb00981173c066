package proto

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrProtocol signals a wire-framing violation: a bad prefix byte, a
// non-numeric integer or length, a negative length other than -1, or a
// bulk payload not followed by CRLF. A Parser that returns ErrProtocol is no longer
// usable — the owning connection must close.
var ErrProtocol = errors.New("redisq: protocol violation")

// ErrBadLineEnding signals a line terminated by a bare \n instead of \r\n.
var ErrBadLineEnding = errors.New("redisq: bad line ending, expected CRLF")

// Parser incrementally decodes replies out of a byte stream. Feed appends
// bytes as they arrive off the socket; each Next call returns one
// complete reply, so callers loop on Next to drain what is buffered.
//
// Parser is not safe for concurrent use; it is owned by exactly one
// connection's read loop, per the single-owner concurrency model in
// internal/conn.
type Parser struct {
	buf []byte
	pos int
}

// Feed appends newly read bytes to the parser's buffer.
func (p *Parser) Feed(b []byte) {
	if p.pos > 0 && p.pos == len(p.buf) {
		// Buffer fully consumed; reset instead of growing forever.
		p.buf = p.buf[:0]
		p.pos = 0
	}
	p.buf = append(p.buf, b...)
}

// Next returns the next fully-assembled reply. ok is false when the
// buffered bytes don't yet contain a complete reply (NEEDS_MORE in
// spec terms); the caller should Feed more bytes and retry.
func (p *Parser) Next() (reply Reply, ok bool, err error) {
	start := p.pos
	reply, n, err := parseValue(p.buf[p.pos:])
	if err != nil {
		return Reply{}, false, err
	}
	if n < 0 {
		p.pos = start
		return Reply{}, false, nil
	}
	p.pos += n
	return reply, true, nil
}

// Compact drops already-consumed bytes so the internal buffer doesn't
// grow unboundedly across many small Feed calls between complete replies.
func (p *Parser) Compact() {
	if p.pos == 0 {
		return
	}
	p.buf = append(p.buf[:0], p.buf[p.pos:]...)
	p.pos = 0
}

// parseValue parses one RESP value from b, returning the number of bytes
// consumed, or n == -1 if b does not yet hold a complete value.
func parseValue(b []byte) (Reply, int, error) {
	if len(b) == 0 {
		return Reply{}, -1, nil
	}
	prefix := b[0]
	switch prefix {
	case '+', '-', ':':
		line, lineLen, err := readLine(b[1:])
		if err != nil {
			return Reply{}, 0, err
		}
		if lineLen < 0 {
			return Reply{}, -1, nil
		}
		consumed := 1 + lineLen
		switch prefix {
		case '+':
			return Reply{Kind: KindStatus, Str: string(line)}, consumed, nil
		case '-':
			return Reply{Kind: KindError, Err: parseServerError(line)}, consumed, nil
		default: // ':'
			i, err := strconv.ParseInt(string(line), 10, 64)
			if err != nil {
				return Reply{}, 0, ErrProtocol
			}
			return Reply{Kind: KindInteger, Int: i}, consumed, nil
		}
	case '$':
		return parseBulk(b)
	case '*':
		return parseArray(b)
	default:
		return Reply{}, 0, ErrProtocol
	}
}

func parseServerError(line []byte) *ServerError {
	s := string(line)
	for i, r := range s {
		if r == ' ' {
			return &ServerError{Kind: s[:i], Message: s[i+1:]}
		}
	}
	return &ServerError{Kind: s}
}

func parseBulk(b []byte) (Reply, int, error) {
	line, lineLen, err := readLine(b[1:])
	if err != nil {
		return Reply{}, 0, err
	}
	if lineLen < 0 {
		return Reply{}, -1, nil
	}
	head := 1 + lineLen
	length, err := strconv.Atoi(string(line))
	if err != nil {
		return Reply{}, 0, ErrProtocol
	}
	if length == -1 {
		return Reply{Kind: KindBulk, IsNull: true}, head, nil
	}
	if length < -1 {
		return Reply{}, 0, ErrProtocol
	}
	total := head + length + 2 // payload + trailing CRLF
	if len(b) < total {
		return Reply{}, -1, nil
	}
	payload := b[head : head+length]
	if b[head+length] != '\r' || b[head+length+1] != '\n' {
		return Reply{}, 0, ErrProtocol
	}
	out := make([]byte, length)
	copy(out, payload)
	return Reply{Kind: KindBulk, Bulk: out}, total, nil
}

func parseArray(b []byte) (Reply, int, error) {
	line, lineLen, err := readLine(b[1:])
	if err != nil {
		return Reply{}, 0, err
	}
	if lineLen < 0 {
		return Reply{}, -1, nil
	}
	head := 1 + lineLen
	count, err := strconv.Atoi(string(line))
	if err != nil {
		return Reply{}, 0, ErrProtocol
	}
	if count == -1 {
		return Reply{Kind: KindArray, IsNull: true}, head, nil
	}
	if count < -1 {
		return Reply{}, 0, ErrProtocol
	}
	consumed := head
	elems := make([]Reply, count)
	for i := 0; i < count; i++ {
		el, n, err := parseValue(b[consumed:])
		if err != nil {
			return Reply{}, 0, err
		}
		if n < 0 {
			return Reply{}, -1, nil
		}
		elems[i] = el
		consumed += n
	}
	return Reply{Kind: KindArray, Array: elems}, consumed, nil
}

// readLine returns the bytes up to (excluding) a CRLF in b, and the number
// of bytes consumed including the CRLF. n == -1 means no full line is
// buffered yet; a non-nil error means the line ending was malformed
// (a bare \n without a preceding \r).
func readLine(b []byte) (line []byte, n int, err error) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return nil, -1, nil
	}
	if idx == 0 || b[idx-1] != '\r' {
		return nil, 0, ErrBadLineEnding
	}
	return b[:idx-1], idx + 1, nil
}
