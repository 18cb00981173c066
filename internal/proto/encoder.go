package proto

import (
	"io"
	"strconv"
)

var (
	dollarByte   = []byte("$")
	asteriskByte = []byte("*")
	crlfBytes    = []byte("\r\n")
)

// EncodeCommand writes a request frame for args: "*<argc>\r\n" followed
// by "$<len>\r\n<bytes>\r\n" per argument. Binary-safe: args are raw
// bytes, never re-escaped.
func EncodeCommand(w io.Writer, args [][]byte) error {
	if _, err := w.Write(asteriskByte); err != nil {
		return err
	}
	if err := writeDecimal(w, int64(len(args))); err != nil {
		return err
	}
	if _, err := w.Write(crlfBytes); err != nil {
		return err
	}
	for _, a := range args {
		if _, err := w.Write(dollarByte); err != nil {
			return err
		}
		if err := writeDecimal(w, int64(len(a))); err != nil {
			return err
		}
		if _, err := w.Write(crlfBytes); err != nil {
			return err
		}
		if _, err := w.Write(a); err != nil {
			return err
		}
		if _, err := w.Write(crlfBytes); err != nil {
			return err
		}
	}
	return nil
}

func writeDecimal(w io.Writer, n int64) error {
	var buf [20]byte
	b := strconv.AppendInt(buf[:0], n, 10)
	_, err := w.Write(b)
	return err
}

// EncodedLen returns the exact byte length EncodeCommand would write,
// for callers that need to size a buffer up front.
func EncodedLen(args [][]byte) int {
	n := 1 + len(strconv.Itoa(len(args))) + 2
	for _, a := range args {
		n += 1 + len(strconv.Itoa(len(a))) + 2 + len(a) + 2
	}
	return n
}
