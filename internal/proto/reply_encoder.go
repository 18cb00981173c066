package proto

import (
	"fmt"
	"io"
)

// EncodeReply serializes a Reply back onto the wire. The client itself
// never needs to send replies — this exists for test harnesses (and any
// MONITOR/debug tooling) that must play the server side of the
// protocol.
func EncodeReply(w io.Writer, r Reply) error {
	switch r.Kind {
	case KindStatus:
		_, err := fmt.Fprintf(w, "+%s\r\n", r.Str)
		return err
	case KindError:
		kind, msg := "ERR", r.Str
		if r.Err != nil {
			kind, msg = r.Err.Kind, r.Err.Message
		}
		if msg == "" {
			_, err := fmt.Fprintf(w, "-%s\r\n", kind)
			return err
		}
		_, err := fmt.Fprintf(w, "-%s %s\r\n", kind, msg)
		return err
	case KindInteger:
		_, err := fmt.Fprintf(w, ":%d\r\n", r.Int)
		return err
	case KindBulk:
		if r.IsNull {
			_, err := io.WriteString(w, "$-1\r\n")
			return err
		}
		_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(r.Bulk), r.Bulk)
		return err
	case KindArray:
		if r.IsNull {
			_, err := io.WriteString(w, "*-1\r\n")
			return err
		}
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(r.Array)); err != nil {
			return err
		}
		for _, el := range r.Array {
			if err := EncodeReply(w, el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("redisq: unknown reply kind %v", r.Kind)
	}
}

// Bulk is a small constructor helper for building test fixtures and
// convenience-command results.
func Bulk(s string) Reply { return Reply{Kind: KindBulk, Bulk: []byte(s)} }

// NullBulk constructs a nil bulk reply.
func NullBulk() Reply { return Reply{Kind: KindBulk, IsNull: true} }

// Status constructs a simple-string reply.
func Status(s string) Reply { return Reply{Kind: KindStatus, Str: s} }

// Int constructs an integer reply.
func Int(n int64) Reply { return Reply{Kind: KindInteger, Int: n} }

// Arr constructs a non-null array reply.
func Arr(items ...Reply) Reply { return Reply{Kind: KindArray, Array: items} }
