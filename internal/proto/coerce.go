package proto

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// numFirstChar mirrors trex's _NUM_FIRST_CHARS: the set of bytes that
// make a bulk string worth attempting to parse as a number.
func numFirstChar(b byte) bool {
	return (b >= '0' && b <= '9') || b == '+' || b == '-' || b == '.'
}

// Coerce rewrites a parsed Reply's bulk strings into Go-native values:
// numeric coercion is attempted only when the first byte
// looks like a number, integers win when there's no '.', "+inf"/"-inf"/
// "NaN" are deliberately left alone (they contain no '.' and fail
// ParseInt, so they fall through to string form), and anything that
// fails to parse falls back to the decoded (or raw) string/bytes.
//
// charset == "" disables decoding: non-numeric bulk strings stay as
// []byte (numeric-looking ones are still coerced). Any non-empty charset
// is treated as UTF-8; no other charset is validated or transcoded.
func Coerce(r Reply, charset string) any {
	switch r.Kind {
	case KindBulk:
		return coerceBulk(r, charset)
	case KindArray:
		if r.IsNull {
			return nil
		}
		out := make([]any, len(r.Array))
		for i, el := range r.Array {
			out[i] = Coerce(el, charset)
		}
		return out
	case KindInteger:
		return r.Int
	case KindStatus:
		return r.Str
	case KindError:
		return r.Err
	default:
		return nil
	}
}

// CoerceReply is Coerce applied recursively over r's own tree, stamping
// the coerced Go-native value into each Reply's Value field (including
// nested array elements) rather than just returning it detached. This
// is what the receive path calls so a caller holding a *Reply can read
// .Value directly instead of re-running Coerce itself.
func CoerceReply(r Reply, charset string) Reply {
	if r.Kind == KindArray {
		if r.IsNull {
			r.Value = nil
			return r
		}
		arr := make([]Reply, len(r.Array))
		values := make([]any, len(r.Array))
		for i, el := range r.Array {
			arr[i] = CoerceReply(el, charset)
			values[i] = arr[i].Value
		}
		r.Array = arr
		r.Value = values
		return r
	}
	r.Value = Coerce(r, charset)
	return r
}

func coerceBulk(r Reply, charset string) any {
	if r.IsNull {
		return nil
	}
	b := r.Bulk
	if len(b) > 0 && numFirstChar(b[0]) {
		s := string(b)
		if !strings.Contains(s, ".") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
		} else {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	if charset != "" && utf8.Valid(b) {
		return string(b)
	}
	return b
}
