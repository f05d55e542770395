package jsonrpc

import (
	"encoding/json"
	"strconv"
)

// ID is an incoming request id kept as its raw JSON token, for example 5 or
// "abc". Responses echo it byte for byte, so numeric ids stay numeric.
type ID string

// NumberID returns the ID for an integer id.
func NumberID(n uint64) ID {
	return ID(strconv.FormatUint(n, 10))
}

// StringID returns the ID for a string id.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// String returns the id as text: string ids without quotes, numbers as written.
func (id ID) String() string {
	var s string
	if err := json.Unmarshal([]byte(id), &s); err == nil {
		return s
	}
	return string(id)
}

// Number returns the id as an unsigned integer. String ids holding digits
// are accepted too.
func (id ID) Number() (uint64, bool) {
	n, err := strconv.ParseUint(id.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON emits the raw token.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return []byte(id), nil
}
