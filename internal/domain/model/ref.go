package model

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidID = errors.New("id must be an integer")

// IDRef is an id that arrives either as a JSON number or as a numeric
// string, the form form-encoded clients and the legacy JSON database use.
// null and "" decode to 0.
type IDRef int64

func (r *IDRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*r = 0
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ErrInvalidID
	}
	*r = IDRef(id)
	return nil
}
