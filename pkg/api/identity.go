package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID is the canonical participant identifier. The backend sends ids either
// as plain values or as embedded user documents; both decode to the same UserID.
type UserID string

func (u UserID) String() string {
	return string(u)
}

func (u UserID) IsZero() bool {
	return u == ""
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(strings.TrimSpace(s))
		return nil
	case '{':
		var doc struct {
			MongoId *UserID `json:"_id"`
			Id      *UserID `json:"id"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		switch {
		case doc.MongoId != nil && !doc.MongoId.IsZero():
			*u = *doc.MongoId
		case doc.Id != nil:
			*u = *doc.Id
		default:
			*u = ""
		}
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported user id %s: %w", data, err)
		}
		*u = UserID(n.String())
		return nil
	}
}
