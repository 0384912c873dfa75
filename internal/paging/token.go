// Package paging implements stateless cursor pagination. A page token is a
// small protobuf-encoded record, base64url encoded without padding, that the
// client hands back to fetch the items after the last one it has seen.
package paging

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ycchat/ycchat/internal/apperr"
)

const (
	fieldPageSize      protowire.Number = 1
	fieldOrderBy       protowire.Number = 2
	fieldOffsetID      protowire.Number = 3
	fieldPrevPageToken protowire.Number = 4
)

var ErrInvalidToken = fmt.Errorf("%w: malformed page token", apperr.ErrInvalidArgument)

// Token is the decoded form of a page token. Nil pointers are absent fields.
type Token struct {
	PageSize      uint32
	OrderBy       *string
	OffsetID      *string
	PrevPageToken *string
}

func Encode(t Token) string {
	var buf []byte
	if t.PageSize != 0 {
		buf = protowire.AppendTag(buf, fieldPageSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(t.PageSize))
	}
	buf = appendString(buf, fieldOrderBy, t.OrderBy)
	buf = appendString(buf, fieldOffsetID, t.OffsetID)
	buf = appendString(buf, fieldPrevPageToken, t.PrevPageToken)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func appendString(buf []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, *v)
}

// Decode parses a token produced by Encode. Any malformed input yields
// ErrInvalidToken.
func Decode(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	var t Token
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return Token{}, ErrInvalidToken
		}
		raw = raw[n:]

		switch num {
		case fieldPageSize:
			if typ != protowire.VarintType {
				return Token{}, ErrInvalidToken
			}
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 || v > uint64(^uint32(0)) {
				return Token{}, ErrInvalidToken
			}
			t.PageSize = uint32(v)
			raw = raw[n:]
		case fieldOrderBy, fieldOffsetID, fieldPrevPageToken:
			if typ != protowire.BytesType {
				return Token{}, ErrInvalidToken
			}
			v, n := protowire.ConsumeString(raw)
			if n < 0 {
				return Token{}, ErrInvalidToken
			}
			raw = raw[n:]
			switch num {
			case fieldOrderBy:
				t.OrderBy = &v
			case fieldOffsetID:
				t.OffsetID = &v
			default:
				t.PrevPageToken = &v
			}
		default:
			return Token{}, ErrInvalidToken
		}
	}
	return t, nil
}
