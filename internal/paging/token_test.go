package paging

import (
	"encoding/base64"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ycchat/ycchat/internal/apperr"
)

func strPtr(s string) *string { return &s }

func TestTokenRoundTrip(t *testing.T) {
	tokens := []Token{
		{},
		{PageSize: 10},
		{PageSize: 25, OffsetID: strPtr("01HZX4Q8M3N2K1J0H9G8F7E6D5")},
		{PageSize: 1, OrderBy: strPtr(OrderByIDDesc), OffsetID: strPtr("01HZX4Q8M3N2K1J0H9G8F7E6D5"), PrevPageToken: strPtr("CAo")},
		{OrderBy: strPtr(""), OffsetID: strPtr(""), PrevPageToken: strPtr("")},
		{PageSize: ^uint32(0)},
	}
	for _, want := range tokens {
		got, err := Decode(Encode(want))
		if err != nil {
			t.Fatalf("Decode(Encode(%+v)) error: %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestEncodeIsURLSafe(t *testing.T) {
	s := Encode(Token{PageSize: 100, OffsetID: strPtr("01HZX4Q8M3N2K1J0H9G8F7E6D5"), PrevPageToken: strPtr("???>>>")})
	for _, r := range s {
		if r == '+' || r == '/' || r == '=' {
			t.Fatalf("token %q contains non url-safe rune %q", s, r)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString

	unknownField := protowire.AppendTag(nil, 9, protowire.VarintType)
	unknownField = protowire.AppendVarint(unknownField, 1)

	wrongType := protowire.AppendTag(nil, fieldPageSize, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "x")

	truncated := protowire.AppendTag(nil, fieldOffsetID, protowire.BytesType)
	truncated = protowire.AppendVarint(truncated, 40)
	truncated = append(truncated, 'a')

	tooLarge := protowire.AppendTag(nil, fieldPageSize, protowire.VarintType)
	tooLarge = protowire.AppendVarint(tooLarge, 1<<40)

	inputs := map[string]string{
		"not base64":    "***",
		"padded":        "CAo=",
		"unknown field": enc(unknownField),
		"wrong type":    enc(wrongType),
		"truncated":     enc(truncated),
		"too large":     enc(tooLarge),
		"garbage":       enc([]byte{0xff, 0xff, 0xff}),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Decode(%q) error = %v, want ErrInvalidToken", in, err)
			}
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Fatalf("Decode(%q) error does not wrap ErrInvalidArgument", in)
			}
		})
	}
}
