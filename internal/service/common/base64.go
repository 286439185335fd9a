package common

import (
	"encoding/base64"
	"fmt"
)

// EncodePagingToken encodes an opaque paging state as a URL-safe string.
func EncodePagingToken(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodePagingToken decodes a URL-safe paging token.
func DecodePagingToken(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode paging token: %w", err)
	}
	return data, nil
}
