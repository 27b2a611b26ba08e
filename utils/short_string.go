package utils

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// ShortenLog keeps the head and tail of a long identifier for log lines.
func ShortenLog(s string) string {
	cut := 8
	if len(s) <= 8 {
		return s
	} else if len(s) <= 16 {
		cut = 4
	}
	return fmt.Sprintf("%s...%s", s[:cut], s[len(s)-cut:])
}

// ShortBase58 renders a signature or pubkey in base58 and shortens it.
func ShortBase58(b []byte) string {
	return ShortenLog(base58.Encode(b))
}
