// Package checksum implements the password checksum used by the local account
// store.
//
// This is NOT a password hash. It is a 32-bit polynomial string hash applied
// twice with a fixed salt, which only keeps plaintext passwords out of storage.
// It is trivially brute-forced and offers no security guarantee. The hosted
// identity service hashes passwords with Argon2id instead.
package checksum

import (
	"strconv"
	"unicode/utf16"
)

// DefaultSalt is the fixed salt appended before the second round. Changing it
// invalidates every stored checksum.
const DefaultSalt = "ilovexxh_salt_2025"

// Sum returns the checksum of input using DefaultSalt.
func Sum(input string) string {
	return SumWithSalt(input, DefaultSalt)
}

// SumWithSalt hashes input, appends salt to the decimal form of the result,
// hashes again and renders the final value in base 16. Negative values keep
// their sign, e.g. "-6d275621".
func SumWithSalt(input, salt string) string {
	first := Hash32(input)
	final := Hash32(strconv.FormatInt(int64(first), 10) + salt)
	return strconv.FormatInt(int64(final), 16)
}

// Hash32 is the classic h = h*31 + c string hash over UTF-16 code units,
// wrapping at 32 bits.
func Hash32(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}
