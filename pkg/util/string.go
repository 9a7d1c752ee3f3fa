package util

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode/utf8"
)

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n random alphanumeric characters.
func RandomString(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(randomAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte(randomAlphabet[i%len(randomAlphabet)])
			continue
		}
		b.WriteByte(randomAlphabet[idx.Int64()])
	}
	return b.String()
}

// Truncate cuts s to at most max runes, appending suffix when cut.
func Truncate(s string, max int, suffix string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + suffix
}

// CleanHashtags strips the leading '#' from hashtags and drops empties,
// the shape platforms expect for keyword tags.
func CleanHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimLeft(tag, "#"))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// JoinNonEmpty joins the non-blank parts with sep.
func JoinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, sep)
}
