package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// SourceID derives a stable identifier for a listing on sites that
// expose no native product id. First 16 hex chars of an MD5 digest over
// name-brand-partNumber, so the same listing hashes identically across
// runs.
func SourceID(name, brand, partNumber string) string {
	input := fmt.Sprintf("%s-%s-%s",
		NormalizeField(name),
		NormalizeField(brand),
		NormalizeField(partNumber),
	)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// NormalizeField lowercases and collapses whitespace so hash inputs are
// insensitive to formatting noise.
func NormalizeField(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return multiSpaceRegex.ReplaceAllString(s, " ")
}
