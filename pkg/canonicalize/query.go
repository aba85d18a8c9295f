package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// QueryHashLength is the number of hex characters kept from the full
// digest when scoping evidence and cache entries to a query.
const QueryHashLength = 16

// NormalizeQuery reduces a user query to its canonical text form:
// Unicode NFC, lower-cased, interior whitespace collapsed to single
// spaces, leading/trailing whitespace removed.
func NormalizeQuery(query string) string {
	normalized := norm.NFC.String(query)
	normalized = strings.ToLower(normalized)
	return strings.Join(strings.Fields(normalized), " ")
}

// QueryHash returns the truncated SHA-256 digest of the normalized query.
// Two queries that differ only in case, whitespace, or Unicode
// composition produce the same hash.
func QueryHash(query string) string {
	h := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(h[:])[:QueryHashLength]
}
