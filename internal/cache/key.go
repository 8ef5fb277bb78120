package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key digests the full query parameter set, so any variation in query text,
// document filter, top-k, or threshold lands in its own cache slot. The
// document filter is sorted first: filter order does not change results.
func Key(query string, documentIDs []string, topK int, threshold float64) string {
	ids := append([]string(nil), documentIDs...)
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%g", query, strings.Join(ids, ","), topK, threshold)
	return hex.EncodeToString(h.Sum(nil))
}
