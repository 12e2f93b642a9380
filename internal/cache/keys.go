package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// QueryKey builds the cache key for a query evaluated against the packet set
// identified by indexDigest, with the given environment bindings. Binding
// order does not matter.
func QueryKey(indexDigest string, query string, environment map[string]string) string {
	names := make([]string, 0, len(environment))
	for name := range environment {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(query)
	for _, name := range names {
		sb.WriteString("\x00")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(environment[name])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	// 16 bytes of the digest is plenty to keep keys distinct
	return fmt.Sprintf("query:%s:%s", indexDigest, hex.EncodeToString(hash[:16]))
}
