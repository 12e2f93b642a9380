package router

import (
	"net/http"
	"strings"
)

// Files and metadata never change once stored, so their ETag is fixed by the
// name they are stored under.

func strongETag(name string) string {
	return `"` + name + `"`
}

// parseIfNoneMatch splits an If-None-Match header into its entity tags. Weak
// tags keep their W/ prefix.
func parseIfNoneMatch(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if header == "*" {
		return []string{"*"}
	}

	var tags []string
	for i := 0; i < len(header); {
		for i < len(header) && (header[i] == ' ' || header[i] == ',') {
			i++
		}
		if i >= len(header) {
			break
		}

		weak := false
		if strings.HasPrefix(header[i:], "W/") {
			weak = true
			i += 2
		}
		if i >= len(header) || header[i] != '"' {
			// malformed; skip to the next comma
			for i < len(header) && header[i] != ',' {
				i++
			}
			continue
		}

		start := i
		i++
		for i < len(header) && header[i] != '"' {
			i++
		}
		if i >= len(header) {
			break
		}
		i++
		tag := header[start:i]
		if weak {
			tag = "W/" + tag
		}
		tags = append(tags, tag)
	}
	return tags
}

// notModified sets the ETag header and, when the request already holds that
// tag, answers 304 and reports true. Comparison is weak as If-None-Match
// requires.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	for _, tag := range parseIfNoneMatch(r.Header.Get("If-None-Match")) {
		if tag == "*" || strings.TrimPrefix(tag, "W/") == etag {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}
