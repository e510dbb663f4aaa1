// Package collection maps URLs to a stable parent-collection identity.
// Sources whose URLs share a parent path belong to one collection and
// are presented to the user as a single knowledge base.
package collection

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
)

// ParentURL returns the grouping identity for u: the first two
// non-empty path segments, so /docs/python/foo and /docs/python/bar
// share a parent. URLs with fewer segments group by scheme+host+path.
func ParentURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}

	segs := splitSegments(u.Path)
	if len(segs) < 2 {
		return u.Scheme + "://" + u.Host + u.Path
	}
	return u.Scheme + "://" + u.Host + "/" + segs[0] + "/" + segs[1]
}

// Name derives the collection identifier for a URL:
// collection_<hex8(md5(parent_url))>.
func Name(rawURL string) string {
	sum := md5.Sum([]byte(ParentURL(rawURL)))
	return "collection_" + hex.EncodeToString(sum[:])[:8]
}

func splitSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
