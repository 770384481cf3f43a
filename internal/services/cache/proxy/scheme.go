package proxy

import "strings"

// MarkerPrefix is prepended to a source URL's scheme so the playback engine
// routes the URL through the proxy instead of the network.
const MarkerPrefix = "cache+"

func isHTTPURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// AddScheme marks an http(s) URL. Other URLs and already marked ones are
// returned unchanged.
func AddScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if ShouldHandle(raw) || !isHTTPURL(raw) {
		return raw
	}
	return MarkerPrefix + raw
}

// StripScheme returns the real source of a marked URL.
func StripScheme(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !ShouldHandle(raw) {
		return raw, false
	}
	return raw[len(MarkerPrefix):], true
}

// ShouldHandle reports whether raw carries the marker over http(s).
func ShouldHandle(raw string) bool {
	raw = strings.TrimSpace(raw)
	if len(raw) <= len(MarkerPrefix) || !strings.EqualFold(raw[:len(MarkerPrefix)], MarkerPrefix) {
		return false
	}
	return isHTTPURL(raw[len(MarkerPrefix):])
}
