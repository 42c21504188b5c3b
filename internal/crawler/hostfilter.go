package crawler

import "strings"

// HostFilter rejects URLs whose host matches an exact name or a "*.suffix" / ".suffix" pattern.
// A nil *HostFilter blocks nothing.
type HostFilter struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostFilter compiles patterns. It returns nil when no usable pattern is given.
func NewHostFilter(patterns []string) *HostFilter {
	f := &HostFilter{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			f.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			f.addSuffix(strings.TrimPrefix(value, "."))
		default:
			f.exact[value] = struct{}{}
		}
	}
	if len(f.exact) == 0 && len(f.suffixes) == 0 {
		return nil
	}
	return f
}

func (f *HostFilter) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range f.suffixes {
		if existing == suffix {
			return
		}
	}
	f.suffixes = append(f.suffixes, suffix)
}

// Blocked reports whether rawURL's host is filtered out.
func (f *HostFilter) Blocked(rawURL string) bool {
	if f == nil {
		return false
	}
	host := Host(rawURL)
	if host == "" {
		return false
	}
	if _, ok := f.exact[host]; ok {
		return true
	}
	for _, suffix := range f.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
