// Package ipmatch evaluates API key allow-lists for caller IPs and origins.
package ipmatch

import (
	"net/netip"
	"net/url"
	"path"
	"strings"
)

// IPAllowed reports whether ip satisfies any entry in allowed. An empty list allows every
// caller. Entries are tried as an exact address, then as a CIDR prefix, then as a glob
// where '*' matches any run of characters (for example "10.0.*.*").
func IPAllowed(allowed []string, ip string) bool {
	if len(allowed) == 0 {
		return true
	}
	ip = strings.TrimSpace(ip)
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	canonical := addr.String()

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			if a.Unmap() == addr {
				return true
			}
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			if p.Masked().Contains(addr) {
				return true
			}
			continue
		}
		if strings.Contains(entry, "*") {
			if ok, err := path.Match(entry, canonical); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// DomainAllowed reports whether origin satisfies any entry in allowed. origin may be a bare
// host or a URL; entries are hosts or globs such as "*.example.com". Matching ignores case
// and port. An empty list allows every origin.
func DomainAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	host := hostOf(origin)
	if host == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == host {
			return true
		}
		if strings.Contains(entry, "*") {
			if ok, err := path.Match(entry, host); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func hostOf(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if h, _, ok := strings.Cut(origin, ":"); ok {
		origin = h
	}
	return strings.ToLower(origin)
}
