// Package escape neutralizes caller input before it is used as an upstream target and cache key.
package escape

import (
	"strings"
)

const upperhex = "0123456789ABCDEF"

var htmlDataReplacer = strings.NewReplacer("<", "&lt;")

// InHTMLData makes s safe to place in HTML data context by escaping '<'
func InHTMLData(s string) string {
	return htmlDataReplacer.Replace(s)
}

// URIInHTMLData percent-encodes s the way encodeURI does, then applies InHTMLData.
// Existing %XX escapes are kept so already encoded URIs are not encoded twice,
// and brackets are kept for IPv6 hosts.
func URIInHTMLData(s string) string {
	return InHTMLData(encodeURI(s))
}

func encodeURI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(c)
		case shouldKeep(c):
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
	return b.String()
}

func shouldKeep(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')',
		';', '/', '?', ':', '@', '&', '=', '+', '$', ',', '#',
		'[', ']':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
