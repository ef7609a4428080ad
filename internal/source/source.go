// Package source describes the content sources a link can be converted from.
package source

import (
	"fmt"
	"net/url"
	"strings"
)

type Kind string

const (
	YouTube    Kind = "youtube"
	SoundCloud Kind = "soundcloud"
)

var allowedHosts = map[Kind]map[string]struct{}{
	YouTube: {
		"www.youtube.com":   {},
		"youtube.com":       {},
		"m.youtube.com":     {},
		"youtu.be":          {},
		"music.youtube.com": {},
	},
	SoundCloud: {
		"soundcloud.com":     {},
		"www.soundcloud.com": {},
		"m.soundcloud.com":   {},
	},
}

var supportedBrowsers = map[string]struct{}{
	"chrome":   {},
	"firefox":  {},
	"edge":     {},
	"safari":   {},
	"opera":    {},
	"brave":    {},
	"chromium": {},
	"vivaldi":  {},
}

// Parse resolves a source name. An empty name selects YouTube.
func Parse(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return YouTube, nil
	case YouTube, SoundCloud:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported source %q", s)
	}
}

func (k Kind) String() string {
	return string(k)
}

// Label is the human readable source name used in messages.
func (k Kind) Label() string {
	switch k {
	case YouTube:
		return "YouTube"
	case SoundCloud:
		return "SoundCloud"
	default:
		return string(k)
	}
}

// Allows reports whether rawURL is an http(s) link on one of the source's hosts.
func (k Kind) Allows(rawURL string) bool {
	hosts, ok := allowedHosts[k]
	if !ok {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	_, ok = hosts[host]
	return ok
}

// NormalizeBrowser returns the lower-cased browser name when it is a
// supported cookie source, or "" otherwise.
func NormalizeBrowser(s string) string {
	b := strings.ToLower(strings.TrimSpace(s))
	if _, ok := supportedBrowsers[b]; ok {
		return b
	}
	return ""
}
