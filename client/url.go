package client

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// URLScheme addresses a hub; everything else is a local path.
const URLScheme = "sync"

// DefaultPort is used when a hub URL has no port.
const DefaultPort = "8123"

// URL is a parsed resource address. Host is empty for local paths.
type URL struct {
	Host string
	Path string
}

func (u *URL) IsHub() bool { return u.Host != "" }

func (u *URL) String() string {
	if u.IsHub() {
		return URLScheme + "://" + u.Host + u.Path
	}
	return u.Path
}

func ParseURL(s string) (*URL, error) {
	if s == "" {
		return nil, fmt.Errorf("empty: %w", ErrBadURL)
	}
	if strings.HasPrefix(s, URLScheme+"://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%s: %w", s, ErrBadURL)
		}
		return &URL{Host: u.Host, Path: path.Clean("/" + u.Path)}, nil
	}
	if strings.HasPrefix(s, "file://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, ErrBadURL)
		}
		return &URL{Path: u.Path}, nil
	}
	return &URL{Path: s}, nil
}

func IsHubURL(s string) bool {
	return strings.HasPrefix(s, URLScheme+"://")
}

// CombineURL resolves rel against base. rel may be a full URL, an
// absolute path or a relative path; dot segments are cleaned and any
// query is dropped.
func CombineURL(base, rel string) string {
	if IsHubURL(rel) || strings.HasPrefix(rel, "file://") {
		return rel
	}
	if IsHubURL(base) {
		u, err := url.Parse(base)
		if err != nil {
			return rel
		}
		if strings.HasPrefix(rel, "/") {
			u.Path = path.Clean(rel)
		} else {
			u.Path = path.Clean(path.Join(path.Dir(u.Path), rel))
		}
		u.RawQuery = ""
		return u.String()
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return rel
	}
	return filepath.Join(filepath.Dir(base), rel)
}

func BaseName(s string) string {
	if u, err := ParseURL(s); err == nil && u.IsHub() {
		return path.Base(u.Path)
	}
	return filepath.Base(strings.TrimSuffix(s, "/"))
}

func ParentURL(s string) string {
	if u, err := ParseURL(s); err == nil && u.IsHub() {
		u.Path = path.Dir(u.Path)
		return u.String()
	}
	return filepath.Dir(s)
}

// hostWithPort appends the default hub port when missing.
func hostWithPort(host string) string {
	if strings.LastIndexByte(host, ':') > strings.LastIndexByte(host, ']') {
		return host
	}
	return host + ":" + DefaultPort
}
