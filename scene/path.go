package scene

import (
	"strings"
)

// Path is an absolute node path like "/World/box". The root path is "/".
type Path string

const RootPath = Path("/")

func (p Path) IsRoot() bool {
	return p == RootPath || p == ""
}

func (p Path) Name() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (p Path) Parent() Path {
	s := strings.TrimSuffix(string(p), "/")
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return RootPath
	}
	return Path(s[:i])
}

func (p Path) Child(name string) Path {
	if p.IsRoot() {
		return Path("/" + name)
	}
	return Path(string(p) + "/" + name)
}

// HasPrefix reports whether p equals prefix or is inside it.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.IsRoot() {
		return strings.HasPrefix(string(p), "/")
	}
	return p == prefix || strings.HasPrefix(string(p), string(prefix)+"/")
}

// Split returns the path elements. The root path has none.
func (p Path) Split() []string {
	s := strings.Trim(string(p), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func (p Path) IsValid() bool {
	if p.IsRoot() {
		return p == RootPath
	}
	if !strings.HasPrefix(string(p), "/") || strings.HasSuffix(string(p), "/") {
		return false
	}
	for _, el := range p.Split() {
		if !IsValidNodeName(el) {
			return false
		}
	}
	return true
}

func MakePath(elements ...string) Path {
	if len(elements) == 0 {
		return RootPath
	}
	return Path("/" + strings.Join(elements, "/"))
}
