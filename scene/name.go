package scene

import (
	"strconv"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// identifierReplacer maps runes outside [A-Za-z0-9_] to '_'.
type identifierReplacer struct{}

func (*identifierReplacer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	n := copy(dst, src)
	for i := 0; i < n; i++ {
		c := dst[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			continue
		}
		dst[i] = '_'
	}
	if n < len(src) {
		return n, n, transform.ErrShortDst
	}
	return n, n, nil
}

func (*identifierReplacer) Reset() {
}

var nameSanitizer = transform.Chain(norm.NFKC, &identifierReplacer{})

func IsValidNodeName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			continue
		}
		if c >= '0' && c <= '9' && i > 0 {
			continue
		}
		return false
	}
	return true
}

// ValidNodeName converts any display name into a usable node name.
// Multi-byte runes become one '_' per byte after NFKC folding.
func ValidNodeName(s string) string {
	if IsValidNodeName(s) {
		return s
	}
	t, _, err := transform.String(nameSanitizer, s)
	if err != nil || t == "" {
		t = "_"
	}
	if c := t[0]; c >= '0' && c <= '9' {
		t = "_" + t
	}
	return t
}

// ValidChildNames sanitizes names and makes them unique against both each
// other and the existing children of parent (nil parent: no existing names).
func ValidChildNames(parent *Node, names []string) []string {
	used := map[string]bool{}
	if parent != nil {
		for _, c := range parent.Children() {
			used[c.Name()] = true
		}
	}
	ret := make([]string, len(names))
	for i, name := range names {
		n := ValidNodeName(name)
		if used[n] {
			base := n
			for j := 1; ; j++ {
				n = base + "_" + strconv.Itoa(j)
				if !used[n] {
					break
				}
			}
		}
		used[n] = true
		ret[i] = n
	}
	return ret
}

// UniqueChildName returns name, made valid and unused under parent spec.
func UniqueChildName(parent *NodeSpec, name string) string {
	n := ValidNodeName(name)
	if parent == nil || parent.Child(n) == nil {
		return n
	}
	base := n
	for j := 1; ; j++ {
		n = base + "_" + strconv.Itoa(j)
		if parent.Child(n) == nil {
			return n
		}
	}
}
