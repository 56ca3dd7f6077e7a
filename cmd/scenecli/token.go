package main

import (
	"fmt"
	"strings"
)

// splitCommandLine splits a shell line into tokens. Whitespace
// separates tokens, double quotes group them, and a doubled quote
// inside a quoted span is a literal quote.
func splitCommandLine(line string) []string {
	var tokens []string
	var b strings.Builder
	pending := false
	quoted := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(line) && line[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			quoted = !quoted
			pending = true
		case !quoted && (c == ' ' || c == '\t'):
			if pending {
				tokens = append(tokens, b.String())
				b.Reset()
				pending = false
			}
		default:
			b.WriteByte(c)
			pending = true
		}
	}
	if pending {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// formatSize renders a byte count for a directory listing.
func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
