package main

import (
	"reflect"
	"testing"
)

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"list", []string{"list"}},
		{"copy a.scn b.scn", []string{"copy", "a.scn", "b.scn"}},
		{"cd  \t sync://host/path", []string{"cd", "sync://host/path"}},
		{`send "hello world"`, []string{"send", "hello world"}},
		{`send "say ""hi"" now"`, []string{"send", `say "hi" now`}},
		{`checkpoint a.scn ""`, []string{"checkpoint", "a.scn", ""}},
		{`stat "a b"/c`, []string{"stat", "a b/c"}},
		{`send "unterminated`, []string{"send", "unterminated"}},
	}
	for _, tt := range tests {
		if got := splitCommandLine(tt.line); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitCommandLine(%q) = %#v, want %#v", tt.line, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0B"},
		{999, "999B"},
		{1023, "1023B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{1 << 20, "1.0MB"},
		{10*1<<20 + 1<<19, "10.5MB"},
		{3 << 30, "3.0GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.n); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFindCommand(t *testing.T) {
	for _, name := range []string{"list", "ls", "dir", "LIST", "quit", "exit", "listCheckpoints", "listcheckpoints"} {
		if findCommand(name) == nil {
			t.Errorf("findCommand(%q) = nil", name)
		}
	}
	if c := findCommand("ls"); c == nil || c.name != "list" {
		t.Errorf("findCommand(ls) resolved to %v, want list", c)
	}
	if findCommand("nosuch") != nil {
		t.Errorf("findCommand(nosuch) should be nil")
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, name := range []string{"debug", "verbose", "info", "warning", "warn", "error", "Debug"} {
		if _, ok := parseLogLevel(name); !ok {
			t.Errorf("parseLogLevel(%q) not recognized", name)
		}
	}
	if _, ok := parseLogLevel("noise"); ok {
		t.Errorf("parseLogLevel(noise) should fail")
	}
	// verbose is the lowest level
	dbg, _ := parseLogLevel("debug")
	vrb, _ := parseLogLevel("verbose")
	if vrb >= dbg {
		t.Errorf("verbose level %v should be below debug %v", vrb, dbg)
	}
}
