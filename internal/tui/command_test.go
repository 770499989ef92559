package tui

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  Group  Weekend plans  bob carol ")
	if cmd.Name != "group" {
		t.Errorf("name = %q", cmd.Name)
	}
	if want := []string{"Weekend", "plans", "bob", "carol"}; !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("args = %v", cmd.Args)
	}
	if cmd.Rest != "Weekend plans  bob carol" {
		t.Errorf("rest = %q", cmd.Rest)
	}

	first, rest := cmd.Shift()
	if first != "Weekend" || rest != "plans  bob carol" {
		t.Errorf("shift = %q, %q", first, rest)
	}
}

func TestParseCommandEmpty(t *testing.T) {
	cmd := ParseCommand("")
	if cmd.Name != "" || len(cmd.Args) != 0 || cmd.Rest != "" {
		t.Errorf("got %+v", cmd)
	}
	if first, rest := cmd.Shift(); first != "" || rest != "" {
		t.Errorf("shift = %q, %q", first, rest)
	}
}

func TestLooksLikeID(t *testing.T) {
	known := func(id string) bool { return id == "m1" || id == "tmp-1" }
	cases := map[string]bool{
		"m1":    true,
		"tmp-1": true,
		"hello": false,
		"":      false,
		"m1 x":  false,
	}
	for in, want := range cases {
		if got := looksLikeID(in, known); got != want {
			t.Errorf("looksLikeID(%q) = %v, want %v", in, got, want)
		}
	}
}
