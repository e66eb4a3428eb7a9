package script

import "testing"

func TestParseDirectives_CommentForms(t *testing.T) {
	src := []byte(`-- build helper script
-- @depends "vendor/inspect"
-- @depends "lib"
-- @runtime "luajit@2.1"
-- @option "strict"

local m = require("inspect")
-- @depends "ignored/below/code"
`)
	d := ParseDirectives(src)

	if len(d.Depends) != 2 || d.Depends[0] != "vendor/inspect" || d.Depends[1] != "lib" {
		t.Errorf("Depends = %v, want [vendor/inspect lib]", d.Depends)
	}
	if d.RuntimeName != "luajit" || d.RuntimeVersion != "2.1" {
		t.Errorf("Runtime = %s@%s, want luajit@2.1", d.RuntimeName, d.RuntimeVersion)
	}
	if len(d.Options) != 1 || d.Options[0] != "strict" {
		t.Errorf("Options = %v, want [strict]", d.Options)
	}
}

func TestParseDirectives_JSONBlock(t *testing.T) {
	src := []byte(`-- @script {"depends":["vendor/a","vendor/b"],"runtime":{"name":"lua","version":"5.4"},"options":["o1"]}
print("hi")
`)
	d := ParseDirectives(src)

	if len(d.Depends) != 2 {
		t.Fatalf("Depends = %v, want two entries", d.Depends)
	}
	if d.RuntimeName != "lua" || d.RuntimeVersion != "5.4" {
		t.Errorf("Runtime = %s@%s, want lua@5.4", d.RuntimeName, d.RuntimeVersion)
	}
	if len(d.Options) != 1 || d.Options[0] != "o1" {
		t.Errorf("Options = %v, want [o1]", d.Options)
	}
}

func TestParseDirectives_Malformed(t *testing.T) {
	src := []byte(`-- @depends vendor-without-quotes
-- @runtime ""
-- @script {not json
print("ok")
`)
	d := ParseDirectives(src)

	if len(d.Depends) != 0 {
		t.Errorf("unquoted depends should be skipped, got %v", d.Depends)
	}
	if d.RuntimeName != "" {
		t.Errorf("empty runtime should be skipped, got %q", d.RuntimeName)
	}
}

func TestParseDirectives_StopsAtCode(t *testing.T) {
	src := []byte(`local x = 1
-- @depends "late"
`)
	d := ParseDirectives(src)
	if len(d.Depends) != 0 {
		t.Errorf("directives below code must be ignored, got %v", d.Depends)
	}
}
