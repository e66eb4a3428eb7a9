package script

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

// Directives are the configuration hints a script declares in its
// leading comment block:
//
//	-- @depends "vendor/inspect"
//	-- @runtime "luajit"
//	-- @option "strict"
//
// or, equivalently, a single JSON directive:
//
//	-- @script {"depends":["vendor/inspect"],"runtime":{"name":"luajit"}}
//
// Parsing stops at the first non-comment, non-blank line; directives
// below code are ignored.
type Directives struct {
	Depends        []string
	RuntimeName    string
	RuntimeVersion string
	Options        []string
}

// ParseDirectives extracts directives from script source. It never
// fails; malformed directives are skipped.
func ParseDirectives(src []byte) Directives {
	var d Directives

	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		switch {
		case strings.HasPrefix(body, "@depends"):
			if v, ok := quotedArg(body, "@depends"); ok {
				d.Depends = append(d.Depends, v)
			}
		case strings.HasPrefix(body, "@runtime"):
			if v, ok := quotedArg(body, "@runtime"); ok {
				name, version, _ := strings.Cut(v, "@")
				d.RuntimeName = name
				d.RuntimeVersion = version
			}
		case strings.HasPrefix(body, "@option"):
			if v, ok := quotedArg(body, "@option"); ok {
				d.Options = append(d.Options, v)
			}
		case strings.HasPrefix(body, "@script"):
			d.mergeJSON(strings.TrimSpace(strings.TrimPrefix(body, "@script")))
		}
	}
	return d
}

// mergeJSON folds a JSON directive block into the directives.
func (d *Directives) mergeJSON(raw string) {
	if !gjson.Valid(raw) {
		return
	}
	for _, dep := range gjson.Get(raw, "depends").Array() {
		if s := dep.String(); s != "" {
			d.Depends = append(d.Depends, s)
		}
	}
	if name := gjson.Get(raw, "runtime.name").String(); name != "" {
		d.RuntimeName = name
	}
	if ver := gjson.Get(raw, "runtime.version").String(); ver != "" {
		d.RuntimeVersion = ver
	}
	for _, opt := range gjson.Get(raw, "options").Array() {
		if s := opt.String(); s != "" {
			d.Options = append(d.Options, s)
		}
	}
}

// quotedArg extracts the quoted argument of a directive keyword.
func quotedArg(body, keyword string) (string, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(body, keyword))
	if len(rest) < 2 || rest[0] != '"' {
		return "", false
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return "", false
	}
	v := rest[1 : 1+end]
	if v == "" {
		return "", false
	}
	return v, true
}
