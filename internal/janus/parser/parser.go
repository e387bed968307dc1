// Package parser turns iClock push lines into tagged records.
//
// Tagged lines look like "USER PIN=1\tName=Alice\tPri=0"; the tag selects
// the record kind and the rest is tab-separated key=value pairs.  ATTLOG
// uploads carry positional tab-separated columns with no tag, so the upload
// table is needed to interpret them.
package parser

import (
	"strings"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/types"
)

// attLogColumns is the positional layout of an ATTLOG line.
var attLogColumns = []string{"PIN", "Time", "Status", "Verify", "WorkCode", "Reserved1", "Reserved2"}

var tagKinds = map[string]string{
	"USER":     types.KindUser,
	"BIODATA":  types.KindBioData,
	"BIOPHOTO": types.KindBioPhoto,
	"USERPIC":  types.KindUserPic,
	"FP":       types.KindBioData,
	"FACE":     types.KindBioData,
	"ATTLOG":   types.KindAttLog,
	"RTLOG":    types.KindRealTimeLog,
}

// Parser is the default line parser.  The zero value is ready to use.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Parse returns the record for one physical line, or false for lines that
// carry nothing (blank, or a bare tag with no fields).
func (p *Parser) Parse(table, line string) (types.Record, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return types.Record{}, false
	}

	if tag, rest, ok := strings.Cut(line, " "); ok && isTag(tag) {
		rec := types.Record{Kind: kindForTag(tag), Fields: parseKV(rest), Raw: line}
		normalizeLegacy(tag, &rec)
		if len(rec.Fields) == 0 {
			return types.Record{}, false
		}
		return rec, true
	}

	switch strings.ToUpper(strings.TrimSpace(table)) {
	case "ATTLOG":
		return parseAttLog(line)
	case "RTLOG":
		fields := parseKV(line)
		if len(fields) == 0 {
			return types.Record{}, false
		}
		return types.Record{Kind: types.KindRealTimeLog, Fields: fields, Raw: line}, true
	}

	fields := parseKV(line)
	if len(fields) == 0 {
		return types.Record{}, false
	}
	kind := strings.ToUpper(strings.TrimSpace(table))
	if kind == "" {
		kind = "UNKNOWN"
	}
	return types.Record{Kind: kind, Fields: fields, Raw: line}, true
}

// isTag reports whether s looks like a record tag: upper-case letters only.
func isTag(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func kindForTag(tag string) string {
	if k, ok := tagKinds[tag]; ok {
		return k
	}
	return tag
}

// normalizeLegacy maps the pre-BIODATA "FP" and "FACE" lines onto BIODATA
// field names.
func normalizeLegacy(tag string, rec *types.Record) {
	switch tag {
	case "FP":
		rec.Fields["Type"] = "1"
		if v, ok := rec.Fields["FID"]; ok {
			rec.Fields["No"] = v
		}
	case "FACE":
		rec.Fields["Type"] = "2"
	default:
		return
	}
	if v, ok := rec.Fields["TMP"]; ok {
		rec.Fields["Tmp"] = v
	}
}

func parseKV(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, "\t") {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func parseAttLog(line string) (types.Record, bool) {
	cols := strings.Split(line, "\t")
	if len(cols) < 2 || strings.TrimSpace(cols[0]) == "" {
		return types.Record{}, false
	}
	fields := make(map[string]string, len(cols))
	for i, c := range cols {
		if i >= len(attLogColumns) {
			break
		}
		fields[attLogColumns[i]] = strings.TrimSpace(c)
	}
	return types.Record{Kind: types.KindAttLog, Fields: fields, Raw: line}, true
}
