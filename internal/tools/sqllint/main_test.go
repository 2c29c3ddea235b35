package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFileFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "q.go", "package q\n\nconst QBad = `select 1;`\n\nconst QGood = `--sql 0b6f3a4e-3a53-4f4b-9d4e-2f1a6c3e9b10\nselect 1;`\n")

	queries, violations, err := lintFile(path)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(violations) != 1 || violations[0].name != "QBad" {
		t.Fatalf("violations = %#v", violations)
	}
	if len(queries) != 1 || queries[0].name != "QGood" {
		t.Fatalf("queries = %#v", queries)
	}
}

func TestLintFileFollowsConcatenation(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "q.go", "package q\n\nconst cols = `id, name`\n\nconst QJoined = `--sql 0b6f3a4e-3a53-4f4b-9d4e-2f1a6c3e9b10\nselect ` + cols + `\nfrom t;`\n")

	queries, violations, err := lintFile(path)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(violations) != 0 || len(queries) != 1 {
		t.Fatalf("queries=%#v violations=%#v", queries, violations)
	}
}

func TestDuplicateMarkers(t *testing.T) {
	qs := []query{
		{file: "a.go", name: "QA", marker: "--sql x"},
		{file: "b.go", name: "QB", marker: "--sql x"},
		{file: "b.go", name: "QC", marker: "--sql y"},
	}
	vs := duplicateMarkers(qs)
	if len(vs) != 1 || vs[0].name != "QB" {
		t.Fatalf("violations = %#v", vs)
	}
}
