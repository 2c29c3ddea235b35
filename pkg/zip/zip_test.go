package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveRoundTrip(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC)
	data, err := Archive([]Entry{
		{Name: "job.json", Data: []byte(`{"id":"j1"}`), Modified: modified},
		{Name: "events.json", Data: []byte(`[]`), Modified: modified},
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 files, got %d", len(zr.File))
	}
	f := zr.File[0]
	if f.Name != "job.json" {
		t.Fatalf("unexpected first entry %q", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != `{"id":"j1"}` {
		t.Fatalf("unexpected content %q", got)
	}
	if !f.Modified.Equal(modified) {
		t.Fatalf("modified %v, want %v", f.Modified, modified)
	}
}
