package export

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestBuildArchiveDeterministic(t *testing.T) {
	files := []File{
		{Name: "work_record.json", Data: []byte(`{"id":"wr-1"}`)},
		{Name: "audit_trail.csv", Data: []byte("seq,event\n1,export.started\n")},
		{Name: "evidence_index.json", Data: []byte(`[]`)},
	}

	first, err := BuildArchive(files)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	second, err := BuildArchive(files)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two builds of the same files produced different bytes")
	}
}

func TestBuildArchiveOrderIndependent(t *testing.T) {
	a := []File{
		{Name: "b.csv", Data: []byte("b")},
		{Name: "a.json", Data: []byte("a")},
	}
	b := []File{
		{Name: "a.json", Data: []byte("a")},
		{Name: "b.csv", Data: []byte("b")},
	}

	first, err := BuildArchive(a)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	second, err := BuildArchive(b)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("input order changed the archive bytes")
	}
}

func TestBuildArchiveDoesNotReorderInput(t *testing.T) {
	files := []File{
		{Name: "z.csv", Data: []byte("z")},
		{Name: "a.json", Data: []byte("a")},
	}
	if _, err := BuildArchive(files); err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	if files[0].Name != "z.csv" {
		t.Error("BuildArchive reordered its input slice")
	}
}

func TestBuildArchiveReadableContent(t *testing.T) {
	files := []File{
		{Name: "work_record.json", Data: []byte(`{"id":"wr-1"}`)},
		{Name: "audit_trail.csv", Data: []byte("seq,event\n")},
	}

	data, err := BuildArchive(files)
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader failed: %v", err)
	}
	if len(reader.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(reader.File))
	}
	// Entries are written in sorted name order.
	if reader.File[0].Name != "audit_trail.csv" || reader.File[1].Name != "work_record.json" {
		t.Errorf("unexpected entry order: %s, %s", reader.File[0].Name, reader.File[1].Name)
	}

	rc, err := reader.Open("work_record.json")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(content) != `{"id":"wr-1"}` {
		t.Errorf("unexpected entry content: %s", content)
	}
}
