package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestBuildContainsEveryEntry(t *testing.T) {
	entries := []Entry{
		{Name: "a.webp", Data: []byte("alpha-bytes")},
		{Name: "b.webp", Data: []byte("bravo-bytes")},
		{Name: "c.webp", Data: []byte("charlie-bytes")},
	}

	data, err := Build(entries, nil)
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(r.File) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(r.File))
	}

	for i, f := range r.File {
		if f.Name != entries[i].Name {
			t.Fatalf("entry %d: expected name %s, got %s", i, entries[i].Name, f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		if !bytes.Equal(got, entries[i].Data) {
			t.Fatalf("entry %s: decompressed bytes differ", f.Name)
		}
	}
}

func TestBuildSkipsIncompleteEntries(t *testing.T) {
	entries := []Entry{
		{Name: "keep.png", Data: []byte("payload")},
		{Name: "", Data: []byte("nameless")},
		{Name: "empty.png", Data: nil},
	}

	data, err := Build(entries, nil)
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(r.File) != 1 || r.File[0].Name != "keep.png" {
		t.Fatalf("expected only keep.png, got %d entries", len(r.File))
	}
}

func TestBuildReportsProgress(t *testing.T) {
	entries := []Entry{
		{Name: "one.jpg", Data: []byte("1")},
		{Name: "two.jpg", Data: []byte("2")},
	}

	var fractions []float64
	var names []string
	_, err := Build(entries, func(fraction float64, name string) {
		fractions = append(fractions, fraction)
		names = append(names, name)
	})
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}

	if len(fractions) != 2 {
		t.Fatalf("expected 2 progress callbacks, got %d", len(fractions))
	}
	if fractions[0] != 0.5 || fractions[1] != 1 {
		t.Fatalf("unexpected fractions: %v", fractions)
	}
	if names[1] != "two.jpg" {
		t.Fatalf("unexpected entry names: %v", names)
	}
}
