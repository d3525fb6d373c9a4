package sources

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestListStock(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"waves.mp4", "Beach.MOV", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListStock(dir)
	if err != nil {
		t.Fatalf("ListStock: %v", err)
	}
	want := []string{"stock:Beach.MOV", "stock:waves.mp4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got, err = ListStock(filepath.Join(dir, "absent"))
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no clips for a missing directory, got %v, %v", got, err)
	}
}
