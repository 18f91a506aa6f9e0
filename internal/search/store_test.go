package search

import (
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "search.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexIfChangedThenQuery(t *testing.T) {
	s := tempStore(t)

	doc := Document{
		Path:     "inbox/dev-C/unread/from-admin-B/000001.md",
		Title:    "admin-B -> dev-C: kickoff",
		Content:  "Please start on the authentication module today.",
		Category: "message",
	}
	changed, err := s.IndexIfChanged(doc)
	if err != nil {
		t.Fatalf("IndexIfChanged: %v", err)
	}
	if !changed {
		t.Fatalf("expected the first index of a document to report changed")
	}

	changed, err = s.IndexIfChanged(doc)
	if err != nil {
		t.Fatalf("IndexIfChanged #2: %v", err)
	}
	if changed {
		t.Fatalf("expected an unchanged checksum to skip reindexing")
	}

	results, err := s.Query("authentication module", "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].Path != doc.Path {
		t.Fatalf("expected one hit for %s, got %+v", doc.Path, results)
	}
}

func TestQueryFiltersByCategory(t *testing.T) {
	s := tempStore(t)

	mustIndex(t, s, Document{Path: "a", Title: "a", Content: "deploy the pipeline", Category: "message"})
	mustIndex(t, s, Document{Path: "b", Title: "b", Content: "deploy the pipeline", Category: "design"})

	results, err := s.Query("deploy pipeline", "design", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].Path != "b" {
		t.Fatalf("expected only the design doc, got %+v", results)
	}
}

func TestRemoveDropsFromQuery(t *testing.T) {
	s := tempStore(t)
	mustIndex(t, s, Document{Path: "a", Title: "a", Content: "stale worker detection", Category: "message"})

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	results, err := s.Query("stale worker", "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after Remove, got %+v", results)
	}
}

func TestSanitizeFTSQueryStripsSyntaxCharacters(t *testing.T) {
	got := sanitizeFTSQuery(`"quoted" (parens) wild* col:value`)
	want := "quoted parens wild colvalue"
	if got != want {
		t.Fatalf("sanitizeFTSQuery = %q, want %q", got, want)
	}
}

func mustIndex(t *testing.T, s *Store, doc Document) {
	t.Helper()
	if _, err := s.IndexIfChanged(doc); err != nil {
		t.Fatalf("IndexIfChanged: %v", err)
	}
}
