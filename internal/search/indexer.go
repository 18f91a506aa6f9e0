package search

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
	"github.com/kunhuang12345/atwf/internal/inbox"
)

// IndexerConfig controls what the indexer scans and how often.
type IndexerConfig struct {
	TeamDir      string
	WatchEnabled bool
	PollInterval time.Duration // periodic full rescan fallback; default 60s
}

// Indexer keeps a Store's FTS5 index in sync with one team directory's
// inbox/, requests/, and design/ trees, the way the teacher's
// knowledge.Indexer keeps its project index in sync with a workspace:
// a full scan up front, then fsnotify-driven incremental reindexing with a
// debounce, falling back to a periodic poll if fsnotify is unavailable.
type Indexer struct {
	store  *Store
	cfg    IndexerConfig
	logger *log.Logger

	mu       sync.Mutex
	debounce map[string]time.Time

	watcher *fsnotify.Watcher
}

// NewIndexer creates an Indexer over store for the given config.
func NewIndexer(store *Store, cfg IndexerConfig, logger *log.Logger) *Indexer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	return &Indexer{store: store, cfg: cfg, logger: logger, debounce: map[string]time.Time{}}
}

// Start performs a full scan, then (if enabled) watches the team directory
// for changes, blocking until ctx is cancelled. A periodic full rescan runs
// alongside the watcher as a correctness backstop.
func (idx *Indexer) Start(ctx context.Context) {
	indexed, removed := idx.FullScan()
	idx.logger.Printf("search indexer: full scan done (indexed=%d, removed=%d)", indexed, removed)

	if idx.cfg.WatchEnabled {
		if err := idx.startWatcher(ctx); err != nil {
			idx.logger.Printf("search indexer: fsnotify init failed (%v), polling only", err)
		}
	}

	ticker := time.NewTicker(idx.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			idx.stopWatcher()
			return
		case <-ticker.C:
			idx.FullScan()
		}
	}
}

// RunOnce performs a single full scan, for one-shot CLI invocations and tests.
func (idx *Indexer) RunOnce() (indexed, removed int) {
	return idx.FullScan()
}

// FullScan walks inbox/, requests/, and design/ under the team directory,
// indexing every eligible file and removing entries for files the scan no
// longer sees.
func (idx *Indexer) FullScan() (indexed, removed int) {
	existingPaths, _ := idx.store.IndexedPaths()
	existing := make(map[string]bool, len(existingPaths))
	for _, p := range existingPaths {
		existing[p] = true
	}
	seen := map[string]bool{}

	idx.scanInbox(&seen, &indexed)
	idx.scanRequests(&seen, &indexed)
	idx.scanDesign(&seen, &indexed)

	for p := range existing {
		if !seen[p] {
			if err := idx.store.Remove(p); err != nil {
				idx.logger.Printf("search indexer: remove %s: %v", p, err)
				continue
			}
			removed++
		}
	}
	return indexed, removed
}

func (idx *Indexer) scanInbox(seen *map[string]bool, indexed *int) {
	root := filepath.Join(idx.cfg.TeamDir, "inbox")
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		msg, err := inbox.ReadMessage(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(idx.cfg.TeamDir, path)
		doc := Document{
			Path:     rel,
			Title:    fmt.Sprintf("%s -> %s: %s", msg.From, msg.To, msg.Summary),
			Content:  msg.Summary + "\n\n" + msg.Body,
			Category: "message",
		}
		if idx.indexOne(doc) {
			*indexed++
		}
		(*seen)[doc.Path] = true
		return nil
	})
}

func (idx *Indexer) scanRequests(seen *map[string]bool, indexed *int) {
	root := filepath.Join(idx.cfg.TeamDir, "requests")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		requestID := e.Name()
		var meta domain.RequestMeta
		ok, err := fsio.ReadJSON(filepath.Join(root, requestID, "meta.json"), &meta)
		if err != nil || !ok {
			continue
		}
		topicDoc := Document{
			Path:     filepath.Join("requests", requestID, "meta.json"),
			Title:    fmt.Sprintf("request %s: %s", requestID, meta.Topic),
			Content:  meta.Topic + "\n\n" + meta.Message,
			Category: "request_topic",
		}
		if idx.indexOne(topicDoc) {
			*indexed++
		}
		(*seen)[topicDoc.Path] = true

		respDir := filepath.Join(root, requestID, "responses")
		respEntries, err := os.ReadDir(respDir)
		if err != nil {
			continue
		}
		for _, re := range respEntries {
			if re.IsDir() || !strings.HasSuffix(re.Name(), ".md") {
				continue
			}
			path := filepath.Join(respDir, re.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			rel, _ := filepath.Rel(idx.cfg.TeamDir, path)
			doc := Document{
				Path:     rel,
				Title:    fmt.Sprintf("response to %s from %s", requestID, strings.TrimSuffix(re.Name(), ".md")),
				Content:  string(content),
				Category: "response",
			}
			if idx.indexOne(doc) {
				*indexed++
			}
			(*seen)[doc.Path] = true
		}
	}
}

func (idx *Indexer) scanDesign(seen *map[string]bool, indexed *int) {
	root := filepath.Join(idx.cfg.TeamDir, "design")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(root, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(idx.cfg.TeamDir, path)
		doc := Document{
			Path:     rel,
			Title:    "design: " + strings.TrimSuffix(e.Name(), ".md"),
			Content:  string(content),
			Category: "design",
		}
		if idx.indexOne(doc) {
			*indexed++
		}
		(*seen)[doc.Path] = true
	}
}

func (idx *Indexer) indexOne(doc Document) bool {
	changed, err := idx.store.IndexIfChanged(doc)
	if err != nil {
		idx.logger.Printf("search indexer: index %s: %v", doc.Path, err)
		return false
	}
	return changed
}

func (idx *Indexer) startWatcher(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	idx.watcher = w

	for _, sub := range []string{"inbox", "requests", "design"} {
		dir := filepath.Join(idx.cfg.TeamDir, sub)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			addRecursive(w, dir)
		}
	}

	go idx.watchLoop(ctx)
	return nil
}

func addRecursive(w *fsnotify.Watcher, root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || !info.IsDir() {
			return nil
		}
		_ = w.Add(path)
		return nil
	})
}

func (idx *Indexer) watchLoop(ctx context.Context) {
	const debounceWindow = 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			idx.mu.Lock()
			if last, ok := idx.debounce[event.Name]; ok && time.Since(last) < debounceWindow {
				idx.mu.Unlock()
				continue
			}
			idx.debounce[event.Name] = time.Now()
			idx.mu.Unlock()
			idx.FullScan()
		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			idx.logger.Printf("search indexer: watcher error: %v", err)
		}
	}
}

func (idx *Indexer) stopWatcher() {
	if idx.watcher != nil {
		idx.watcher.Close()
	}
}
