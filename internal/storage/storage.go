package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/price-research-scraper/internal/pipeline"
)

const indexFile = "index.json"

var ErrReportNotFound = errors.New("report not found")

// ReportEntry is the index line of one saved report.
type ReportEntry struct {
	RunID            string    `json:"run_id"`
	Description      string    `json:"description"`
	Status           string    `json:"status"` // completed, failed
	RecommendedPrice string    `json:"recommended_price,omitempty"`
	File             string    `json:"file"`
	CreatedAt        time.Time `json:"created_at"`
	Errors           []string  `json:"errors,omitempty"`
}

// ReportStore keeps one JSON file per research run in a directory, plus an
// index of all of them. It stands in for the database when none is configured.
type ReportStore struct {
	mu      sync.RWMutex
	entries map[string]*ReportEntry
	dir     string
	now     func() time.Time
}

// NewReportStore opens the report directory, creating it and loading its index.
func NewReportStore(dir string) (*ReportStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	rs := &ReportStore{
		entries: make(map[string]*ReportEntry),
		dir:     dir,
		now:     time.Now,
	}

	if err := rs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return rs, nil
}

// Save writes the full result and records it in the index. Saving the same
// run again replaces it.
func (rs *ReportStore) Save(res *pipeline.Result) (*ReportEntry, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	id := res.RunID.String()
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	name := id + ".json"
	if err := writeAtomic(filepath.Join(rs.dir, name), data); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	entry := &ReportEntry{
		RunID:       id,
		Description: res.Request.Description,
		Status:      "completed",
		File:        name,
		CreatedAt:   rs.now(),
		Errors:      res.Errors,
	}
	if !res.OK() {
		entry.Status = "failed"
	}
	if res.Recommendation != nil {
		entry.RecommendedPrice = res.Recommendation.Price.StringFixed(2)
	}

	rs.entries[id] = entry
	if err := rs.save(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (rs *ReportStore) Get(runID string) (*ReportEntry, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	entry, exists := rs.entries[runID]
	return entry, exists
}

// Load decodes the saved report of runID into v.
func (rs *ReportStore) Load(runID string, v any) error {
	entry, ok := rs.Get(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReportNotFound, runID)
	}

	data, err := os.ReadFile(filepath.Join(rs.dir, entry.File))
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	return json.Unmarshal(data, v)
}

// List returns every entry, newest first.
func (rs *ReportStore) List() []*ReportEntry {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]*ReportEntry, 0, len(rs.entries))
	for _, e := range rs.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (rs *ReportStore) GetStats() map[string]int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	stats := make(map[string]int)
	for _, e := range rs.entries {
		stats[e.Status]++
	}
	stats["total"] = len(rs.entries)
	return stats
}

func (rs *ReportStore) save() error {
	data, err := json.MarshalIndent(rs.entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(rs.dir, indexFile), data)
}

func (rs *ReportStore) load() error {
	data, err := os.ReadFile(filepath.Join(rs.dir, indexFile))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &rs.entries)
}

// writeAtomic writes to a temp file first and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
