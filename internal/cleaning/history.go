package cleaning

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// historyDoc is the on-disk shape of a History: a single bounded
// array. Grounded on cleaning_system.py's CleaningHistory, which
// persists the same bounded list as JSON; this implementation uses
// YAML to match the rest of the core's config documents.
type historyDoc struct {
	Records []HistoryRecord `yaml:"records"`
}

// History is the append-only, capacity-bounded record of past
// cleaning cycles. Oldest entries are evicted first once the ring
// fills.
type History struct {
	path string

	mu      sync.Mutex
	records []HistoryRecord
}

// LoadHistory reads a persisted history document from path. A
// missing file yields an empty history, not an error.
func LoadHistory(path string) (*History, error) {
	h := &History{path: path}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cleaning: read history %s: %w", path, err)
	}

	var doc historyDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("cleaning: parse history %s: %w", path, err)
	}
	h.records = doc.Records
	return h, nil
}

// Append adds rec to the history, evicting the oldest entry if the
// ring is already at capacity, then persists via atomic replace.
func (h *History) Append(rec HistoryRecord) {
	h.mu.Lock()
	h.records = append(h.records, rec)
	if len(h.records) > historyCapacity {
		h.records = h.records[len(h.records)-historyCapacity:]
	}
	records := append([]HistoryRecord(nil), h.records...)
	h.mu.Unlock()

	if h.path == "" {
		return
	}
	if err := h.save(records); err != nil {
		// Persistence failure does not unwind the cleaning cycle that
		// already completed; it only means the record won't survive a
		// restart.
		return
	}
}

func (h *History) save(records []HistoryRecord) error {
	b, err := yaml.Marshal(historyDoc{Records: records})
	if err != nil {
		return fmt.Errorf("cleaning: marshal history: %w", err)
	}

	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".cleaning-history-*.tmp")
	if err != nil {
		return fmt.Errorf("cleaning: create temp history file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("cleaning: write temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cleaning: close temp history file: %w", err)
	}
	return os.Rename(tmpPath, h.path)
}

// Recent returns up to limit of the most recent records, newest last.
func (h *History) Recent(limit int) []HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit >= len(h.records) {
		return append([]HistoryRecord(nil), h.records...)
	}
	return append([]HistoryRecord(nil), h.records[len(h.records)-limit:]...)
}

// LastSuccessful returns the most recent successful record for mode,
// if any.
func (h *History) LastSuccessful(mode Mode) (HistoryRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Mode == mode && h.records[i].Success {
			return h.records[i], true
		}
	}
	return HistoryRecord{}, false
}
