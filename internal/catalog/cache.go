package catalog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toolgate/toolgate/internal/atomicfile"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/upstream"
)

const (
	cacheJSONFile = "all-tools.json"
	cacheCSVFile  = "all-tools.csv"
)

// CacheMetadata describes the provenance of a persisted catalog, used for
// staleness detection against the active profile.
type CacheMetadata struct {
	ProfileName  string            `json:"profile_name"`
	ProfileHash  string            `json:"profile_hash"`
	ServerHashes map[string]string `json:"server_hashes"`
	SavedAt      time.Time         `json:"saved_at"`
	ToolCount    int               `json:"tool_count"`
}

// CacheDocument is the structured persisted form of the catalog.
type CacheDocument struct {
	Metadata   CacheMetadata                  `json:"metadata"`
	ServerInfo map[string]upstream.ServerInfo `json:"server_info,omitempty"`
	Tools      []*config.ToolMetadata         `json:"tools"`
}

func cacheJSONPath(dataDir string) string {
	return filepath.Join(dataDir, "cache", cacheJSONFile)
}

func cacheCSVPath(dataDir string) string {
	return filepath.Join(dataDir, "cache", cacheCSVFile)
}

// saveCache writes the JSON and CSV forms as a pair, each atomically. The
// CSV is a line-oriented index for cold-start listing without JSON parsing.
func saveCache(dataDir string, doc *CacheDocument) error {
	if err := atomicfile.WriteJSON(cacheJSONPath(dataDir), doc); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"tool_id", "server", "tool", "description"}); err != nil {
		return fmt.Errorf("failed to write catalog index header: %w", err)
	}
	for _, tool := range doc.Tools {
		if err := w.Write([]string{tool.ID(), tool.ServerName, tool.Name, tool.Description}); err != nil {
			return fmt.Errorf("failed to write catalog index row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush catalog index: %w", err)
	}

	return atomicfile.WriteFile(cacheCSVPath(dataDir), buf.Bytes(), 0o644)
}

// loadCache reads the persisted catalog. A missing file yields an empty
// document rather than an error; either file of the pair being absent is
// treated as no cache.
func loadCache(dataDir string) (*CacheDocument, error) {
	var doc CacheDocument
	if err := atomicfile.ReadJSON(cacheJSONPath(dataDir), &doc); err != nil {
		if os.IsNotExist(err) {
			return &CacheDocument{}, nil
		}
		return nil, fmt.Errorf("failed to read catalog cache: %w", err)
	}
	if _, err := os.Stat(cacheCSVPath(dataDir)); os.IsNotExist(err) {
		return &CacheDocument{}, nil
	}
	return &doc, nil
}

// staleServers compares a cache against the active profile and returns the
// set of server names whose cached entries cannot be trusted. wholeInvalid
// means the entire cache must be discarded.
func staleServers(doc *CacheDocument, profile *config.Profile, maxAge time.Duration, now time.Time) (stale map[string]bool, wholeInvalid bool) {
	stale = make(map[string]bool)

	if doc.Metadata.ProfileHash == "" {
		return stale, true
	}
	if now.Sub(doc.Metadata.SavedAt) > maxAge {
		return stale, true
	}
	if doc.Metadata.ProfileName != profile.Name {
		return stale, true
	}

	currentHashes := profile.ServerHashes()
	if doc.Metadata.ProfileHash == profile.ContentHash() {
		return stale, false
	}

	// Profile changed; salvage the slices whose per-server hash still holds.
	for name, h := range currentHashes {
		if doc.Metadata.ServerHashes[name] != h {
			stale[name] = true
		}
	}
	// Servers removed from the profile are dropped wholesale.
	for name := range doc.Metadata.ServerHashes {
		if _, ok := currentHashes[name]; !ok {
			stale[name] = true
		}
	}
	return stale, false
}
