package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toolgate/toolgate/internal/atomicfile"
)

const (
	embeddingsFile = "embeddings.json"
	metadataFile   = "embeddings-metadata.json"
)

// EmbeddingRecord is one tool's persisted embedding. The description hash
// lets re-indexing skip tools whose text did not change; the enhanced
// description records the capability appendix so re-embedding is
// deterministic.
type EmbeddingRecord struct {
	Vector              []float32 `json:"vector"`
	DescriptionHash     string    `json:"description_hash"`
	LastUpdated         time.Time `json:"last_updated"`
	ToolName            string    `json:"tool_name"`
	Description         string    `json:"description"`
	EnhancedDescription string    `json:"enhanced_description,omitempty"`
	ServerName          string    `json:"server_name"`
	InferredDomain      string    `json:"inferred_domain"`
}

// StoreMetadata describes the model and profile an embedding store was built
// against. A mismatch on either discards the store.
type StoreMetadata struct {
	ModelVersion string    `json:"model_version"`
	Dimensions   int       `json:"dimensions"`
	ProfileHash  string    `json:"profile_hash"`
	SavedAt      time.Time `json:"saved_at"`
}

func embeddingsPath(dataDir string) string {
	return filepath.Join(dataDir, "cache", embeddingsFile)
}

func metadataPath(dataDir string) string {
	return filepath.Join(dataDir, "cache", metadataFile)
}

// saveEmbeddings writes the record map and its metadata as a pair.
func saveEmbeddings(dataDir string, records map[string]*EmbeddingRecord, meta StoreMetadata) error {
	if err := atomicfile.WriteJSON(embeddingsPath(dataDir), records); err != nil {
		return fmt.Errorf("failed to write embedding store: %w", err)
	}
	if err := atomicfile.WriteJSON(metadataPath(dataDir), meta); err != nil {
		return fmt.Errorf("failed to write embedding metadata: %w", err)
	}
	return nil
}

// loadEmbeddings reads the persisted store. It returns an empty map when the
// files are absent, or when the metadata names a different model version or
// profile hash (re-embedding is then deferred to the next indexing pass).
func loadEmbeddings(dataDir, modelVersion, profileHash string) (map[string]*EmbeddingRecord, error) {
	var meta StoreMetadata
	if err := atomicfile.ReadJSON(metadataPath(dataDir), &meta); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*EmbeddingRecord), nil
		}
		return nil, fmt.Errorf("failed to read embedding metadata: %w", err)
	}
	if meta.ModelVersion != modelVersion || meta.ProfileHash != profileHash {
		return make(map[string]*EmbeddingRecord), nil
	}

	records := make(map[string]*EmbeddingRecord)
	if err := atomicfile.ReadJSON(embeddingsPath(dataDir), &records); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*EmbeddingRecord), nil
		}
		return nil, fmt.Errorf("failed to read embedding store: %w", err)
	}
	return records, nil
}
