// Package discovery ranks catalogued tools against natural-language queries.
// Scoring is hybrid: cosine similarity over locally computed embeddings,
// boosted by rule-based capability inference and intent resolution, with a
// BM25 keyword ranker as the fallback when no embedding model is available.
package discovery

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/toolerr"
)

const (
	// enhancementCap bounds the summed rule-based boosts so no single tool
	// can be unilaterally promoted past the vector ranking.
	enhancementCap = 0.25
	// tieEpsilon is the score distance within which two tools are considered
	// tied and the domain tie-break applies.
	tieEpsilon = 0.02
	// keywordCeiling scales normalised BM25 scores so keyword-only hits never
	// claim full confidence.
	keywordCeiling = 0.9
)

// Engine is the semantic discovery engine. One writer (the indexer) mutates
// the embedding records via copy-on-write; queries read the swapped snapshot.
type Engine struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	embedder Embedder
	keywords *keywordIndex
	logger   *zap.Logger

	writeMu     sync.Mutex
	records     atomic.Value // map[string]*EmbeddingRecord
	profileHash string
}

// NewEngine creates the engine. A nil embedder puts the engine permanently
// in keyword-fallback mode.
func NewEngine(cfg *config.Config, cat *catalog.Catalog, embedder Embedder, profileHash string, logger *zap.Logger) (*Engine, error) {
	kw, err := newKeywordIndex(logger.Named("keywords"))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:         cfg,
		catalog:     cat,
		embedder:    embedder,
		keywords:    kw,
		logger:      logger.Named("discovery"),
		profileHash: profileHash,
	}
	e.records.Store(make(map[string]*EmbeddingRecord))
	return e, nil
}

// ModelEnabled reports whether vector scoring is available.
func (e *Engine) ModelEnabled() bool {
	return e.embedder != nil
}

// Close releases the keyword index.
func (e *Engine) Close() error {
	return e.keywords.close()
}

func (e *Engine) currentRecords() map[string]*EmbeddingRecord {
	return e.records.Load().(map[string]*EmbeddingRecord)
}

// Load seeds embedding records from the persisted store. Records built by a
// different model version or profile are discarded; re-embedding happens on
// the next indexing pass.
func (e *Engine) Load() error {
	if e.embedder == nil {
		return nil
	}
	records, err := loadEmbeddings(e.cfg.DataDir, e.embedder.Version(), e.profileHash)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	e.records.Store(records)
	e.writeMu.Unlock()

	e.logger.Info("Embedding store loaded", zap.Int("records", len(records)))
	return nil
}

// IndexServer reconciles one server's tools into the embedding records and
// the keyword index. Tools whose description hash is unchanged keep their
// existing vector; nothing is recomputed for them.
func (e *Engine) IndexServer(serverName string) error {
	tools := e.catalog.ToolsOf(serverName)

	if err := e.keywords.deleteServer(serverName); err != nil {
		return err
	}
	if len(tools) > 0 {
		if err := e.keywords.indexTools(tools); err != nil {
			return err
		}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old := e.currentRecords()
	next := make(map[string]*EmbeddingRecord, len(old)+len(tools))
	for id, rec := range old {
		if rec.ServerName != serverName {
			next[id] = rec
		}
	}

	embedded := 0
	for _, tool := range tools {
		if prev, ok := old[tool.ID()]; ok && prev.DescriptionHash == tool.Hash {
			next[tool.ID()] = prev
			continue
		}
		next[tool.ID()] = e.buildRecord(tool)
		embedded++
	}
	e.records.Store(next)

	e.logger.Debug("Server indexed",
		zap.String("server", serverName),
		zap.Int("tools", len(tools)),
		zap.Int("embedded", embedded))
	return e.persistLocked(next)
}

// RemoveServer drops a server's records from both indexes.
func (e *Engine) RemoveServer(serverName string) error {
	if err := e.keywords.deleteServer(serverName); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old := e.currentRecords()
	next := make(map[string]*EmbeddingRecord, len(old))
	for id, rec := range old {
		if rec.ServerName != serverName {
			next[id] = rec
		}
	}
	e.records.Store(next)
	return e.persistLocked(next)
}

func (e *Engine) buildRecord(tool *config.ToolMetadata) *EmbeddingRecord {
	rec := &EmbeddingRecord{
		DescriptionHash: tool.Hash,
		LastUpdated:     time.Now().UTC(),
		ToolName:        tool.Name,
		Description:     tool.Description,
		ServerName:      tool.ServerName,
		InferredDomain:  InferDomain(tool.ServerName),
	}
	if e.embedder == nil {
		return rec
	}

	composed, appendix := ComposedText(tool)
	rec.EnhancedDescription = appendix
	vec, err := e.embedder.Embed(composed)
	if err != nil {
		e.logger.Warn("Embedding failed, tool will rely on keyword matching",
			zap.String("tool_id", tool.ID()), zap.Error(err))
		return rec
	}
	rec.Vector = vec
	return rec
}

func (e *Engine) persistLocked(records map[string]*EmbeddingRecord) error {
	if e.embedder == nil {
		return nil
	}
	meta := StoreMetadata{
		ModelVersion: e.embedder.Version(),
		Dimensions:   e.embedder.Dimensions(),
		ProfileHash:  e.profileHash,
		SavedAt:      time.Now().UTC(),
	}
	if err := saveEmbeddings(e.cfg.DataDir, records, meta); err != nil {
		e.logger.Error("Failed to persist embedding store", zap.Error(err))
		return err
	}
	return nil
}

// Search returns the top candidates for a query, confidence in [0,1], sorted
// descending. An empty query yields an empty result. floor <= 0 uses the
// configured confidence floor.
func (e *Engine) Search(queryText string, limit int, floor float64) ([]*config.SearchResult, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.cfg.TopK
	}
	if floor <= 0 {
		floor = e.cfg.ConfidenceFloor
	}

	var scores map[string]float64
	var err error
	if e.embedder != nil {
		scores = e.vectorScores(queryText)
	} else {
		scores, err = e.keywordScores(queryText)
		if err != nil {
			return nil, err
		}
	}

	// Intent resolution applies in both modes; capability inference belongs
	// to the vector pipeline and is skipped in keyword fallback.
	tools := e.catalog.AllTools()
	type candidate struct {
		tool  *config.ToolMetadata
		score float64
	}
	candidates := make([]candidate, 0, len(tools))
	for _, tool := range tools {
		enh := intentEnhancement(queryText, tool)
		if e.embedder != nil {
			enh += capabilityEnhancement(queryText, tool)
		}
		if enh > enhancementCap {
			enh = enhancementCap
		}
		score := scores[tool.ID()] + enh
		if score > 1 {
			score = 1
		}
		if score < floor {
			continue
		}
		candidates = append(candidates, candidate{tool: tool, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if math.Abs(a.score-b.score) <= tieEpsilon {
			aDomain := domainMatchesQuery(queryText, a.tool)
			bDomain := domainMatchesQuery(queryText, b.tool)
			if aDomain != bDomain {
				return aDomain
			}
			return a.tool.ID() < b.tool.ID()
		}
		return a.score > b.score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]*config.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = &config.SearchResult{Tool: c.tool, Confidence: c.score}
	}
	return results, nil
}

// vectorScores computes cosine similarity of the query against every
// non-empty tool vector. Negative similarities clamp to zero so the final
// confidence stays in [0,1].
func (e *Engine) vectorScores(queryText string) map[string]float64 {
	scores := make(map[string]float64)
	qvec, err := e.embedder.Embed(queryText)
	if err != nil || len(qvec) == 0 {
		return scores
	}

	for id, rec := range e.currentRecords() {
		if len(rec.Vector) == 0 {
			continue
		}
		sim := Cosine(qvec, rec.Vector)
		if sim > 0 {
			scores[id] = sim
		}
	}
	return scores
}

// keywordScores runs the BM25 fallback and normalises scores by the best
// hit, scaled under the keyword ceiling.
func (e *Engine) keywordScores(queryText string) (map[string]float64, error) {
	hits, err := e.keywords.search(queryText, e.cfg.TopK*4)
	if err != nil {
		return nil, toolerr.Internal(err, "keyword search failed")
	}
	scores := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return scores, nil
	}
	best := hits[0].score
	for _, h := range hits {
		if h.score > best {
			best = h.score
		}
	}
	if best <= 0 {
		return scores, nil
	}
	for _, h := range hits {
		scores[h.toolID] = keywordCeiling * h.score / best
	}
	return scores, nil
}

// domainMatchesQuery reports whether a tool's inferred domain shares a
// meaningful keyword with the query. Used only for tie-breaking.
func domainMatchesQuery(queryText string, tool *config.ToolMetadata) bool {
	queryTokens := make(map[string]bool)
	for _, tok := range Tokenize(queryText) {
		queryTokens[tok] = true
	}
	for _, tok := range Tokenize(InferDomain(tool.ServerName)) {
		switch tok {
		case "operations", "and", "general", "utility":
			continue
		}
		if queryTokens[tok] {
			return true
		}
	}
	return false
}
