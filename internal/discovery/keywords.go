package discovery

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
)

// synonyms expands common request verbs so the keyword ranker matches tool
// names that use a different word for the same action.
var synonyms = map[string][]string{
	"save":    {"write", "create", "store"},
	"show":    {"view", "display", "read", "get"},
	"open":    {"read", "get", "load"},
	"find":    {"search", "query", "lookup"},
	"fetch":   {"get", "download", "request"},
	"remove":  {"delete", "drop"},
	"folder":  {"directory"},
	"run":     {"execute", "exec"},
	"make":    {"create", "build"},
	"change":  {"update", "modify", "edit"},
	"send":    {"post", "publish"},
	"list":    {"ls", "enumerate"},
	"look":    {"search", "find"},
	"grab":    {"get", "fetch"},
	"message": {"notify", "post"},
}

// keywordIndex is the fallback ranker used when no embedding model is
// available. It is an in-memory BM25 index over tool names and descriptions;
// the tokenised name field is boosted so name hits dominate.
type keywordIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// keywordDocument is one tool in the keyword index. The document ID is the
// external "server:tool" id.
type keywordDocument struct {
	ToolName    string `json:"tool_name"`
	NameText    string `json:"name_text"` // tool name with separators spaced out
	ServerName  string `json:"server_name"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

func newKeywordIndex(logger *zap.Logger) (*keywordIndex, error) {
	indexMapping := bleve.NewIndexMapping()
	toolMapping := bleve.NewDocumentMapping()

	toolNameField := bleve.NewTextFieldMapping()
	toolNameField.Analyzer = keyword.Name
	toolNameField.Store = true
	toolMapping.AddFieldMappingsAt("tool_name", toolNameField)

	nameTextField := bleve.NewTextFieldMapping()
	nameTextField.Analyzer = standard.Name
	nameTextField.Store = true
	toolMapping.AddFieldMappingsAt("name_text", nameTextField)

	serverNameField := bleve.NewTextFieldMapping()
	serverNameField.Analyzer = keyword.Name
	serverNameField.Store = true
	toolMapping.AddFieldMappingsAt("server_name", serverNameField)

	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name
	descriptionField.Store = true
	toolMapping.AddFieldMappingsAt("description", descriptionField)

	domainField := bleve.NewTextFieldMapping()
	domainField.Analyzer = standard.Name
	domainField.Store = true
	toolMapping.AddFieldMappingsAt("domain", domainField)

	indexMapping.AddDocumentMapping("tool", toolMapping)
	indexMapping.DefaultMapping = toolMapping

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &keywordIndex{index: index, logger: logger}, nil
}

func (k *keywordIndex) indexTools(tools []*config.ToolMetadata) error {
	batch := k.index.NewBatch()
	for _, tool := range tools {
		doc := &keywordDocument{
			ToolName:    tool.Name,
			NameText:    spacedName(tool.Name),
			ServerName:  tool.ServerName,
			Description: tool.Description,
			Domain:      InferDomain(tool.ServerName),
		}
		if err := batch.Index(tool.ID(), doc); err != nil {
			return fmt.Errorf("failed to batch tool %s: %w", tool.ID(), err)
		}
	}
	return k.index.Batch(batch)
}

func (k *keywordIndex) deleteServer(serverName string) error {
	termQuery := bleve.NewTermQuery(serverName)
	termQuery.SetField("server_name")

	searchReq := bleve.NewSearchRequest(termQuery)
	searchReq.Size = 1000

	searchResult, err := k.index.Search(searchReq)
	if err != nil {
		return fmt.Errorf("failed to enumerate tools of %s: %w", serverName, err)
	}
	for _, hit := range searchResult.Hits {
		if err := k.index.Delete(hit.ID); err != nil {
			k.logger.Warn("Failed to delete tool from keyword index",
				zap.String("tool_id", hit.ID), zap.Error(err))
		}
	}
	return nil
}

// scoredHit is one keyword match before normalisation.
type scoredHit struct {
	toolID string
	score  float64
}

// search runs a synonym-expanded disjunction over the name and description
// fields. Raw BM25 scores come back unnormalised; the engine scales them.
func (k *keywordIndex) search(queryText string, limit int) ([]scoredHit, error) {
	terms := expandSynonyms(Tokenize(queryText))
	if len(terms) == 0 {
		return nil, nil
	}

	var subqueries []query.Query
	for _, term := range terms {
		nameQuery := bleve.NewMatchQuery(term)
		nameQuery.SetField("name_text")
		nameQuery.SetBoost(2.0)
		subqueries = append(subqueries, nameQuery)

		descQuery := bleve.NewMatchQuery(term)
		descQuery.SetField("description")
		subqueries = append(subqueries, descQuery)

		domainQuery := bleve.NewMatchQuery(term)
		domainQuery.SetField("domain")
		domainQuery.SetBoost(0.5)
		subqueries = append(subqueries, domainQuery)
	}

	searchReq := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(subqueries...))
	searchReq.Size = limit
	searchResult, err := k.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]scoredHit, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		hits = append(hits, scoredHit{toolID: hit.ID, score: hit.Score})
	}
	return hits, nil
}

func (k *keywordIndex) close() error {
	return k.index.Close()
}

// expandSynonyms returns the query terms plus their synonyms, originals
// first, deduplicated in order.
func expandSynonyms(terms []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range terms {
		add(t)
	}
	for _, t := range terms {
		for _, syn := range synonyms[t] {
			add(syn)
		}
	}
	return out
}

// spacedName turns "read_file" or "readFile" into "read file" so the
// standard analyzer tokenises name parts.
func spacedName(name string) string {
	var b strings.Builder
	var prev rune
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(' ')
		case r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z':
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return strings.ToLower(b.String())
}
