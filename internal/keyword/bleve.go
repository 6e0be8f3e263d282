// Package keyword provides a Bleve full-text index over store entries.
package keyword

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/vecstore/internal/models"
)

const batchSize = 500

// Result is a single keyword hit.
type Result struct {
	ID    string
	Score float64
}

// EntryIndex is a derived keyword index; it can always be rebuilt from the entry log.
type EntryIndex struct {
	path  string
	index bleve.Index
}

type entryDoc struct {
	Text string `json:"text"`
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so lookups match the exact word.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.DefaultMapping = docMapping
	return im
}

// Open opens the index at path or creates it when missing.
func Open(path string) (*EntryIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &EntryIndex{path: path, index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &EntryIndex{path: path, index: index}, nil
}

// Add indexes entries in batches.
func (e *EntryIndex) Add(entries []models.Entry) error {
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		b := e.index.NewBatch()
		for _, entry := range entries[start:end] {
			if err := b.Index(entry.ID, entryDoc{Text: entry.Text}); err != nil {
				return fmt.Errorf("index entry %s: %w", entry.ID, err)
			}
		}
		if err := e.index.Batch(b); err != nil {
			return fmt.Errorf("Bleve batch failed: %w", err)
		}
	}
	return nil
}

// Delete removes one entry.
func (e *EntryIndex) Delete(id string) error {
	return e.index.Delete(id)
}

// Rebuild drops the index and indexes entries from scratch.
func (e *EntryIndex) Rebuild(entries []models.Entry) error {
	if err := e.index.Close(); err != nil {
		return fmt.Errorf("close Bleve index: %w", err)
	}
	if err := os.RemoveAll(e.path); err != nil {
		return fmt.Errorf("remove Bleve index: %w", err)
	}
	index, err := bleve.New(e.path, newMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	e.index = index
	return e.Add(entries)
}

// DocCount returns the number of indexed entries.
func (e *EntryIndex) DocCount() (uint64, error) {
	return e.index.DocCount()
}

// Search runs a match query, or a fuzzy one when fuzziness > 0, and returns up to limit hits.
func (e *EntryIndex) Search(query string, limit, fuzziness int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty keyword query")
	}
	var q blevequery.Query
	if fuzziness > 0 {
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		q = mq
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Close closes the Bleve index.
func (e *EntryIndex) Close() error {
	return e.index.Close()
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}
