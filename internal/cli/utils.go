// Package cli renders API results for the vecstore command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/vecstore/internal/jobs"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const textPreview = 200

// ParseFormat returns the format named s.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchHits writes nearest-neighbour hits to w.
func WriteSearchHits(w io.Writer, hits []models.SearchHit, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, hits)
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", len(hits))
	for i, h := range hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, h.Score)
		fmt.Fprintf(w, "ID: %s\n", h.ID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Text, textPreview))
	}
	return nil
}

// WriteGraphPath writes a graph path, one node per line.
func WriteGraphPath(w io.Writer, path models.GraphPath, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, path)
	}
	fmt.Fprintf(w, "\nPath of %d nodes, distance %.4f\n\n", len(path.Nodes), path.Distance)
	for i, n := range path.Nodes {
		fmt.Fprintf(w, "%3d. %s\n", i+1, TruncateWords(n.Text, 20))
	}
	return nil
}

// WriteInterpolation writes the hits of each interpolation step.
func WriteInterpolation(w io.Writer, resp models.InterpolationResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	for _, step := range resp.Interpolations {
		fmt.Fprintf(w, "--- Step %d ---\n", step.Step)
		for _, h := range step.Results {
			fmt.Fprintf(w, "  %.4f  %s\n", h.Score, TruncateWords(h.Text, 20))
		}
	}
	return nil
}

// WriteStores writes a table of stores.
func WriteStores(w io.Writer, stores []models.StoreInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stores)
	}
	if len(stores) == 0 {
		fmt.Fprintln(w, "No stores.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %-40s %6s %8s %8s %6s\n", "NAME", "MODEL", "DIM", "ENTRIES", "VECTORS", "GRAPH")
	for _, s := range stores {
		graph := "no"
		if s.HasGraph {
			graph = "yes"
		}
		fmt.Fprintf(w, "%-24s %-40s %6d %8d %8d %6s\n", s.Name, s.Model, s.Dimension, s.Entries, s.Vectors, graph)
		if !s.Consistent {
			fmt.Fprintf(w, "  warning: %s has more vectors than entries\n", s.Name)
		}
	}
	return nil
}

// WriteJobs writes a summary line per job.
func WriteJobs(w io.Writer, list []jobs.Job, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No jobs.")
		return nil
	}
	for _, j := range list {
		WriteJobLine(w, j)
	}
	return nil
}

// WriteJobLine writes one job as a single line, including its error when failed.
func WriteJobLine(w io.Writer, j jobs.Job) {
	fmt.Fprintf(w, "%s  %-11s %-10s %-16s %3d%% (%d/%d)", j.ID, j.Kind, j.Status, j.Store, j.Progress, j.Processed, j.Total)
	if j.Error != "" {
		fmt.Fprintf(w, "  [%s] %s", j.ErrorKind, j.Error)
	}
	fmt.Fprintln(w)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
