package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/vecstore/internal/broadcast"
	"github.com/hyperjump/vecstore/internal/cli"
	"github.com/hyperjump/vecstore/internal/config"
	"github.com/hyperjump/vecstore/internal/embedding"
	"github.com/hyperjump/vecstore/internal/jobs"
	"github.com/hyperjump/vecstore/internal/models"
)

// joinArgs joins positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// --- stores ---

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manage stores",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/stores/list")
		if err != nil {
			return err
		}
		var out struct {
			Stores []models.StoreInfo `json:"stores"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return cli.WriteStores(cmd.OutOrStdout(), out.Stores, f)
	},
}

var storesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/stores/create", models.CreateStoreRequest{Name: args[0], Model: model})
		if err != nil {
			return err
		}
		var info models.StoreInfo
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created store %s (model %s, dimension %d)\n", info.Name, info.Model, info.Dimension)
		return nil
	},
}

var storesInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a store's counts and graph state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/stores/info/"+args[0])
		if err != nil {
			return err
		}
		var info models.StoreInfo
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}
		return cli.WriteStores(cmd.OutOrStdout(), []models.StoreInfo{info}, f)
	},
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a store and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/stores/delete/"+args[0], nil)
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted store %s\n", args[0])
		return nil
	},
}

var storesEntriesCmd = &cobra.Command{
	Use:   "entries <name> [query...]",
	Short: "List entries, or look them up by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		fuzziness, _ := cmd.Flags().GetInt("fuzziness")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/stores/" + args[0] + "/entries"
		if q := joinArgs(args[1:]); q != "" {
			path += fmt.Sprintf("?q=%s&limit=%d&fuzziness=%d", url.QueryEscape(q), limit, fuzziness)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var out struct {
			Entries []models.Entry `json:"entries"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if outputFormat == string(cli.OutputJSON) {
			return writeJSONOut(cmd, out.Entries)
		}
		for _, e := range out.Entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.ID, cli.TruncateWords(e.Text, 20))
		}
		return nil
	},
}

func init() {
	storesCreateCmd.Flags().String("model", "", "embedding model id (default from config)")
	storesEntriesCmd.Flags().Int("limit", 50, "maximum number of entries for a lookup")
	storesEntriesCmd.Flags().Int("fuzziness", 0, "edit distance tolerated per term")
	storesCmd.AddCommand(storesListCmd, storesCreateCmd, storesInfoCmd, storesDeleteCmd, storesEntriesCmd)
	rootCmd.AddCommand(storesCmd)
}

// --- add / remove texts ---

var addCmd = &cobra.Command{
	Use:   "add <store> <text>...",
	Short: "Add texts synchronously, one per argument",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/stores/add_texts", models.AddTextsRequest{
			Store: args[0], Texts: args[1:], BatchSize: batch,
		})
		if err != nil {
			return err
		}
		var out struct {
			Entries []models.Entry `json:"entries"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, e := range out.Entries {
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <store> <id>",
	Short: "Remove one entry by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/stores/delete_text", models.DeleteTextRequest{Store: args[0], ID: args[1]})
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[1])
		return nil
	},
}

func init() {
	addCmd.Flags().Int("batch-size", 0, "texts embedded per chunk (default from server)")
	rootCmd.AddCommand(addCmd, removeCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <store> <file>",
	Short: "Upload a file and ingest its records in the background",
	Long: `Upload a file and ingest its records in the background.

Each non-empty line (or spreadsheet row) becomes one entry. Supported types: ` +
		"txt, md, rst, csv, jsonl, pdf, docx, xlsx, ods, odt, rtf." + `

Examples:
  vecstore ingest notes ./notes.md
  vecstore ingest --batch-size 32 --wait papers ./abstracts.jsonl`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")
		wait, _ := cmd.Flags().GetBool("wait")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		fields := map[string]string{"store": args[0]}
		if batch > 0 {
			fields["batch_size"] = strconv.Itoa(batch)
		}
		resp, err := client.upload(cmd.Context(), "/stores/upload_file", args[1], fields)
		if err != nil {
			return err
		}
		var accepted models.JobAccepted
		if err := decodeJSON(resp, &accepted); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", accepted.JobID)
		if !wait {
			return nil
		}
		return followJob(cmd, client, accepted.JobID)
	},
}

func init() {
	ingestCmd.Flags().Int("batch-size", 0, "texts embedded per chunk (default from server config)")
	ingestCmd.Flags().Bool("wait", false, "stream progress until the job finishes")
	rootCmd.AddCommand(ingestCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <store> <query...>",
	Short: "Find the entries nearest to a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/search", models.SearchRequest{Store: args[0], Query: joinArgs(args[1:]), K: k})
		if err != nil {
			return err
		}
		var out struct {
			Results []models.SearchHit `json:"results"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return cli.WriteSearchHits(cmd.OutOrStdout(), out.Results, f)
	},
}

var interpolateCmd = &cobra.Command{
	Use:   "interpolate <store> <sentence-a> <sentence-b>",
	Short: "Show the nearest entries at evenly spaced points between two sentences",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		steps, _ := cmd.Flags().GetInt("steps")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/interpolate", models.InterpolateRequest{
			Store: args[0], SentenceA: args[1], SentenceB: args[2], Steps: steps, K: k,
		})
		if err != nil {
			return err
		}
		var out models.InterpolationResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return cli.WriteInterpolation(cmd.OutOrStdout(), out, f)
	},
}

func init() {
	searchCmd.Flags().Int("k", 5, "number of results")
	interpolateCmd.Flags().Int("k", 3, "results per step")
	interpolateCmd.Flags().Int("steps", 5, "number of points")
	rootCmd.AddCommand(searchCmd, interpolateCmd)
}

// --- graph ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build and query proximity graphs",
}

var graphBuildCmd = &cobra.Command{
	Use:   "build <store>",
	Short: "Rebuild a store's graph in the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		ef, _ := cmd.Flags().GetInt("ef-construction")
		m, _ := cmd.Flags().GetInt("m")
		wait, _ := cmd.Flags().GetBool("wait")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/stores/build_graph", models.BuildGraphRequest{
			Store: args[0], K: k, EfConstruction: ef, M: m,
		})
		if err != nil {
			return err
		}
		var accepted models.JobAccepted
		if err := decodeJSON(resp, &accepted); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", accepted.JobID)
		if !wait {
			return nil
		}
		return followJob(cmd, client, accepted.JobID)
	},
}

var graphSearchCmd = &cobra.Command{
	Use:   "path <store> <start> <end>",
	Short: "Find a path through the graph between the entries nearest to two texts",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/graph_search", models.GraphSearchRequest{
			Store: args[0], Start: args[1], End: args[2], K: k,
		})
		if err != nil {
			return err
		}
		var out models.GraphPath
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return cli.WriteGraphPath(cmd.OutOrStdout(), out, f)
	},
}

func init() {
	graphBuildCmd.Flags().Int("k", 0, "neighbours per node (default from config)")
	graphBuildCmd.Flags().Int("ef-construction", 0, "construction beam width (default from config)")
	graphBuildCmd.Flags().Int("m", 0, "links per node (default from config)")
	graphBuildCmd.Flags().Bool("wait", false, "stream progress until the job finishes")
	graphSearchCmd.Flags().Int("k", 5, "maximum nodes returned")
	graphCmd.AddCommand(graphBuildCmd, graphSearchCmd)
	rootCmd.AddCommand(graphCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs")
		if err != nil {
			return err
		}
		var out struct {
			Jobs []jobs.Job `json:"jobs"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		return cli.WriteJobs(cmd.OutOrStdout(), out.Jobs, f)
	},
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Stream job updates until interrupted, or until one job finishes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return followJob(cmd, client, args[0])
		}
		return streamJobs(cmd.Context(), client, func(j jobs.Job) bool {
			cli.WriteJobLine(cmd.OutOrStdout(), j)
			return false
		})
	},
}

func init() {
	jobsCmd.AddCommand(jobsWatchCmd)
	rootCmd.AddCommand(jobsCmd)
}

// errJobFailed is returned by followJob when the job ends in failure.
var errJobFailed = errors.New("job failed")

// followJob prints updates for id until it reaches a terminal status.
func followJob(cmd *cobra.Command, client *apiClient, id string) error {
	var final jobs.Job
	err := streamJobs(cmd.Context(), client, func(j jobs.Job) bool {
		if j.ID != id {
			return false
		}
		cli.WriteJobLine(cmd.OutOrStdout(), j)
		final = j
		return j.Status.Terminal()
	})
	if err != nil {
		return err
	}
	if final.Status == jobs.StatusFailed {
		return fmt.Errorf("%w: %s", errJobFailed, final.Error)
	}
	return nil
}

// streamJobs reads job updates from the server's websocket and calls fn for each
// until fn returns true or ctx is done.
func streamJobs(ctx context.Context, client *apiClient, fn func(jobs.Job) bool) error {
	wsURL, err := client.socketURL("/ws/jobs")
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to job stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg broadcast.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("job stream: %w", err)
		}
		if msg.Type != broadcast.MessageTypeJobUpdate {
			continue
		}
		if fn(msg.Job) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List embedding models the server knows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/models/catalog"
		if local {
			path = "/models/local"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var out struct {
			Models []embedding.ModelSpec `json:"models"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if outputFormat == string(cli.OutputJSON) {
			return writeJSONOut(cmd, out.Models)
		}
		for _, m := range out.Models {
			fmt.Fprintf(cmd.OutOrStdout(), "%-45s %5d  %s\n", m.ID, m.Dimensions, m.Description)
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().Bool("local", false, "only models usable without downloading")
	rootCmd.AddCommand(modelsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, resolved, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", resolved)
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a config file with default values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("%s already exists", args[0])
		}
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		if err := config.Save(args[0], cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
