package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/graphagent/agent"
	"github.com/brunobiangulo/graphagent/graph"
	"github.com/brunobiangulo/graphagent/ingest"
	"github.com/brunobiangulo/graphagent/stream"
)

type projectInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	Stats       graph.Stats `json:"stats"`
	Current     bool        `json:"current"`
}

// cli holds the persistent flags shared by every command.
type cli struct {
	server  string
	apiKey  string
	project string
	verbose bool
}

func (c *cli) client() *client {
	return newClient(c.server, c.apiKey)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "graphctl",
		Short:         "Client for a graphagent knowledge graph server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&c.server, "server", envOr("GRAPHAGENT_URL", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", os.Getenv("GRAPHAGENT_API_KEY"), "bearer token")
	root.PersistentFlags().StringVarP(&c.project, "project", "p", "", "project id (default: current project)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		newProjectsCmd(c),
		newIngestCmd(c),
		newChatCmd(c),
		newStatsCmd(c),
		newSearchCmd(c),
	)
	return root
}

// --- projects ---

func newProjectsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "Manage projects",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Projects []projectInfo `json:"projects"`
			}
			if err := c.client().doJSON(cmd.Context(), http.MethodGet, "/projects", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Projects) == 0 {
				fmt.Fprintln(out, "No projects.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME\tENTITIES\tRELATIONS\tCREATED")
			for _, p := range resp.Projects {
				marker := ""
				if p.Current {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", marker, p.ID, p.Name,
					p.Stats.NodeCount, p.Stats.EdgeCount, p.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p projectInfo
			req := map[string]string{"name": args[0], "description": description}
			if err := c.client().doJSON(cmd.Context(), http.MethodPost, "/projects", req, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "project description")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project and its graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().doJSON(cmd.Context(), http.MethodDelete, "/projects/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use ID",
		Short: "Make a project current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"project_id": args[0]}
			if err := c.client().doJSON(cmd.Context(), http.MethodPut, "/projects/current", req, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current project is now %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, del, use)
	return cmd
}

// --- ingest ---

func newIngestCmd(c *cli) *cobra.Command {
	var text, source string
	cmd := &cobra.Command{
		Use:   "ingest [FILE]",
		Short: "Ingest a document file, or inline text with --text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res ingest.Result
			cl := c.client()
			switch {
			case len(args) == 1 && text != "":
				return errors.New("pass either a file or --text, not both")
			case len(args) == 1:
				if err := cl.upload(cmd.Context(), c.project, args[0], &res); err != nil {
					return err
				}
			case text != "":
				req := map[string]string{"text": text, "source": source}
				if err := cl.doJSON(cmd.Context(), http.MethodPost, projectPath(c.project, "/ingest"), req, &res); err != nil {
					return err
				}
			default:
				return errors.New("nothing to ingest: pass a file or --text")
			}
			printIngest(cmd.OutOrStdout(), &res)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "inline text to ingest")
	cmd.Flags().StringVar(&source, "source", "", "source label for inline text")
	return cmd
}

func printIngest(w io.Writer, res *ingest.Result) {
	fmt.Fprintf(w, "Document %s: %d/%d chunks processed", res.DocumentID, res.ChunksProcessed, res.ChunksTotal)
	if res.ChunksFailed > 0 {
		fmt.Fprintf(w, ", %d failed", res.ChunksFailed)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Entities: %d created, %d merged\n", res.EntitiesCreated, res.EntitiesMerged)
	fmt.Fprintf(w, "Relations: %d created, %d updated, %d dropped\n", res.RelationsCreated, res.RelationsUpdated, res.RelationsDropped)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

// --- chat ---

func newChatCmd(c *cli) *cobra.Command {
	var showChain bool
	cmd := &cobra.Command{
		Use:   "chat QUESTION",
		Short: "Ask a question and stream the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.client().chat(cmd.Context(), c.project, args[0])
			if err != nil {
				return err
			}
			defer body.Close()

			out := cmd.OutOrStdout()
			_, payload, err := stream.Collect(body, func(s string) { fmt.Fprint(out, s) })
			fmt.Fprintln(out)
			if errors.Is(err, stream.ErrIncomplete) {
				return fmt.Errorf("%w: %v", errIncomplete, err)
			}
			if err != nil {
				return err
			}
			if showChain {
				var res agent.Result
				if err := json.Unmarshal(payload, &res); err != nil {
					return fmt.Errorf("decoding completion: %w", err)
				}
				printChain(out, &res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showChain, "chain", false, "print the retrieval chain after the answer")
	return cmd
}

func printChain(w io.Writer, res *agent.Result) {
	fmt.Fprintf(w, "\nRoute: %s\n", res.RouteDecision)
	for _, step := range res.RetrievalChain {
		fmt.Fprintf(w, "  %q: %d found\n", step.Query, step.Found)
		for _, e := range step.Entities {
			fmt.Fprintf(w, "    %s (%s), %d neighbors\n", e.Name, e.Type, len(e.Neighbors))
		}
	}
}

// --- graph reads ---

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph counters for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats struct {
				graph.Stats
				graph.TypeBreakdown
			}
			if err := c.client().doJSON(cmd.Context(), http.MethodGet, projectPath(c.project, "/stats"), nil, &stats); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entities: %d\nRelations: %d\n", stats.NodeCount, stats.EdgeCount)
			printCounts(out, "Entity types", stats.EntityTypes)
			printCounts(out, "Relation types", stats.RelationTypes)
			return nil
		},
	}
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %-24s %d\n", k, counts[k])
	}
}

func newSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find entities by name or description substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Entities []graph.Entity `json:"entities"`
			}
			path := projectPath(c.project, "/search?q="+url.QueryEscape(args[0]))
			if err := c.client().doJSON(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Entities) == 0 {
				fmt.Fprintln(out, "No matching entities.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tDESCRIPTION")
			for _, e := range resp.Entities {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Type, e.Description)
			}
			return tw.Flush()
		},
	}
}
