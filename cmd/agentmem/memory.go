package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/export"
)

func newNamespacesCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces holding memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			var p core.Namespace
			if prefix != "" {
				p = core.ParseNamespace(prefix)
			}
			nss, err := client.Namespaces(cmd.Context(), p)
			if err != nil {
				return err
			}
			for _, ns := range nss {
				fmt.Fprintln(cmd.OutOrStdout(), ns.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only namespaces under this path, e.g. memories/alice")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit    int
		subtree  bool
		minScore float64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "search <namespace> <query>",
		Short: "Semantic search within a namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			opts := []core.SearchOption{core.WithLimit(limit), core.WithMinScore(minScore)}
			if subtree {
				opts = append(opts, core.WithPrefix())
			}
			res, err := client.Search(cmd.Context(), core.ParseNamespace(args[0]), args[1], opts...)
			if err != nil {
				return err
			}
			if res.Degraded {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: query could not be embedded, results are by recency")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Memories)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tNAMESPACE\tKEY\tCONTENT")
			for _, m := range res.Memories {
				fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", m.Score, m.Namespace, m.Key, m.Content.EmbeddingText())
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", core.DefaultSearchLimit, "maximum results")
	cmd.Flags().BoolVar(&subtree, "prefix", false, "search the whole subtree under the namespace")
	cmd.Flags().Float64Var(&minScore, "min-score", -1, "drop results below this similarity")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		dir     string
		sqlite  bool
		targets []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories to JSON (with a timestamped backup) and optionally SQLite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()

			jsonSink, err := export.NewJSONFileSink(dir)
			if err != nil {
				return err
			}
			sinks := []export.Sink{jsonSink}
			if sqlite {
				sqliteSink, err := export.NewSQLiteSink(filepath.Join(dir, "memories.sqlite"))
				if err != nil {
					return err
				}
				defer sqliteSink.Close()
				sinks = append(sinks, sqliteSink)
			}

			var nss []core.Namespace
			for _, t := range targets {
				nss = append(nss, core.ParseNamespace(t))
			}
			n, err := export.Export(cmd.Context(), client, sinks, a.logger, nss...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d memories to %s\n", n, jsonSink.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", defaultExportDir(), "output directory")
	cmd.Flags().BoolVar(&sqlite, "sqlite", false, "also append to memories.sqlite in the output directory")
	cmd.Flags().StringSliceVar(&targets, "namespace", nil, "namespaces to export (default all)")
	return cmd
}

func defaultExportDir() string {
	if d := os.Getenv("AGENTMEM_EXPORT_DIR"); d != "" {
		return d
	}
	return "./memory_storage"
}
