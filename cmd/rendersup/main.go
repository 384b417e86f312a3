package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createReportsCommand(globalFlags),
		createAttachCommand(globalFlags),
		createDetachCommand(globalFlags),
		createSignalCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rendersup",
		Short: "Renderer crash supervisor",
		Long: `rendersup watches embedded web render surfaces, reloads them once after a
renderer crash and records a crash report for every incident.

Examples:
  rendersup serve --config rendersup.toml
  rendersup attach --id main --home-url https://app.example/
  rendersup status
  rendersup reports --limit 10`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", OutputTable, "output format: table, json or yaml")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://localhost:8080/api", "daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the supervisor daemon",
		Long: `Start the daemon: attach the surfaces declared in the config, open the
history sinks and serve the HTTP API.

Examples:
  rendersup serve                        # defaults, no surfaces
  rendersup serve rendersup.toml
  rendersup serve --listen :9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *serveFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "return after startup (testing)")
	return cmd
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervised surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Output = g.Output
			return cmdStatus(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "surface id (all surfaces when empty)")
	cmd.Flags().StringVar(&f.Match, "match", "", "wildcard pattern over surface ids")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createReportsCommand(g *GlobalFlags) *cobra.Command {
	f := &ReportsFlags{}
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List recent crash reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Output = g.Output
			return cmdReports(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of reports")
	cmd.Flags().BoolVarP(&f.Follow, "follow", "f", false, "keep streaming new reports")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createAttachCommand(g *GlobalFlags) *cobra.Command {
	f := &AttachFlags{}
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Supervise a new bridge surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Output = g.Output
			return cmdAttach(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "surface id (required)")
	cmd.Flags().StringVar(&f.HomeURL, "home-url", "", "fallback URL when no page loaded yet")
	cmd.Flags().StringVar(&f.Recovery, "recovery", "", "reload or recreate")
	addAPIFlags(cmd, &f.APIFlags)
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}

func createDetachCommand(g *GlobalFlags) *cobra.Command {
	f := &DetachFlags{}
	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Stop supervising a surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Output = g.Output
			return cmdDetach(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "surface id (required)")
	addAPIFlags(cmd, &f.APIFlags)
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}

func createSignalCommand(g *GlobalFlags) *cobra.Command {
	f := &SignalFlags{}
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Inject a navigation signal into a surface",
		Long: `Inject a navigation signal, as a host would report it.

Kinds: did_start_load, did_finish_load, did_fail_load, process_terminated,
web_content_process_did_terminate.

Examples:
  rendersup signal --id main --kind did_finish_load --url https://app.example/
  rendersup signal --id main --kind process_terminated --hint out_of_memory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Output = g.Output
			return cmdSignal(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "surface id (required)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "signal kind (required)")
	cmd.Flags().StringVar(&f.URL, "url", "", "page URL")
	cmd.Flags().StringVar(&f.Error, "error", "", "load failure reason")
	cmd.Flags().StringVar(&f.Hint, "hint", "", "termination reason hint")
	addAPIFlags(cmd, &f.APIFlags)
	for _, name := range []string{"id", "kind"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}
