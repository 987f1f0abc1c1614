// Package main is the entry point for the chatfetch CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"chatfetch/internal/config"
	"chatfetch/internal/reqlog"
	"chatfetch/pkg/auth"
	"chatfetch/pkg/chat"
	"chatfetch/pkg/endpoint"
	"chatfetch/pkg/fetch"
	"chatfetch/pkg/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatfetch",
		Short:         "Fetch streamed chat completions with classified outcomes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), completeCmd(), logCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("chatfetch %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete [prompt...]",
		Short: "Stream a completion for a prompt to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ep, err := pickEndpoint(cmd, cfg)
			if err != nil {
				return err
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			metrics, _ := cmd.Flags().GetBool("metrics")

			var reg *prometheus.Registry
			if metrics {
				reg = prometheus.NewRegistry()
			}
			opts, cleanup, err := fetcherOptions(cfg, verbose, reg)
			if err != nil {
				return err
			}
			defer cleanup()

			f := fetch.New(opts...)
			req := &chat.Request{
				Messages:      []chat.Message{chat.UserMessage(strings.Join(args, " "))},
				RetryOnFilter: cfg.Engine.RetryOnFilter,
				RetryOnError:  cfg.Engine.RetryOnError,
				UserInitiated: true,
			}

			res := f.FetchOne(cmd.Context(), ep, req, func(d chat.Delta) error {
				if d.Index == 0 {
					fmt.Print(d.Text)
				}
				return nil
			})
			fmt.Println()

			if reg != nil {
				printMetrics(os.Stderr, reg)
			}
			if !res.OK() {
				return fmt.Errorf("%s: %s", res.Kind, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().StringP("endpoint", "e", "", "Configured endpoint name (defaults to the only one)")
	cmd.Flags().BoolP("verbose", "v", false, "Log engine events to stderr")
	cmd.Flags().Bool("metrics", false, "Print engine metrics to stderr after the run")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent requests from the request log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Engine.RequestLog == "" {
				return fmt.Errorf("no engine.request_log configured")
			}

			store, err := reqlog.OpenSQLite(cfg.Engine.RequestLog)
			if err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			recs, err := store.Recent(limit)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Printf("%s  %-24s %-20s %s\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					rec.Kind, rec.Model, rec.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().IntP("limit", "n", 20, "Maximum records to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			eps, err := config.BuildEndpoints(cfg)
			if err != nil {
				return err
			}

			fmt.Printf("Configuration OK (%d endpoints)\n", len(eps))
			for name, ep := range eps {
				fmt.Printf("  %-16s %s (%s)\n", name, ep.Model(), ep.APIType())
			}
			return nil
		},
	})
	return cmd
}

// loadConfig loads and validates the config named by --config, falling
// back to the standard search locations.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pickEndpoint selects the endpoint named by --endpoint, or the sole
// configured one.
func pickEndpoint(cmd *cobra.Command, cfg *config.Config) (endpoint.Endpoint, error) {
	eps, err := config.BuildEndpoints(cfg)
	if err != nil {
		return nil, err
	}

	name, _ := cmd.Flags().GetString("endpoint")
	if name != "" {
		ep, ok := eps[name]
		if !ok {
			return nil, fmt.Errorf("endpoint %q not configured", name)
		}
		return ep, nil
	}
	if len(eps) == 1 {
		for _, ep := range eps {
			return ep, nil
		}
	}
	names := make([]string, 0, len(eps))
	for n := range eps {
		names = append(names, n)
	}
	return nil, fmt.Errorf("multiple endpoints configured, pick one with --endpoint (%s)", strings.Join(names, ", "))
}

// fetcherOptions assembles fetch options from config and environment.
// The returned cleanup closes the request log store, if one was opened.
// When reg is non-nil, engine metrics are registered on it.
func fetcherOptions(cfg *config.Config, verbose bool, reg *prometheus.Registry) ([]fetch.Option, func(), error) {
	var opts []fetch.Option
	cleanup := func() {}

	if token, ok := os.LookupEnv("CHATFETCH_TOKEN"); ok {
		opts = append(opts, fetch.WithTokenSource(auth.Static(token)))
	}

	var sinks telemetry.Multi
	if verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		opts = append(opts, fetch.WithLogger(logger))
		sinks = append(sinks, telemetry.LogSink{Logger: logger})
	}
	if reg != nil {
		sink, err := telemetry.NewPromSink(reg)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) > 0 {
		opts = append(opts, fetch.WithTelemetrySink(sinks))
	}

	if cfg.Engine.RequestLog != "" {
		store, err := reqlog.OpenSQLite(cfg.Engine.RequestLog)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }
		opts = append(opts, fetch.WithRequestLog(reqlog.New(store)))
	}

	return opts, cleanup, nil
}

// printMetrics writes gathered metrics as plain name{labels} value
// lines, for quick inspection after a run.
func printMetrics(w io.Writer, reg *prometheus.Registry) {
	fams, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(w, "gathering metrics:", err)
		return
	}
	for _, fam := range fams {
		for _, m := range fam.Metric {
			labels := make([]string, 0, len(m.Label))
			for _, lp := range m.Label {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := fam.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.Counter != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.Counter.GetValue())
			case m.Histogram != nil:
				fmt.Fprintf(w, "%s count=%d sum=%gs\n", name, m.Histogram.GetSampleCount(), m.Histogram.GetSampleSum())
			}
		}
	}
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/chatfetch/chatfetch.yaml → ./chatfetch.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "chatfetch", "chatfetch.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatfetch", "chatfetch.yaml"))
	}

	candidates = append(candidates, "chatfetch.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
