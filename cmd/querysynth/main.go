package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/config"
	"github.com/malbeclabs/querysynth/pkg/logger"
	"github.com/malbeclabs/querysynth/pkg/mcpserver"
	"github.com/malbeclabs/querysynth/pkg/metrics"
	"github.com/malbeclabs/querysynth/pkg/tabular"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultPreviewRows = 20

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	verbose bool
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "querysynth",
		Short:         "Turn data requests into bounded, executed SQL",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment variables from this file (default .env when present)")

	cmd.AddCommand(newAskCmd(opts), newServeCmd(opts))
	return cmd
}

// load reads the env file and the environment and validates the result.
func (o *rootOptions) load() (*slog.Logger, *config.Config, error) {
	log := logger.New(o.verbose)

	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	if err := config.LoadDotenv(files...); err != nil {
		return nil, nil, err
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return log, cfg, nil
}

func signalContext(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("querysynth: received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		sessionID string
		rows      int
		images    []string
	)
	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Run one data request through the pipeline and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := opts.load()
			if err != nil {
				return err
			}
			attached, err := readImages(images)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(log)
			defer cancel()

			d, err := buildDeps(ctx, log, cfg, true)
			if err != nil {
				return err
			}
			defer d.Close()

			inv := agent.Invocation{
				ID:        uuid.NewString(),
				UserID:    userID,
				SessionID: sessionID,
				UserQuery: strings.Join(args, " "),
				Images:    attached,
			}
			res, err := d.pipeline.Run(ctx, inv)
			if err != nil {
				return err
			}
			state, err := d.ledger.Get(ctx, inv.ID)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, state, rows)
		},
	}
	addScopeFlags(cmd.Flags(), &userID, &sessionID)
	cmd.Flags().IntVar(&rows, "rows", defaultPreviewRows, "number of result rows to print")
	cmd.Flags().StringArrayVar(&images, "image", nil, "attach an image file to the request (repeatable)")
	return cmd
}

func readImages(paths []string) ([]agent.ImageInput, error) {
	var out []agent.ImageInput
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		out = append(out, agent.ImageInput{DisplayName: filepath.Base(p), Data: data})
	}
	return out, nil
}

func addScopeFlags(fs *pflag.FlagSet, userID, sessionID *string) {
	fs.StringVar(userID, "user", "default", "owner of the stored artifact")
	fs.StringVar(sessionID, "session", "default", "session the artifact belongs to")
}

// printResult writes the final SQL, a preview table and the ledger state. A
// run that never produced a working query is returned as an error after the
// last statement is printed.
func printResult(w io.Writer, res *agent.Result, state any, rows int) error {
	g := res.Generation
	for _, img := range res.Images {
		fmt.Fprintf(w, "Image: %s (%dx%d, version %d)\n", img.Filename, img.Width, img.Height, img.Version)
	}
	if res.RetrievalErr != nil {
		fmt.Fprintf(w, "Warning: %v\n\n", res.RetrievalErr)
	}
	if g.Query.SQL != "" {
		fmt.Fprintf(w, "SQL:\n%s\n\n", g.Query.SQL)
	}
	if !g.Terminated {
		return errors.New(res.Response().Message)
	}

	tabular.Render(w, g.Query.ResultSet, rows)
	fmt.Fprintf(w, "\n%d rows, %d rounds\n", len(g.Query.ResultSet.Records), g.Rounds)
	if g.ArtifactErr != nil {
		fmt.Fprintf(w, "Warning: result not stored: %v\n", g.ArtifactErr)
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger state: %w", err)
	}
	fmt.Fprintf(w, "\nLedger:\n%s\n", raw)
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listenAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			return serve(log, cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "MCP listen address (overrides MCP_LISTEN_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides METRICS_ADDR)")
	return cmd
}

func serve(log *slog.Logger, cfg *config.Config) error {
	ctx, cancel := signalContext(log)
	defer cancel()

	log.Info("querysynth: starting", "version", version, "commit", commit, "date", date)

	d, err := buildDeps(ctx, log, cfg, false)
	if err != nil {
		return err
	}
	defer d.Close()

	if cfg.AuthDisabled {
		log.Warn("querysynth: mcp authentication disabled")
	} else if len(cfg.AllowedTokens) == 0 {
		log.Warn("querysynth: MCP_ALLOWED_TOKENS not set, mcp endpoint is unauthenticated")
	}

	srvCfg := mcpserver.Config{
		Logger:        log,
		Runner:        d.executor,
		Retriever:     d.retriever,
		Embedder:      d.embedder,
		Index:         d.index,
		Sink:          d.sink,
		Ledger:        d.ledger,
		Ready:         d.ready,
		Context:       databaseContext(cfg),
		Version:       version,
		ListenAddr:    cfg.ListenAddr,
		AllowedTokens: cfg.AllowedTokens,
	}
	if d.pipeline != nil {
		srvCfg.Pipeline = d.pipeline
	}
	server, err := mcpserver.New(srvCfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return serveMetrics(ctx, log, cfg.MetricsAddr)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("querysynth: stopped")
	return nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("querysynth: prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
