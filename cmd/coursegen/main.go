package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/japaniel/coursegen/pkg/config"
	"github.com/japaniel/coursegen/pkg/db"
	"github.com/japaniel/coursegen/pkg/logger"
	"github.com/japaniel/coursegen/pkg/metrics"
	"github.com/japaniel/coursegen/pkg/pipeline"
)

// globals holds the persistent flags.
type globals struct {
	configPath  string
	dbPath      string
	workers     int
	logLevel    string
	showMetrics bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "coursegen",
		Short:         "Build language course lattices, baskets and coverage reports",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config overlaid on the built-in defaults")
	pf.StringVar(&g.dbPath, "db", "", "SQLite database (overrides db_path)")
	pf.IntVarP(&g.workers, "workers", "w", 0, "parallel workers (overrides workers)")
	pf.StringVar(&g.logLevel, "log-level", "", "trace|debug|info|warn|error (overrides log.level)")
	pf.BoolVar(&g.showMetrics, "metrics", false, "print pipeline counters to stderr when done")

	root.AddCommand(
		newMergeCmd(g),
		newValidateCmd(g),
		newRunCmd(g),
		newBasketsCmd(g),
		newConflictsCmd(g),
		newCoverageCmd(g),
		newGapsCmd(g),
		newExportCmd(g),
	)
	return root
}

// env is what every subcommand works against.
type env struct {
	cfg  *config.Config
	log  zerolog.Logger
	conn *sql.DB
	pipe *pipeline.Pipeline
	out  io.Writer
	err  io.Writer
	g    *globals
}

func (g *globals) config() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if g.workers > 0 {
		cfg.Workers = g.workers
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, cfg.Validate()
}

func setup(cmd *cobra.Command, g *globals, seg pipeline.Segmenter) (*env, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "coursegen",
		Writer:    cmd.ErrOrStderr(),
	})
	tok, err := cfg.NewTokenizer()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	reg, err := pipeline.LoadRegistry(conn, tok)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p := pipeline.New(cfg, reg, conn, seg)
	p.SetLogger(log)
	p.Metrics = metrics.New()
	log.Debug().Str("db", cfg.DBPath).Int("version", reg.Snapshot().Version()).Int("legos", reg.Snapshot().Len()).Msg("registry loaded")
	return &env{cfg: cfg, log: log, conn: conn, pipe: p, out: cmd.OutOrStdout(), err: cmd.ErrOrStderr(), g: g}, nil
}

// close prints metrics if asked and releases the database.
func (e *env) close() {
	if e.g.showMetrics {
		if text, err := e.pipe.Metrics.Dump(); err == nil {
			fmt.Fprint(e.err, text)
		}
	}
	if err := e.conn.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close database")
	}
}

func (e *env) emit(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
