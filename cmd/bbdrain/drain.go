package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/franksops/bbdrain/config"
	"github.com/franksops/bbdrain/engine"
	"github.com/franksops/bbdrain/logging"
	"github.com/franksops/bbdrain/metrics"
	"github.com/franksops/bbdrain/provider"
	"github.com/franksops/bbdrain/store"
	"github.com/franksops/bbdrain/ui"
)

func newDrainCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Drain a staging directory to a local directory or S3",
		Example: `  bbdrain drain --source /bb/job42 --dest /lustre/job42
  bbdrain drain --source /bb/job42 --dest s3://archive/job42 --buffer-size 8MiB
  bbdrain drain --source /bb/job42 --dest /lustre/job42 --journal drain.db -v 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDrain(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

// newAccessor picks the accessor for cfg.Dest and the root that walked files
// are mirrored under.
func newAccessor(ctx context.Context, cfg *config.Config) (provider.FileAccessor, string, error) {
	bucket, prefix, ok := cfg.S3Target()
	if !ok {
		return provider.NewLocalAccessor(""), cfg.Dest, nil
	}

	s3Accessor, err := provider.NewS3Accessor(ctx, bucket, prefix)
	if err != nil {
		return nil, "", err
	}
	if cfg.SpoolDir != "" {
		s3Accessor.WithSpoolDir(cfg.SpoolDir)
	}

	// Keys are relative to the prefix; a single file keeps its base name.
	root := ""
	if info, err := os.Stat(cfg.Source); err == nil && !info.IsDir() {
		root = filepath.Base(cfg.Source)
	}
	return provider.Split(provider.NewLocalAccessor(""), s3Accessor), root, nil
}

func runDrain(ctx context.Context, cfg *config.Config, out, errOut io.Writer) error {
	// The progress view owns the terminal, so logs are dropped while it runs.
	logOut := errOut
	if cfg.UI {
		logOut = io.Discard
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return err
	}

	accessor, destRoot, err := newAccessor(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithBufferSize(cfg.BufferSize),
		engine.WithVerbose(cfg.Verbose, cfg.Rank),
		engine.WithRunID(cfg.RunID),
	}

	if cfg.Journal != "" {
		journal, err := store.NewBoltStore(cfg.Journal)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, engine.WithJournal(engine.NewJournal(journal, log)))
	}

	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, engine.WithObserver(metrics.NewCollector(reg)))

		srv, err := metrics.Listen(cfg.MetricsListen, reg, log)
		if err != nil {
			return err
		}
		metricsCtx, cancel := context.WithCancel(context.Background())
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := srv.Serve(metricsCtx); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			cancel()
			<-served
		}()
	}

	d := engine.New(accessor, opts...)
	defer d.Close()

	if err := d.Start(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run":    d.RunID(),
		"source": cfg.Source,
		"dest":   cfg.Dest,
		"buffer": cfg.BufferSize,
	}).Info("drain started")

	var program *tea.Program
	uiDone := make(chan error, 1)
	if cfg.UI {
		program = tea.NewProgram(ui.NewTUIModel(d), tea.WithAltScreen(), tea.WithContext(ctx))
		go func() {
			_, err := program.Run()
			uiDone <- err
		}()
	}

	walker := engine.NewWalker(provider.NewLocalProvider(""), d)
	stats, walkErr := walker.Walk(ctx, cfg.Source, destRoot)
	if walkErr != nil {
		log.WithError(walkErr).Error("walk stopped early, draining what was queued")
	}
	log.WithFields(logrus.Fields{
		"files":   stats.Files,
		"bytes":   stats.Bytes,
		"skipped": stats.Skipped,
	}).Info("staging area walked")

	d.Join()

	if program != nil {
		if err := <-uiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.WithError(err).Warn("progress view failed")
		}
	}

	summary, _ := d.Summary()
	fmt.Fprintf(out, "run %s: %s\n", summary.RunID, summary)
	return walkErr
}
