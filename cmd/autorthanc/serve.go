package main

import (
	"context"
	stderrors "errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autorthanc/autorthanc/pkg/archive"
	"github.com/autorthanc/autorthanc/pkg/config"
	"github.com/autorthanc/autorthanc/pkg/engine"
	"github.com/autorthanc/autorthanc/pkg/filesystem"
	"github.com/autorthanc/autorthanc/pkg/forward"
	"github.com/autorthanc/autorthanc/pkg/journal"
	"github.com/autorthanc/autorthanc/pkg/logging"
	"github.com/autorthanc/autorthanc/pkg/rules"
	"github.com/autorthanc/autorthanc/pkg/server"
	"github.com/autorthanc/autorthanc/pkg/staging"
	"github.com/autorthanc/autorthanc/pkg/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the automation engine",
	Long: `Run the automation engine: poll the archive's changes feed for stable
studies and series, evaluate the automation rules against them, and
serve the manual-trigger HTTP endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng, cleanup, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		poller := watcher.New(eng.client, eng.listener, watcher.Options{
			Interval: cfg.Watcher.PollInterval,
			Limit:    cfg.Watcher.ChangeLimit,
		}, logging.GetLogger("watcher"))

		srv := server.New(cfg.Server.Addr, eng.listener, logging.GetLogger("server"))

		errCh := make(chan error, 2)
		go func() { errCh <- poller.Run(ctx) }()
		go func() { errCh <- srv.ListenAndServe(ctx) }()

		// The first component to fail brings the process down; a clean
		// context cancellation is a normal shutdown.
		err = <-errCh
		stop()
		if second := <-errCh; err == nil {
			err = second
		}
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// wiredEngine bundles the long-lived pieces a command needs after
// construction.
type wiredEngine struct {
	client   archive.Client
	listener *engine.Listener
}

// buildEngine wires the engine from the configuration. The returned
// cleanup closes the journal when one was opened.
func buildEngine(cfg *config.Config) (*wiredEngine, func(), error) {
	fs := filesystem.NewOS()

	client := archive.NewRest(archive.RestOptions{
		BaseURL:  cfg.Archive.URL,
		Username: cfg.Archive.Username,
		Password: cfg.Archive.Password,
		Timeout:  cfg.Archive.Timeout,
	}, logging.GetLogger("archive"))

	store := rules.NewStore(cfg.Rules.Dir, fs, logging.GetLogger("rules"))
	matcher := rules.NewMatcher(logging.GetLogger("matcher"))

	writer := staging.NewWriter(client, fs, staging.Options{
		UID:            cfg.Staging.UID,
		GID:            cfg.Staging.GID,
		SettleAttempts: cfg.Staging.SettleAttempts,
		SettleDelay:    cfg.Staging.SettleDelay,
	}, logging.GetLogger("staging"))

	if err := writer.EnsureRoot(cfg.Staging.OutputRoot); err != nil {
		return nil, nil, err
	}

	forwarder := forward.NewClient(client, cfg.Forward.LocalAET, logging.GetLogger("forward"))

	cleanup := func() {}
	var recorder engine.Recorder
	if cfg.Journal.Enabled {
		jstore, err := journal.Open(cfg.Journal.Path, logging.GetLogger("journal"))
		if err != nil {
			return nil, nil, err
		}
		recorder = jstore
		cleanup = func() { _ = jstore.Close() }
	}

	dispatcher := engine.NewDispatcher(writer, forwarder, recorder,
		cfg.Staging.OutputRoot, logging.GetLogger("dispatch"))
	listener := engine.NewListener(store, matcher, dispatcher, client,
		cfg.Watcher.ForceOnStable, logging.GetLogger("engine"))

	return &wiredEngine{client: client, listener: listener}, cleanup, nil
}
