package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/boosty"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/cache"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/config"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/database"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/faillog"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/migrations"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/organizer"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/planner"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/render"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/syncer"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/version"
	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:           "boosty-downloader",
		Usage:          "mirror a boosty.to author's feed into a local directory tree",
		Version:        version.Version,
		DefaultCommand: "sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "author", Usage: "boosty.to blog name to mirror"},
			&cli.StringFlag{Name: "target-dir", Usage: "directory the feed is mirrored into"},
			&cli.StringFlag{Name: "access-token", Usage: "boosty OAuth access token"},
			&cli.StringFlag{Name: "cookie", Usage: "raw browser cookie header for boosty.to"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent part downloads"},
			&cli.IntFlag{Name: "page-limit", Usage: "posts requested per feed page"},
			&cli.StringSliceFlag{Name: "content-type", Usage: "restrict downloads to these part types (repeatable)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "download new and changed posts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "post", Usage: "sync a single post by ID or URL instead of the whole feed"},
				},
				Action: runSync,
			},
			{
				Name:  "cache",
				Usage: "inspect or reset the per-author sync cache",
				Subcommands: []*cli.Command{
					{
						Name:   "status",
						Usage:  "show cached post counts and the resume offset",
						Action: runCacheStatus,
					},
					{
						Name:   "rebuild",
						Usage:  "delete the cache database so the next sync starts fresh",
						Action: runCacheRebuild,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.New().Err(err).Fatal("boosty-downloader error")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	if v := c.String("author"); v != "" {
		cfg.Author = v
	}
	if v := c.String("target-dir"); v != "" {
		cfg.TargetDir = v
	}
	if v := c.String("access-token"); v != "" {
		cfg.AccessToken = v
	}
	if v := c.String("cookie"); v != "" {
		cfg.Cookie = v
	}
	if v := c.Int("workers"); v > 0 {
		cfg.Workers = v
	}
	if v := c.Int("page-limit"); v > 0 {
		cfg.PageLimit = v
	}
	if v := c.StringSlice("content-type"); len(v) > 0 {
		cfg.ContentTypes = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return cfg, nil
}

// authorDir resolves and creates the per-author directory everything for
// this blog lives under.
func authorDir(cfg *config.Config) (string, error) {
	dir := filepath.Join(cfg.TargetDir, cfg.Author)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func openStore(ctx context.Context, cfg *config.Config, dir string) (*bun.DB, *cache.Store, error) {
	db, err := database.New(cache.DatabasePath(dir), database.Options{
		Debug:             cfg.DatabaseDebug,
		BusyTimeout:       database.DefaultOptions().BusyTimeout,
		ConnectRetryCount: database.DefaultOptions().ConnectRetryCount,
		ConnectRetryDelay: database.DefaultOptions().ConnectRetryDelay,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := migrations.BringUpToDate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	store, err := cache.Open(ctx, db, dir)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

func runSync(c *cli.Context) error {
	ctx := context.Background()
	log := logger.New().ID(uuid.New().String())

	log.Info("starting boosty-downloader", logger.Data{"version": version.Version})

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dir, err := authorDir(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log.Info("author directory initialized", logger.Data{"path": dir})

	db, store, err := openStore(ctx, cfg, dir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.Close()

	client := boosty.New(boosty.Config{
		BaseURL:     cfg.APIBaseURL,
		Author:      cfg.Author,
		AccessToken: cfg.AccessToken,
		Cookie:      cfg.Cookie,
		Timeout:     cfg.RequestTimeout,
	})

	var reporter faillog.Reporter = faillog.Discard{}
	if cfg.FailedLogPath != "" {
		reporter = faillog.New(filepath.Join(dir, cfg.FailedLogPath))
		defer reporter.Close()
	}

	retry := syncer.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryAttempts
	retry.BaseDelay = cfg.RetryBaseDelay
	retry.MaxDelay = cfg.RetryMaxDelay

	s := syncer.New(
		client,
		store,
		organizer.New(dir),
		planner.New(dir, cfg.ContentTypes),
		render.NewHTML(),
		reporter,
		syncer.Options{
			Workers:   cfg.Workers,
			PageLimit: cfg.PageLimit,
			Retry:     retry,
		},
	)

	// An interrupt cancels the run context; the syncer drains in-flight
	// downloads and commits progress before returning.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	graceful := signals.Setup()
	go func() {
		<-graceful
		log.Info("interrupt received, finishing in-flight downloads")
		cancel()
	}()

	var summary *syncer.Summary
	var runErr error
	if target := c.String("post"); target != "" {
		summary, runErr = s.SyncOne(runCtx, boosty.ParsePostID(target))
	} else {
		summary, runErr = s.Run(runCtx)
	}
	printSummary(summary)

	switch {
	case runErr == nil && summary.Clean():
		return nil
	case runErr == nil || errcodes.KindOf(runErr) == errcodes.KindInterrupted:
		// Progress is saved; rerun to pick up what's left.
		return cli.Exit("", 2)
	default:
		return cli.Exit(runErr.Error(), 1)
	}
}

func runCacheStatus(c *cli.Context) error {
	ctx := context.Background()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dir, err := authorDir(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	db, store, err := openStore(ctx, cfg, dir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer db.Close()

	fmt.Printf("Cache for %s (%s)\n", cfg.Author, cache.DatabasePath(dir))
	fmt.Printf("  posts cached:  %d\n", store.Len())

	counts := store.StateCounts()
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Printf("  %-16s %d\n", state+":", counts[state])
	}

	if cursor := store.Cursor(); cursor != "" {
		fmt.Printf("  resume offset: %s\n", cursor)
	} else {
		fmt.Println("  resume offset: (none, next sync starts from the top)")
	}
	return nil
}

func runCacheRebuild(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dir, err := authorDir(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := cache.Rebuild(dir); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Printf("Cache for %s removed; the next sync re-scans the whole feed.\n", cfg.Author)
	fmt.Println("Downloaded files were kept and will be reused where they still match.")
	return nil
}

func printSummary(s *syncer.Summary) {
	fmt.Println()
	fmt.Println("Sync summary")
	fmt.Printf("  pages processed:  %d\n", s.PagesProcessed)
	fmt.Printf("  posts seen:       %d\n", s.PostsSeen)
	fmt.Printf("  synced:           %d\n", s.Synced)
	fmt.Printf("  already current:  %d\n", s.UpToDate)
	fmt.Printf("  skipped by user:  %d\n", s.SkippedByUser)
	fmt.Printf("  no access:        %d\n", s.NoAccess)
	fmt.Printf("  parts downloaded: %d\n", s.PartsFetched)
	fmt.Printf("  parts evicted:    %d\n", s.PartsEvicted)

	if s.RenameConflicts > 0 {
		fmt.Printf("  rename conflicts: %d\n", s.RenameConflicts)
	}
	if s.Interrupted {
		fmt.Println("  interrupted: progress saved, rerun to resume")
	}
	if len(s.PartiallyFailed) > 0 {
		fmt.Printf("  failed parts:     %d across %d posts\n", s.PartsFailed, len(s.PartiallyFailed))
		for _, pf := range s.PartiallyFailed {
			name := pf.FolderName
			if name == "" {
				name = pf.PostID
			}
			fmt.Printf("    %s\n", name)
			for _, part := range pf.Parts {
				fmt.Printf("      - %s\n", part)
			}
		}
	}
}
