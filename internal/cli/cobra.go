package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"skysolve/internal/catalog"
	"skysolve/internal/config"
	"skysolve/internal/db"
	"skysolve/internal/fsutil"
	"skysolve/internal/pattern"
	"skysolve/internal/pipeline"
	"skysolve/internal/server"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, history *db.History, svc *pipeline.Service, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, svc, cfg, log, history)

	rootCmd := &cobra.Command{
		Use:   "skysolve",
		Short: "Skysolve identifies the sky region shown in night-sky images",
		Long: `Skysolve is a plate solver: it detects stars in an image, matches them
against a pattern database built from the Hipparcos catalog and reports
the image center, field of view and roll angle.`,
	}

	rootCmd.AddCommand(newBuildDBCmd(root))
	rootCmd.AddCommand(newSolveCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newBuildDBCmd(root *Root) *cobra.Command {
	var (
		output       string
		maxFov       float64
		minFov       float64
		maxMagnitude float64
		patternStars int
		verifyStars  int
		neighbors    int
	)

	cmd := &cobra.Command{
		Use:   "build-db [catalog_path]",
		Short: "Build a pattern database from the Hipparcos catalog",
		Long: `Compile hip_main.dat into a SQLite pattern database.

Examples:
  # Stock database for a 70 degree phone camera
  skysolve build-db ~/catalogs/hip_main.dat --output patterns.db

  # Narrower optics need denser patterns
  skysolve build-db hip_main.dat --min-fov 5 --max-fov 30 --max-magnitude 8`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogPath := root.cfg.Build.CatalogPath
			if len(args) > 0 {
				catalogPath = args[0]
			}
			catalogPath, err := config.ExpandUser(catalogPath)
			if err != nil {
				return err
			}
			output, err = config.ExpandUser(output)
			if err != nil {
				return err
			}

			root.log.Info("loading catalog", "path", catalogPath)
			stars, err := catalog.LoadHipparcos(catalogPath)
			if err != nil {
				return err
			}

			ix, err := pattern.Build(stars, pattern.BuildOptions{
				MaxFovDeg:          maxFov,
				MinFovDeg:          minFov,
				MaxMagnitude:       maxMagnitude,
				PatternStarsPerFov: patternStars,
				VerifyStarsPerFov:  verifyStars,
				MaxNeighbors:       neighbors,
			}, root.log)
			if err != nil {
				return err
			}

			if err := db.SaveIndex(output, ix); err != nil {
				return err
			}
			fmt.Printf("Pattern database written to %s (%d stars, %d patterns)\n",
				output, len(ix.Stars), len(ix.Patterns))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Database.PatternPath, "output database path")
	cmd.Flags().Float64Var(&maxFov, "max-fov", root.cfg.Build.MaxFovDeg, "largest solvable field of view (degrees)")
	cmd.Flags().Float64Var(&minFov, "min-fov", root.cfg.Build.MinFovDeg, "smallest solvable field of view (degrees)")
	cmd.Flags().Float64Var(&maxMagnitude, "max-magnitude", root.cfg.Build.MaxMagnitude, "faintest catalog magnitude to include")
	cmd.Flags().IntVar(&patternStars, "pattern-stars", root.cfg.Build.PatternStarsPerFov, "pattern stars kept per field of view")
	cmd.Flags().IntVar(&verifyStars, "verify-stars", root.cfg.Build.VerifyStarsPerFov, "verification stars kept per field of view")
	cmd.Flags().IntVar(&neighbors, "neighbors", root.cfg.Build.MaxNeighbors, "nearest neighbors considered per pattern anchor")

	return cmd
}

func newSolveCmd(root *Root) *cobra.Command {
	var (
		fov      float64
		database string
	)

	cmd := &cobra.Command{
		Use:   "solve <image_or_directory>...",
		Short: "Plate solve one or more images",
		Long: `Solve images against the pattern database and print one JSON result
per image.

Examples:
  skysolve solve night_sky.jpg
  skysolve solve --fov 47.5 capture1.png capture2.png
  skysolve solve /photos/session-2026-08-12/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.loadDatabase(database); err != nil {
				return err
			}

			var images []string
			for _, arg := range args {
				info, err := os.Stat(arg)
				if err != nil {
					return err
				}
				if info.IsDir() {
					found, err := fsutil.ListImages(arg)
					if err != nil {
						return err
					}
					images = append(images, found...)
					continue
				}
				images = append(images, arg)
			}
			if len(images) == 0 {
				return fmt.Errorf("no images found")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, img := range images {
				res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
					ID:             newID("solve"),
					ImagePath:      img,
					FovEstimateDeg: fov,
				})
				if err != nil {
					return fmt.Errorf("solve %s: %w", img, err)
				}
				if len(images) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", img)
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&fov, "fov", 0, "field of view estimate in degrees (config default if zero)")
	cmd.Flags().StringVar(&database, "database", "", "pattern database path (config default if empty)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		database string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP solve API",
		Long: `Start an HTTP server exposing synchronous solves, solve history and
live result streams.

Examples:
  skysolve serve --addr :8913
  skysolve serve --database /data/patterns.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.loadDatabase(database); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if root.cfg.Database.WatchReload {
				path, err := root.databasePath(database)
				if err != nil {
					return err
				}
				go func() {
					if err := root.service.WatchArtifact(ctx, path); err != nil {
						root.log.Warn("database watcher stopped", "error", err)
					}
				}()
			}

			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for server startup")
			}

			srv := server.New(addr, root.history, realPipeline, root.service, root.log)
			root.log.Info("server ready",
				"addr", addr,
				"endpoints", []string{"/healthz", "/solve", "/solves", "/stream", "/ws"},
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Listen, "server address (host:port)")
	cmd.Flags().StringVar(&database, "database", "", "pattern database path (config default if empty)")

	return cmd
}

func (r *Root) databasePath(override string) (string, error) {
	path := r.cfg.Database.PatternPath
	if override != "" {
		path = override
	}
	return config.ExpandUser(path)
}

func (r *Root) loadDatabase(override string) error {
	path, err := r.databasePath(override)
	if err != nil {
		return err
	}
	return r.service.LoadArtifact(path)
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate skysolve configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Pattern Database:  %s\n", root.cfg.Database.PatternPath)
			fmt.Printf("History Database:  %s\n", root.cfg.Database.HistoryPath)
			fmt.Printf("Watch Reload:      %v\n", root.cfg.Database.WatchReload)
			fmt.Printf("FOV Estimate:      %.1f deg\n", root.cfg.Solver.FovEstimateDeg)
			fmt.Printf("FOV Max Error:     %.1f deg\n", root.cfg.Solver.FovMaxErrorDeg)
			fmt.Printf("Detection Sigma:   %.2f\n", root.cfg.Extract.Sigma)
			fmt.Printf("Parallel Jobs:     %d\n", root.cfg.Processing.ParallelJobs)
			fmt.Printf("Server Listen:     %s\n", root.cfg.Server.Listen)
			fmt.Printf("Log Level:         %s\n", root.cfg.Logging.Level)
			fmt.Printf("Log Directory:     %s\n", root.cfg.Logging.LogDir)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Skysolve v1.0.0")
		},
	}
}
