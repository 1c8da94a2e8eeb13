package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/HershNagpal/lbms/config"
	"github.com/HershNagpal/lbms/library"
	"github.com/HershNagpal/lbms/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "lbms",
		Short:        "Library book management server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "optional env file with LBMS_* settings")

	load := func() (config.Config, *slog.Logger, error) {
		cfg, err := config.LoadEnv(envFile)
		if err != nil {
			return config.Config{}, nil, err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		return cfg, logger, nil
	}

	root.AddCommand(serveCmd(load), httpCmd(load), importBooksCmd(load), snapshotsCmd(load))
	return root
}

type loader func() (config.Config, *slog.Logger, error)

// openManager applies flag overrides and opens storage.
func openManager(load loader, store string) (*library.LibraryManager, *slog.Logger, error) {
	cfg, logger, err := load()
	if err != nil {
		return nil, nil, err
	}
	if store != "" {
		cfg.SnapshotStore = store
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	mgr, err := library.NewLibraryManager(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return mgr, logger, nil
}

func serveCmd(load loader) *cobra.Command {
	var restore, store, saveAs string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read commands from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := openManager(load, store)
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mgr.Start(ctx, restore); err != nil {
				return err
			}

			console := server.NewConsole(mgr.Dispatcher(), logger)
			console.Interactive = term.IsTerminal(int(os.Stdin.Fd()))
			console.OnShutdown = func(ctx context.Context) error {
				_, err := mgr.Shutdown(ctx, saveAs)
				return err
			}
			return console.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&restore, "restore", "", "start from the named snapshot")
	cmd.Flags().StringVar(&store, "store", "", "snapshot store: sqlite or redis")
	cmd.Flags().StringVar(&saveAs, "save-as", library.DefaultSnapshotName, "snapshot name written by the shutdown command")
	return cmd
}

func httpCmd(load loader) *cobra.Command {
	var restore, store, addr, saveAs string
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve commands over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, logger, err := openManager(load, store)
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mgr.Start(ctx, restore); err != nil {
				return err
			}
			if addr == "" {
				addr = mgr.Config().HTTPAddr
			}

			gin.SetMode(gin.ReleaseMode)
			if err := server.Serve(ctx, addr, server.NewRouter(mgr.Dispatcher(), logger, mgr.Config().CORSOrigins...), logger); err != nil {
				return err
			}
			_, err = mgr.Shutdown(context.Background(), saveAs)
			return err
		},
	}
	cmd.Flags().StringVar(&restore, "restore", "", "start from the named snapshot")
	cmd.Flags().StringVar(&store, "store", "", "snapshot store: sqlite or redis")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default LBMS_HTTP_ADDR)")
	cmd.Flags().StringVar(&saveAs, "save-as", library.DefaultSnapshotName, "snapshot name written when the server stops")
	return cmd
}

func importBooksCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "import-books FILE",
		Short: "Load a books file into the bookstore inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openManager(load, "")
			if err != nil {
				return err
			}
			defer mgr.Close()

			n, err := mgr.ImportBooks(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d books into the store.\n", n)
			return nil
		},
	}
}

func snapshotsCmd(load loader) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List saved snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := openManager(load, store)
			if err != nil {
				return err
			}
			defer mgr.Close()

			infos, err := mgr.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No snapshots saved.")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-20s %-25s %s\n", "ID", "Name", "Taken", "Bytes")
			for _, s := range infos {
				fmt.Fprintf(out, "%-36s %-20s %-25s %d\n", s.ID, s.Name, s.TakenAt.Format("2006-01-02 15:04:05"), s.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "snapshot store: sqlite or redis")
	return cmd
}
