package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/smart-locker/internal/locker"
	"github.com/kozaktomas/smart-locker/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the slot monitor and the HTTP API",
	Long: `Start the Smart Locker service.
The sensor monitor polls every slot at POLL_INTERVAL and the HTTP API serves
allocation, identification, enrollment jobs, audits and resets.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default $WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default $WEB_HOST or 0.0.0.0)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openLocker(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Config()
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	server := web.NewServer(cfg, svc, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var last string
		return svc.Monitor(gctx, func(st *locker.Status) {
			if st.Line != last {
				fmt.Println(st.Line)
				last = st.Line
			}
		})
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	fmt.Printf("Smart Locker API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
