package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/paw2paw/hf-behavior/go-controller/internal/profile"
	"github.com/paw2paw/hf-behavior/go-controller/internal/rpc"
)

var listenAddr string

// serveCmd exposes the target service over gRPC
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the target and profile services over gRPC",
	Long: `Starts hf.targets.v1.TargetService (adaptation runs, cascade resolution,
playbook administration) and hf.profile.v1.ProfileService (learner profiles from
the local database) on one listener. Stops gracefully on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen_addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Server.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(rpc.LoggingInterceptor(logger.Named("rpc"))))
	rpc.Register(srv, rpc.NewServer(a.engine, a.resolver, a.playbooks))
	profile.RegisterService(srv, a.local)

	logger.Info("Controller serving",
		zap.String("addr", lis.Addr().String()),
		zap.String("db", cfg.Database.Path),
		zap.Bool("legacy_caller_scope", cfg.Cascade.LegacyCallerScope))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		srv.GracefulStop()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) && ctx.Err() == nil {
		return err
	}
	return nil
}
