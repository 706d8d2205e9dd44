package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/chat-relay-go/application"
	"github.com/lk2023060901/chat-relay-go/internal/console"
	"github.com/lk2023060901/chat-relay-go/internal/relay"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "relay-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("relay-server", flag.ContinueOnError)

	var (
		configPath  string
		noConsole   bool
		showVersion bool
	)
	fs.StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml, env RELAY_CONFIG_FILE_PATH)")
	fs.BoolVar(&noConsole, "no-console", false, "Do not read operator commands from stdin")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	// 以下参数覆盖配置文件中 relay 段的同名项。
	def := relay.DefaultConfig()
	addr := fs.StringP("addr", "a", def.Addr, "TCP listen address")
	wsAddr := fs.String("ws-addr", def.WSAddr, "WebSocket listen address (empty disables)")
	adminAddr := fs.String("admin-addr", def.AdminAddr, "Admin HTTP listen address (empty disables)")
	maxConns := fs.Int("max-connections", def.MaxConnections, "Maximum concurrent connections")
	idleTimeout := fs.Duration("idle-timeout", def.IdleTimeout, "Disconnect clients idle for this long (0 disables)")
	echo := fs.Bool("echo-to-sender", def.EchoToSender, "Echo broadcasts back to their sender")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "relay-server %s\n", application.Version())
		return nil
	}

	if _, err := maxprocs.Set(maxprocs.Logger(log.S().Infof)); err != nil {
		log.S().Warnf("set GOMAXPROCS: %v", err)
	}

	app := application.New(application.WithConfigPath(configPath))
	if err := app.Run(); err != nil {
		return err
	}
	defer app.Stop()

	cfg := relay.DefaultConfig()
	if err := app.Decode("relay", &cfg); err != nil {
		return err
	}
	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	if fs.Changed("ws-addr") {
		cfg.WSAddr = *wsAddr
	}
	if fs.Changed("admin-addr") {
		cfg.AdminAddr = *adminAddr
	}
	if fs.Changed("max-connections") {
		cfg.MaxConnections = *maxConns
	}
	if fs.Changed("idle-timeout") {
		cfg.IdleTimeout = *idleTimeout
	}
	if fs.Changed("echo-to-sender") {
		cfg.EchoToSender = *echo
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.OnSignal(func(kind application.SignalKind, _ os.Signal) {
		if kind == application.SignalShutdown {
			cancel()
		}
	})

	con := console.New(stdin, stdout)
	srv, err := relay.NewServer(cfg, con)
	if err != nil {
		return err
	}
	srv.SetLogger(app.Logger("relay").With(log.FieldModule("relay")))
	con.Bind(srv)
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Server started on %s\n", srv.Addr())
	if ws := srv.WSAddr(); ws != nil {
		fmt.Fprintf(stdout, "WebSocket clients: ws://%s%s\n", ws, cfg.WSPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if !noConsole {
		g.Go(func() error {
			// 输入结束或 /quit 时停止服务器。
			defer cancel()
			return con.Run(gctx)
		})
	}
	err = g.Wait()
	fmt.Fprintln(stdout, "Server stopped")
	return err
}
