package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"

	"github.com/lk2023060901/chat-relay-go/application"
	"github.com/lk2023060901/chat-relay-go/internal/client"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "relay-client:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg := client.DefaultConfig()

	fs := flag.NewFlagSet("relay-client", flag.ContinueOnError)
	fs.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, `Server address, "host:port" or "ws://host:port/ws"`)
	fs.StringVarP(&cfg.Name, "name", "n", "", "Display name (prompted when empty)")
	fs.UintVar(&cfg.DialAttempts, "attempts", cfg.DialAttempts, "Dial attempts before giving up")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Timeout of a single dial")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "relay-client %s\n", application.Version())
		return nil
	}

	in := bufio.NewReader(stdin)
	if strings.TrimSpace(cfg.Name) == "" {
		fmt.Fprint(stdout, "Enter your name: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		cfg.Name = strings.TrimSpace(line)
	}

	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(stdout, "Connected to %s as %s\n", cfg.Addr, c.Name())

	err = c.Run(ctx, in, stdout)
	if errors.Is(err, merr.ErrServerClosed) {
		return nil
	}
	return err
}
