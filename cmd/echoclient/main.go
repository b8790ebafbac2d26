package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/lineecho/internal/echo"
	"github.com/danmuck/lineecho/internal/logging"
	"github.com/rs/zerolog/log"
)

type options struct {
	client echo.ClientConfig
	wait   time.Duration
}

func main() {
	opts := options{client: echo.DefaultClientConfig()}
	flag.StringVar(&opts.client.Address, "addr", opts.client.Address, "echo server address")
	flag.StringVar(&opts.client.CAFile, "ca", "", "CA bundle; enables TLS")
	flag.StringVar(&opts.client.ServerName, "server-name", "", "TLS server name override")
	flag.StringVar(&opts.client.CertFile, "cert", "", "client certificate for mutual TLS")
	flag.StringVar(&opts.client.KeyFile, "key", "", "client key for mutual TLS")
	flag.DurationVar(&opts.wait, "wait", 250*time.Millisecond, "time to collect echoes after each line")
	flag.Parse()

	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("echoclient: exit")
		os.Exit(1)
	}
}

// run sends each input line as one frame and prints whatever echoes back.
func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	client, err := echo.Dial(ctx, opts.client)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.client.Address, err)
	}
	defer client.Close()
	log.Debug().Str("addr", opts.client.Address).Msg("connected")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := client.Send(scanner.Bytes()); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		echoed, err := client.ReadAvailable(opts.wait)
		if len(echoed) > 0 {
			fmt.Fprintf(out, "%s\n", echoed)
		}
		if err != nil {
			return fmt.Errorf("read echo: %w", err)
		}
	}
	return scanner.Err()
}
