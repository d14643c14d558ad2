// Command agent is the reverse SOCKS5 proxy agent: it dials out to a
// controller and serves SOCKS5 over whatever logical streams the
// controller opens back on that connection (spec §1/§6).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulGUZU/revsocks/internal/config"
	"github.com/paulGUZU/revsocks/internal/session"
	"github.com/paulGUZU/revsocks/internal/socks5"
	"github.com/paulGUZU/revsocks/internal/transport"
	"github.com/paulGUZU/revsocks/pkg/banner"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("agent: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		useTLS    bool
		useTor    bool
		timeout   time.Duration
		usersFile string
	)

	cmd := &cobra.Command{
		Use:   "agent <host> <port>",
		Short: "a reverse socks5 proxy agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}

			creds, err := config.LoadUsers(usersFile)
			if err != nil {
				return err
			}

			cfg := config.Config{
				Host:           args[0],
				Port:           uint16(port),
				TLS:            useTLS,
				Tor:            useTor,
				ConnectTimeout: timeout,
				UsersFile:      usersFile,
			}

			return run(context.Background(), cfg, creds)
		},
	}

	cmd.Flags().BoolVar(&useTLS, "tls", false, "wrap the controller connection in TLS")
	cmd.Flags().BoolVar(&useTor, "tor", false, "reserved; not used by the core today")
	cmd.Flags().DurationVar(&timeout, "timeout", socks5.DefaultConnectTimeout, "upstream CONNECT dial timeout")
	cmd.Flags().StringVar(&usersFile, "users", "", "optional JSON file of accepted username/password credentials")

	return cmd
}

func run(ctx context.Context, cfg config.Config, creds []socks5.Credential) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	banner.Print()

	// Tor is reserved: accepted on the CLI, carried on Config, not yet
	// wired to any transport variant (spec §9 Open Questions).
	if cfg.Tor {
		log.Printf("agent: --tor is reserved and currently has no effect")
	}

	dialer := &transport.Dialer{Host: cfg.Host, Port: cfg.Port, TLS: cfg.TLS}
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := transport.WriteMagic(conn); err != nil {
		return err
	}

	banner.PrintConnected(cfg.Host, cfg.Port, cfg.TLS, len(creds))

	sess, err := session.New(conn, session.Config{
		Credentials:    socks5.NewCredentialStore(creds),
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return err
	}

	return sess.Run(ctx)
}
