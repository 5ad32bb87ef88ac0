package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mvoronin/pulsechat/internal/config"
	"github.com/mvoronin/pulsechat/internal/creds"
	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/httpapi"
	"github.com/mvoronin/pulsechat/internal/logging"
	"github.com/mvoronin/pulsechat/internal/session"
	"github.com/mvoronin/pulsechat/internal/transport"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("pulsechat starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.String("transport", cfg.Transport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credStore, err := creds.Open(cfg.CredentialsPath(), cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer credStore.Close()

	// The CLI always speaks WebSocket directly; the bridge backend is for
	// embedding hosts and has no host process here.
	tr, err := transport.New(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	var coordinator *session.Coordinator

	api := httpapi.NewClient(cfg.ServerURL, nil, func() string {
		if coordinator == nil {
			return ""
		}

		return coordinator.AccessToken()
	})

	expired := make(chan struct{}, 1)

	coordinator = session.New(session.Deps{
		API:       api,
		Creds:     credStore,
		Transport: tr,
		Logger:    logger,
		OnAuthExpired: func() {
			select {
			case expired <- struct{}{}:
			default:
			}
		},
	})

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			if err := promptLogin(ctx, coordinator); err != nil {
				return err
			}
		case "logout":
			coordinator.ClearSession()
			logger.Info("logged out")

			return nil
		default:
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	} else {
		if err := coordinator.Start(ctx); err != nil {
			return err
		}

		if coordinator.State() == session.StateLoggedOut {
			return fmt.Errorf("run \"pulsechat login\" first: %w", errors.ErrNoCredentials)
		}
	}
	defer coordinator.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-expired:
			return errors.ErrAuthExpired
		}
	})

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("pulsechat stopped")

	return nil
}

// promptLogin reads credentials from stdin and logs in.
func promptLogin(ctx context.Context, coordinator *session.Coordinator) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Fprint(os.Stderr, "Login: ")

	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}

	login := strings.TrimSpace(scanner.Text())

	fmt.Fprint(os.Stderr, "Password: ")

	if !scanner.Scan() {
		return fmt.Errorf("no input")
	}

	password := scanner.Text()

	if err := coordinator.Login(ctx, login, password); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	return nil
}
