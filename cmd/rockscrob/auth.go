package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/etheramiel/Scrobbler/internal/config"
	"github.com/etheramiel/Scrobbler/internal/scrobble"
	"github.com/etheramiel/Scrobbler/internal/scrobble/lastfm"
	"github.com/etheramiel/Scrobbler/internal/store"
	"github.com/pkg/browser"
	"golang.org/x/term"
)

const authTimeout = 5 * time.Minute

func runLogin(ctx context.Context, cfg *config.Config, client *lastfm.Client, st *store.Store, logger *slog.Logger) error {
	if !client.HasKeys() {
		return fmt.Errorf("%w: set lastfm.api_key and lastfm.api_secret or %s and %s",
			scrobble.ErrNotConfigured, config.EnvAPIKey, config.EnvAPISecret)
	}

	username := cfg.LastFM.Username
	if username == "" {
		fmt.Print("Last.fm username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return errors.New("username is required")
	}

	fmt.Printf("Password for %s: ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	sess, err := client.MobileSession(ctx, username, string(password))
	if err != nil {
		return err
	}
	if err := st.SaveSession(ctx, store.Session{Username: sess.Username, Key: sess.Key}); err != nil {
		return err
	}
	logger.Info("logged in", slog.String("user", sess.Username))
	fmt.Printf("Logged in as %s.\n", sess.Username)
	return nil
}

func runWebAuth(ctx context.Context, client *lastfm.Client, st *store.Store, logger *slog.Logger) error {
	if !client.HasKeys() {
		return fmt.Errorf("%w: set lastfm.api_key and lastfm.api_secret or %s and %s",
			scrobble.ErrNotConfigured, config.EnvAPIKey, config.EnvAPISecret)
	}

	cb, err := lastfm.ListenCallback("127.0.0.1:0")
	if err != nil {
		return err
	}
	defer cb.Close()

	token, err := client.Token(ctx)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}
	authURL := client.AuthURL(token, cb.URL())
	fmt.Println("Authorize rockscrob in your browser:")
	fmt.Println(" ", authURL)
	if err := browser.OpenURL(authURL); err != nil {
		logger.Warn("open browser", slog.Any("err", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	got, err := cb.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for authorization: %w", err)
	}
	if got != "" {
		token = got
	}

	sess, err := client.Session(ctx, token)
	if err != nil {
		return err
	}
	if err := st.SaveSession(ctx, store.Session{Username: sess.Username, Key: sess.Key}); err != nil {
		return err
	}
	logger.Info("authorized", slog.String("user", sess.Username))
	fmt.Printf("Logged in as %s.\n", sess.Username)
	return nil
}
