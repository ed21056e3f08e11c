package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/middleware"
)

var (
	flagSignalingURL string
	flagAPIURL       string
	flagToken        string
	flagUser         string
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "Join calls and manage rooms on a call signaling relay",
	Long: `callctl talks to a call signaling relay. It can log in, reserve and
inspect rooms, and join a call with a synthetic audio source.

Flags take priority over environment variables, which take priority over
built-in defaults.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSignalingURL, "signaling-url", "", "relay WebSocket endpoint (env SIGNALING_URL)")
	pf.StringVar(&flagAPIURL, "api-url", "", "relay HTTP base url (default derived from the signaling url)")
	pf.StringVar(&flagToken, "token", os.Getenv("CALL_TOKEN"), "JWT from 'callctl login' (env CALL_TOKEN)")
	pf.StringVar(&flagUser, "user", "", "user id when no token is given")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (env LOG_LEVEL)")

	rootCmd.AddCommand(loginCmd, callCmd, roomCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

// loadConfig applies flag overrides on top of the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagSignalingURL != "" {
		cfg.Client.SignalingURL = flagSignalingURL
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.Environment)
}

// apiBase returns the HTTP base url, derived from the signaling url unless
// --api-url is set.
func apiBase(cfg *config.Config) (string, error) {
	if flagAPIURL != "" {
		return strings.TrimRight(flagAPIURL, "/"), nil
	}
	return httpBase(cfg.Client.SignalingURL)
}

func httpBase(signalingURL string) (string, error) {
	u, err := url.Parse(signalingURL)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported signaling url scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

// userID picks the local identity: the token's subject, then --user, then a
// random id.
func userID(token, user string) (string, error) {
	if token != "" {
		claims, err := middleware.PeekClaims(token)
		if err != nil {
			return "", err
		}
		if user != "" && user != claims.UserID {
			return "", fmt.Errorf("--user %q does not match token user %q", user, claims.UserID)
		}
		return claims.UserID, nil
	}
	if user != "" {
		return user, nil
	}
	return "guest-" + uuid.New().String()[:8], nil
}
