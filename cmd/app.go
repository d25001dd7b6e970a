package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/config"
	"github.com/Tiliavir/offline-time-tracker/internal/connectivity"
	"github.com/Tiliavir/offline-time-tracker/internal/frappe"
	"github.com/Tiliavir/offline-time-tracker/internal/ledger"
	"github.com/Tiliavir/offline-time-tracker/internal/location"
	"github.com/Tiliavir/offline-time-tracker/internal/logging"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/reconcile"
	"github.com/Tiliavir/offline-time-tracker/internal/recorder"
)

// requestTimeout bounds a single call to the HR backend.
const requestTimeout = 30 * time.Second

// autoSyncAnnotation marks commands that replay the queue on every
// invocation: "before" syncs ahead of the command's own output, "after"
// once the command has recorded its change.
const autoSyncAnnotation = "autosync"

var errNoServer = errors.New("no server configured (set server.url in ~/.tta/config.json or TTA_SERVER_URL)")

// exitError carries the process exit status: 1 for user errors, 2 for
// storage or system errors.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error    { return &exitError{code: 1, err: err} }
func storageError(err error) error { return &exitError{code: 2, err: err} }

// exitCode returns the status Execute exits with for err.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// app bundles what every command needs.
type app struct {
	cfg    config.Config
	base   string
	loc    *time.Location
	logger *slog.Logger
	ledger *ledger.Ledger
	out    io.Writer

	eng *reconcile.Engine
}

// openApp loads configuration and opens the ledger.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, storageError(err)
	}
	base, err := config.BaseDir()
	if err != nil {
		return nil, storageError(err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, userError(err)
	}
	logger := logging.New(cfg.Log.Level, os.Stderr)

	l, err := ledger.Open(cfg.Storage.Backend, base, logger)
	if err != nil {
		return nil, storageError(err)
	}
	return &app{cfg: cfg, base: base, loc: loc, logger: logger, ledger: l, out: os.Stdout}, nil
}

func (a *app) Close() error {
	return a.ledger.Close()
}

// withApp adapts fn to cobra's RunE. The ledger is closed on every path and
// commands carrying autoSyncAnnotation replay the queue, unless --offline
// was given.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp()
		if err != nil {
			return err
		}
		a.out = cmd.OutOrStdout()
		defer func() {
			if cerr := a.Close(); cerr != nil && err == nil {
				err = storageError(cerr)
			}
		}()

		when := cmd.Annotations[autoSyncAnnotation]
		if offline {
			when = ""
		}
		if when == "before" {
			a.autoSync(cmd.Context())
		}
		if err := fn(cmd, args, a); err != nil {
			return err
		}
		if when == "after" {
			a.autoSync(cmd.Context())
		}
		return nil
	}
}

func (a *app) tokenStore() *frappe.TokenStore {
	return frappe.DefaultTokenStore(a.base)
}

func (a *app) oauthConfig() frappe.OAuthSettings {
	return frappe.OAuthSettings{
		SiteURL:      a.cfg.Server.URL,
		ClientID:     a.cfg.Auth.ClientID,
		AuthorizeURL: a.cfg.Auth.AuthorizeURL,
		TokenURL:     a.cfg.Auth.TokenURL,
		RedirectURL:  a.cfg.Auth.RedirectURL,
	}
}

// client returns an authenticated gateway client for the configured site.
func (a *app) client(ctx context.Context) (*frappe.Client, error) {
	if a.cfg.Server.URL == "" {
		return nil, errNoServer
	}

	var hc *http.Client
	switch a.cfg.Auth.Mode {
	case config.AuthOAuth2:
		var err error
		hc, err = frappe.NewOAuthHTTPClient(ctx, frappe.OAuth2Config(a.oauthConfig()), a.tokenStore())
		if err != nil {
			return nil, err
		}
	case config.AuthToken:
		if a.cfg.Auth.APIKey == "" || a.cfg.Auth.APISecret == "" {
			return nil, errors.New("auth.api_key and auth.api_secret are required for token authentication")
		}
		hc = frappe.NewTokenHTTPClient(a.cfg.Auth.APIKey, a.cfg.Auth.APISecret)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", a.cfg.Auth.Mode)
	}
	hc.Timeout = requestTimeout
	return frappe.NewClient(a.cfg.Server.URL, hc, a.loc), nil
}

// engine returns the reconciliation engine wired to the configured site.
// Sweeps are exclusive across tta processes through ~/.tta/sync.lock.
func (a *app) engine(ctx context.Context) (*reconcile.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	a.eng = reconcile.New(a.ledger, client,
		reconcile.WithProbe(connectivity.NewHTTPProbe(frappe.PingURL(a.cfg.Server.URL))),
		reconcile.WithNotifier(stderrNotifier{}),
		reconcile.WithLogger(a.logger),
		reconcile.WithSweepLock(flock.New(filepath.Join(a.base, "sync.lock"))),
	)
	return a.eng, nil
}

// autoSync is the start-up sweep of an interactive client: everything
// queued is replayed, best effort. It stays silent unless something was
// submitted or went wrong.
func (a *app) autoSync(ctx context.Context) {
	eng, err := a.engine(ctx)
	if err != nil {
		a.logger.Debug("sync skipped", "error", err)
		return
	}

	var left queued
	unsubscribe := eng.OnChanged(func() { left = a.queued() })
	defer unsubscribe()

	sum := eng.SyncAll(ctx)
	if sum.Skipped != reconcile.SkipNone {
		return
	}
	if err := sum.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Sync incomplete: %v\n", err)
	}
	submitted := sum.TimeEntries.Removed + sum.LeaveRequests.Confirmed
	if submitted > 0 || sum.TimeEntries.Failed+sum.LeaveRequests.Failed > 0 {
		fmt.Fprintf(a.out, "Synced %d session(s) and %d leave request(s); %s.\n",
			sum.TimeEntries.Removed, sum.LeaveRequests.Confirmed, left)
	}
}

// queued counts what is still waiting in the ledger.
type queued struct {
	sessions int
	leave    int
}

func (q queued) String() string {
	if q.sessions == 0 && q.leave == 0 {
		return "nothing left to send"
	}
	return fmt.Sprintf("%d session(s) and %d leave request(s) still queued", q.sessions, q.leave)
}

func (a *app) queued() queued {
	s, err := a.ledger.Load()
	if err != nil {
		a.logger.Warn("reading ledger", "error", err)
		return queued{}
	}
	return queued{sessions: len(s.TimeEntries), leave: len(s.LeaveRequests)}
}

func (a *app) recorder() *recorder.Recorder {
	opts := []recorder.Option{
		recorder.WithLocator(location.FromConfig(a.cfg.Punch.Latitude, a.cfg.Punch.Longitude)),
	}
	if a.cfg.Punch.RequireLocation != nil {
		opts = append(opts, recorder.WithRequireLocation(*a.cfg.Punch.RequireLocation))
	}
	return recorder.New(a.ledger, opts...)
}

// stderrNotifier reports dropped leave requests to the user.
type stderrNotifier struct{}

func (stderrNotifier) LeaveRequestFailed(lr model.LeaveRequest, message string) {
	fmt.Fprintf(os.Stderr, "Leave request %s – %s (%s) was rejected and removed: %s\n",
		lr.From, lr.To, lr.LeaveType, message)
}
