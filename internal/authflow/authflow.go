// Package authflow implements the session-reuse authentication flow:
// prefer a persisted session, validate it with a cheap timeline probe,
// fall back to password login when the session is rejected, and persist
// whatever worked. Session reuse is always preferred because password
// logins are costlier and far more visible to the platform.
//
// The flow is a small state machine:
//
//	NoSession ──load──▶ SessionLoaded ──probe ok──▶ Validated
//	    │                     │
//	    │                     └─probe rejected─▶ PasswordLogin (uuids carried over)
//	    └────no blob────────────▶ PasswordLogin (token tried first)
//
// Any successful terminal state persists the settings blob; persistence
// failures are logged and swallowed — they never undo an authentication
// that already succeeded.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"igpost/internal/creds"
	"igpost/internal/insta"
	"igpost/internal/sessionfile"
)

// Hard failures surfaced to the caller. Everything else in the flow is
// recovered locally.
var (
	// ErrNoCredentials means no session blob, no session token, and no
	// complete username/password pair were available.
	ErrNoCredentials = errors.New("authflow: username and password are required when no valid session is available")

	// ErrSessionInvalidNoCredentials means the persisted session was
	// rejected by the platform and no credentials were supplied for the
	// fallback login. The session file is left untouched so a retry with
	// credentials can still reuse the device fingerprint.
	ErrSessionInvalidNoCredentials = errors.New("authflow: session invalid and no credentials provided for fallback")
)

// state tracks the flow's progress. Values are ordered along the happy path.
type state int

const (
	stateNoSession state = iota
	stateSessionLoaded
	stateValidated
	statePasswordLogin
	stateAuthenticated
)

func (s state) String() string {
	switch s {
	case stateNoSession:
		return "no_session"
	case stateSessionLoaded:
		return "session_loaded"
	case stateValidated:
		return "validated"
	case statePasswordLogin:
		return "password_login"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Method records which authentication primitive ultimately succeeded.
type Method string

const (
	MethodSession  Method = "session"
	MethodToken    Method = "token"
	MethodPassword Method = "password"
)

// Client is the platform capability set the flow drives. *insta.Client
// satisfies it; tests use a fake.
type Client interface {
	SetDelayRange(min, max time.Duration)
	Settings() map[string]any
	SetSettings(settings map[string]any)
	SetUUIDs(uuids map[string]any)
	Login(ctx context.Context, username, password string) error
	LoginBySessionToken(ctx context.Context, token string) error
	ValidateSession(ctx context.Context) error
}

var _ Client = (*insta.Client)(nil)

// Options configures one Authenticate call.
type Options struct {
	// SessionPath is where the session blob is loaded from and persisted to.
	SessionPath string

	// Credentials for password login. May be incomplete; the flow fails
	// only when it actually needs them.
	Credentials creds.Credentials

	// SessionToken is an alternate single-shot login proof, tried before
	// password login when no session blob exists.
	SessionToken string

	// DelayMin/DelayMax bound the random pre-request delay applied to the
	// client before any network call.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Result reports how authentication succeeded.
type Result struct {
	// Method is the primitive that produced the working session.
	Method Method

	// Refreshed is set when a loaded session was proactively refreshed
	// with a password login before validation.
	Refreshed bool

	// FallbackUsed is set when the persisted session was rejected and a
	// password login recovered it.
	FallbackUsed bool
}

// Authenticate drives the client to an authenticated state per Options.
// On success the client is guaranteed authenticated and the resulting
// settings blob has been written (best effort) to Options.SessionPath.
func Authenticate(ctx context.Context, client Client, opts Options, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client.SetDelayRange(opts.DelayMin, opts.DelayMax)

	settings := loadSession(opts.SessionPath, logger)

	st := stateNoSession
	if settings != nil {
		st = stateSessionLoaded
	}

	result := &Result{}

	if st == stateSessionLoaded {
		next, err := authenticateViaSession(ctx, client, settings, opts, result, logger)
		if err != nil {
			return nil, err
		}

		st = next
	}

	if st != stateAuthenticated {
		next, err := authenticateDirect(ctx, client, opts, result, logger)
		if err != nil {
			return nil, err
		}

		st = next
	}

	persistSession(opts.SessionPath, client.Settings(), logger)

	logger.Info("authentication complete",
		slog.String("state", st.String()),
		slog.String("method", string(result.Method)),
		slog.Bool("fallback", result.FallbackUsed),
	)

	return result, nil
}

// loadSession reads the persisted blob. A corrupt or unreadable session
// file is equivalent to no session — never a hard error.
func loadSession(path string, logger *slog.Logger) map[string]any {
	if path == "" {
		return nil
	}

	settings, err := sessionfile.Load(path)
	if err != nil {
		logger.Warn("could not load session settings, proceeding without",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if settings == nil {
		logger.Debug("no session file", slog.String("path", path))
		return nil
	}

	logger.Info("loaded session", slog.String("path", path))

	return settings
}

// authenticateViaSession applies the loaded settings and validates them,
// falling back to password login (with uuid carry-over) when the platform
// rejects the session. Returns stateAuthenticated on success. A recoverable
// failure returns the incoming state unchanged so the direct path runs; the
// only hard error here is a rejected session with no fallback credentials.
func authenticateViaSession(
	ctx context.Context,
	client Client,
	settings map[string]any,
	opts Options,
	result *Result,
	logger *slog.Logger,
) (state, error) {
	logger.Info("applying loaded session settings")
	client.SetSettings(settings)

	// Proactive refresh: when credentials are supplied, re-run password
	// login before probing so stale cookies get replaced. The device
	// fingerprint comes from the loaded settings, so this is not a new
	// device to the platform.
	if opts.Credentials.Complete() {
		logger.Info("refreshing login with supplied credentials")

		if err := client.Login(ctx, opts.Credentials.Username, opts.Credentials.Password); err != nil {
			logger.Warn("session refresh login failed, trying direct login",
				slog.String("error", err.Error()),
			)

			return stateSessionLoaded, nil
		}

		result.Refreshed = true
	}

	logger.Info("validating session with timeline probe")

	err := client.ValidateSession(ctx)

	switch {
	case err == nil:
		result.Method = MethodSession
		logger.Info("authenticated via session")

		return stateAuthenticated, nil

	case errors.Is(err, insta.ErrLoginRequired):
		return fallbackLogin(ctx, client, opts, result, logger)

	default:
		// Probe failed for a platform/network reason, not a dead session.
		// Recover via the direct path rather than aborting.
		logger.Warn("session validation failed, trying direct login",
			slog.String("error", err.Error()),
		)

		return stateSessionLoaded, nil
	}
}

// fallbackLogin recovers from a rejected session: the device uuids from
// the old settings are carried over (mandatory — a fresh fingerprint makes
// every fallback look like a new device), everything else is cleared, and
// a password login re-establishes the session.
func fallbackLogin(
	ctx context.Context,
	client Client,
	opts Options,
	result *Result,
	logger *slog.Logger,
) (state, error) {
	logger.Info("session invalid, attempting password login fallback")

	oldUUIDs := sessionfile.UUIDs(client.Settings())

	client.SetSettings(map[string]any{})

	if oldUUIDs != nil {
		client.SetUUIDs(oldUUIDs)
	}

	if !opts.Credentials.Complete() {
		return stateNoSession, ErrSessionInvalidNoCredentials
	}

	if err := client.Login(ctx, opts.Credentials.Username, opts.Credentials.Password); err != nil {
		// Let the direct path take one more swing; if the credentials are
		// genuinely bad it surfaces the platform's rejection.
		logger.Warn("fallback login failed, trying direct login",
			slog.String("error", err.Error()),
		)

		return stateSessionLoaded, nil
	}

	result.Method = MethodPassword
	result.FallbackUsed = true

	logger.Info("authenticated via fallback password login")

	return stateAuthenticated, nil
}

// authenticateDirect is the no-session path: a supplied session token is
// tried first as a single-shot login, then username/password with a clean
// slate (settings and uuids both cleared — there is no prior device
// identity worth preserving on this path).
func authenticateDirect(
	ctx context.Context,
	client Client,
	opts Options,
	result *Result,
	logger *slog.Logger,
) (state, error) {
	client.SetSettings(map[string]any{})
	client.SetUUIDs(map[string]any{})

	if opts.SessionToken != "" {
		logger.Info("attempting session token login")

		if err := client.LoginBySessionToken(ctx, opts.SessionToken); err != nil {
			logger.Warn("session token login failed",
				slog.String("error", err.Error()),
			)
		} else {
			result.Method = MethodToken
			logger.Info("authenticated via session token")

			return stateAuthenticated, nil
		}
	}

	if !opts.Credentials.Complete() {
		return stateNoSession, ErrNoCredentials
	}

	logger.Info("attempting direct password login")

	if err := client.Login(ctx, opts.Credentials.Username, opts.Credentials.Password); err != nil {
		return statePasswordLogin, fmt.Errorf("authflow: password login: %w", err)
	}

	result.Method = MethodPassword

	logger.Info("authenticated via password login")

	return stateAuthenticated, nil
}

// persistSession writes the working settings blob. Failure is observable
// in the log only — it never invalidates a successful authentication.
func persistSession(path string, settings map[string]any, logger *slog.Logger) {
	if path == "" {
		return
	}

	if err := sessionfile.Save(path, settings); err != nil {
		logger.Warn("failed to persist session",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	logger.Info("persisted session", slog.String("path", path))
}
