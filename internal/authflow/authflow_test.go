package authflow

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igpost/internal/creds"
	"igpost/internal/insta"
	"igpost/internal/sessionfile"
)

// fakeClient scripts the platform capability set without any network.
type fakeClient struct {
	settings map[string]any

	loginCalls int
	tokenCalls int
	probeCalls int

	loginErr error
	tokenErr error

	// probeErrs is consumed one per ValidateSession call; nil means the
	// probe succeeds.
	probeErrs []error

	delayMin time.Duration
	delayMax time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{settings: map[string]any{}}
}

func (f *fakeClient) SetDelayRange(min, max time.Duration) {
	f.delayMin, f.delayMax = min, max
}

func (f *fakeClient) Settings() map[string]any {
	return maps.Clone(f.settings)
}

func (f *fakeClient) SetSettings(settings map[string]any) {
	if settings == nil {
		settings = map[string]any{}
	}

	f.settings = maps.Clone(settings)
}

func (f *fakeClient) SetUUIDs(uuids map[string]any) {
	if len(uuids) == 0 {
		delete(f.settings, "uuids")
		return
	}

	f.settings["uuids"] = maps.Clone(uuids)
}

func (f *fakeClient) Login(_ context.Context, username, _ string) error {
	f.loginCalls++

	if f.loginErr != nil {
		return f.loginErr
	}

	if _, ok := f.settings["uuids"]; !ok {
		f.settings["uuids"] = map[string]any{"device_id": "fake-fresh-device"}
	}

	f.settings["authorization"] = "Bearer fresh"
	f.settings["username"] = username

	return nil
}

func (f *fakeClient) LoginBySessionToken(_ context.Context, _ string) error {
	f.tokenCalls++

	if f.tokenErr != nil {
		return f.tokenErr
	}

	f.settings["authorization"] = "Bearer via-token"

	return nil
}

func (f *fakeClient) ValidateSession(_ context.Context) error {
	f.probeCalls++

	if len(f.probeErrs) == 0 {
		return nil
	}

	err := f.probeErrs[0]
	f.probeErrs = f.probeErrs[1:]

	return err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sessionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.json")
}

func writeSession(t *testing.T, path string, settings map[string]any) {
	t.Helper()
	require.NoError(t, sessionfile.Save(path, settings))
}

var testCreds = creds.Credentials{Username: "alice", Password: "secret"}

func TestAuthenticate_NoSessionPasswordLogin(t *testing.T) {
	client := newFakeClient()
	path := sessionPath(t)

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodPassword, result.Method)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 1, client.loginCalls)

	// A new session file was written with the working settings.
	saved, err := sessionfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", saved["authorization"])
}

func TestAuthenticate_NoSessionNoCredentials(t *testing.T) {
	client := newFakeClient()

	_, err := Authenticate(context.Background(), client, Options{
		SessionPath: sessionPath(t),
	}, testLogger())
	require.ErrorIs(t, err, ErrNoCredentials)

	assert.Zero(t, client.loginCalls)
	assert.Zero(t, client.tokenCalls)
}

func TestAuthenticate_CorruptSessionFallsBackToPassword(t *testing.T) {
	path := sessionPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{definitely not json"), 0o600))

	client := newFakeClient()

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodPassword, result.Method)
	assert.Equal(t, 1, client.loginCalls)

	// The corrupt file was replaced with a valid one.
	saved, err := sessionfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", saved["authorization"])
}

func TestAuthenticate_ValidSessionNoLogin(t *testing.T) {
	path := sessionPath(t)
	uuids := map[string]any{"device_id": "android-original"}
	writeSession(t, path, map[string]any{
		"authorization": "Bearer saved",
		"uuids":         uuids,
	})

	client := newFakeClient()

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodSession, result.Method)
	assert.False(t, result.Refreshed)
	assert.Zero(t, client.loginCalls)
	assert.Equal(t, 1, client.probeCalls)

	// Round-trip: the persisted settings still validate on the next run.
	client2 := newFakeClient()

	result2, err := Authenticate(context.Background(), client2, Options{
		SessionPath: path,
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, MethodSession, result2.Method)
	assert.Zero(t, client2.loginCalls)

	// Identity uuids were not modified.
	saved, err := sessionfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "android-original", sessionfile.UUIDs(saved)["device_id"])
}

func TestAuthenticate_SessionWithCredentialsRefreshes(t *testing.T) {
	path := sessionPath(t)
	writeSession(t, path, map[string]any{
		"authorization": "Bearer stale",
		"uuids":         map[string]any{"device_id": "android-original"},
	})

	client := newFakeClient()

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodSession, result.Method)
	assert.True(t, result.Refreshed)
	assert.Equal(t, 1, client.loginCalls)

	// Refresh happened on the loaded device identity, not a fresh one.
	assert.Equal(t, "android-original", sessionfile.UUIDs(client.Settings())["device_id"])
}

func TestAuthenticate_FallbackPreservesUUIDs(t *testing.T) {
	path := sessionPath(t)
	writeSession(t, path, map[string]any{
		"authorization": "Bearer dead",
		"cookie_jar":    "stale-cookies",
		"uuids":         map[string]any{"device_id": "android-original"},
	})

	client := newFakeClient()
	client.probeErrs = []error{insta.ErrLoginRequired}

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodPassword, result.Method)
	assert.True(t, result.FallbackUsed)
	// One refresh login plus one fallback login.
	assert.Equal(t, 2, client.loginCalls)

	// Fingerprint stability: uuids survived the fallback, stale state did not.
	settings := client.Settings()
	assert.Equal(t, "android-original", sessionfile.UUIDs(settings)["device_id"])
	assert.NotContains(t, settings, "cookie_jar")

	// The persisted session carries the same fingerprint.
	saved, err := sessionfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "android-original", sessionfile.UUIDs(saved)["device_id"])
}

func TestAuthenticate_SessionInvalidNoCredentials(t *testing.T) {
	path := sessionPath(t)
	original := map[string]any{
		"authorization": "Bearer dead",
		"uuids":         map[string]any{"device_id": "android-original"},
	}
	writeSession(t, path, original)

	client := newFakeClient()
	client.probeErrs = []error{insta.ErrLoginRequired}

	_, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
	}, testLogger())
	require.ErrorIs(t, err, ErrSessionInvalidNoCredentials)

	// The session file is untouched: the uuids remain recoverable for a
	// retry with credentials.
	saved, loadErr := sessionfile.Load(path)
	require.NoError(t, loadErr)
	assert.Equal(t, "android-original", sessionfile.UUIDs(saved)["device_id"])
}

func TestAuthenticate_ProbePlatformErrorFallsThroughToDirect(t *testing.T) {
	path := sessionPath(t)
	writeSession(t, path, map[string]any{
		"authorization": "Bearer maybe",
		"uuids":         map[string]any{"device_id": "android-original"},
	})

	client := newFakeClient()
	client.probeErrs = []error{insta.ErrServerError}

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: path,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)

	// Not a dead session, so no uuid carry-over: the direct path starts
	// from a clean slate.
	assert.Equal(t, MethodPassword, result.Method)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, "fake-fresh-device", sessionfile.UUIDs(client.Settings())["device_id"])
}

func TestAuthenticate_SessionTokenPreferredOverPassword(t *testing.T) {
	client := newFakeClient()

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath:  sessionPath(t),
		Credentials:  testCreds,
		SessionToken: "sessionid-token",
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodToken, result.Method)
	assert.Equal(t, 1, client.tokenCalls)
	assert.Zero(t, client.loginCalls)
}

func TestAuthenticate_SessionTokenFailureFallsBackToPassword(t *testing.T) {
	client := newFakeClient()
	client.tokenErr = errors.New("token expired")

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath:  sessionPath(t),
		Credentials:  testCreds,
		SessionToken: "sessionid-token",
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, MethodPassword, result.Method)
	assert.Equal(t, 1, client.tokenCalls)
	assert.Equal(t, 1, client.loginCalls)
}

func TestAuthenticate_SessionTokenOnlyFailureIsNoCredentials(t *testing.T) {
	client := newFakeClient()
	client.tokenErr = errors.New("token expired")

	_, err := Authenticate(context.Background(), client, Options{
		SessionPath:  sessionPath(t),
		SessionToken: "sessionid-token",
	}, testLogger())
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuthenticate_PasswordRejectedSurfaced(t *testing.T) {
	client := newFakeClient()
	client.loginErr = &insta.APIError{StatusCode: 400, Message: "bad_password", Err: insta.ErrLoginRejected}

	_, err := Authenticate(context.Background(), client, Options{
		SessionPath: sessionPath(t),
		Credentials: testCreds,
	}, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, insta.ErrLoginRejected)
}

func TestAuthenticate_PersistFailureSwallowed(t *testing.T) {
	// SessionPath points at a directory: loading soft-fails and saving
	// cannot rename over it. Authentication must still succeed.
	dir := t.TempDir()

	client := newFakeClient()

	result, err := Authenticate(context.Background(), client, Options{
		SessionPath: dir,
		Credentials: testCreds,
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, MethodPassword, result.Method)
}

func TestAuthenticate_DelayRangeApplied(t *testing.T) {
	client := newFakeClient()

	_, err := Authenticate(context.Background(), client, Options{
		SessionPath: sessionPath(t),
		Credentials: testCreds,
		DelayMin:    time.Second,
		DelayMax:    3 * time.Second,
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.delayMin)
	assert.Equal(t, 3*time.Second, client.delayMax)
}
