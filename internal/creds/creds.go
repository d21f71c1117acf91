// Package creds resolves the username/password pair and optional session
// token from a fixed precedence chain: secrets file, then process
// environment, then explicit caller-supplied values. The first source with
// a fully populated pair wins; a source supplying only a username or only
// a password is skipped whole, so a login never mixes sources.
package creds

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable names. The IG_* pair is the legacy spelling and is
// accepted alongside the IGPOST_* names.
const (
	EnvUsername       = "IGPOST_USERNAME"
	EnvPassword       = "IGPOST_PASSWORD"
	EnvSessionToken   = "IGPOST_SESSION_TOKEN"
	EnvLegacyUsername = "IG_USERNAME"
	EnvLegacyPassword = "IG_PASSWORD"
)

// Credentials is a username/password pair. Both fields present or both
// absent; a partial pair is never passed to a login call.
type Credentials struct {
	Username string
	Password string
}

// Complete reports whether both fields are populated.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// secretsFile is the on-disk format of the optional secrets file.
type secretsFile struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	SessionToken string `toml:"session_token"`
}

// Source describes where credentials may come from for one resolution.
type Source struct {
	// SecretsPath is the optional TOML secrets file. A missing file is
	// not an error; a present but unreadable file is logged and skipped.
	SecretsPath string

	// Environ looks up environment variables. Defaults to os.Getenv;
	// tests inject a map lookup.
	Environ func(string) string

	// Explicit holds caller-supplied values (CLI flags or API payload).
	Explicit Credentials

	// ExplicitToken is a caller-supplied session token.
	ExplicitToken string
}

// Resolve walks the precedence chain and returns the winning credentials
// (possibly incomplete — the auth flow decides whether that is fatal) and
// the session token from the same chain.
func (s Source) Resolve(logger *slog.Logger) (Credentials, string) {
	if logger == nil {
		logger = slog.Default()
	}

	environ := s.Environ
	if environ == nil {
		environ = os.Getenv
	}

	fileCreds, fileToken := s.loadSecretsFile(logger)

	envCreds := Credentials{
		Username: firstNonEmpty(environ(EnvUsername), environ(EnvLegacyUsername)),
		Password: firstNonEmpty(environ(EnvPassword), environ(EnvLegacyPassword)),
	}

	creds := s.Explicit
	switch {
	case fileCreds.Complete():
		logger.Info("using credentials from secrets file")
		creds = fileCreds
	case envCreds.Complete():
		logger.Info("using credentials from environment")
		creds = envCreds
	case creds.Complete():
		logger.Info("using explicitly supplied credentials")
	}

	token := firstNonEmpty(fileToken, environ(EnvSessionToken), s.ExplicitToken)

	return creds, token
}

// loadSecretsFile parses the secrets file if one is configured and
// present. Any failure is non-fatal: the chain continues to the next
// source.
func (s Source) loadSecretsFile(logger *slog.Logger) (Credentials, string) {
	if s.SecretsPath == "" {
		return Credentials{}, ""
	}

	var parsed secretsFile

	_, err := toml.DecodeFile(s.SecretsPath, &parsed)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, ""
	}

	if err != nil {
		logger.Warn("could not read secrets file",
			slog.String("path", s.SecretsPath),
			slog.String("error", err.Error()),
		)

		return Credentials{}, ""
	}

	return Credentials{Username: parsed.Username, Password: parsed.Password}, parsed.SessionToken
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// Redacted returns the username with the password masked, for logging.
func (c Credentials) Redacted() string {
	if !c.Complete() {
		return "(incomplete)"
	}

	return fmt.Sprintf("%s:****", c.Username)
}
