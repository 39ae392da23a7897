package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/example/realtime-docstore/internal/db"
	"github.com/example/realtime-docstore/internal/ws"
)

var (
	errUnknownDatabase = errors.New("unknown database")
	errBadAccessKey    = errors.New("invalid access key")
	errBadAuthToken    = errors.New("invalid auth token")
)

// Authenticator admits WebSocket clients based on the connection query
// string: database selects the target, accesskey gates the connection,
// authkey carries a JWT binding a uid, and rootkey elevates the session.
type Authenticator struct {
	manager *Manager
	logger  zerolog.Logger
}

// NewAuthenticator builds the gateway authenticator backed by the manager.
func NewAuthenticator(manager *Manager, logger zerolog.Logger) *Authenticator {
	return &Authenticator{manager: manager, logger: logger}
}

// Authenticate implements ws.Authenticator.
func (a *Authenticator) Authenticate(r *http.Request) (ws.ClientIdentity, error) {
	params := r.URL.Query()

	name := params.Get("database")
	handle := a.manager.Get(name)
	if handle == nil {
		authFailures.WithLabelValues("unknown_database").Inc()
		return ws.ClientIdentity{}, errUnknownDatabase
	}

	if key := handle.AccessKey(); key != "" {
		if subtle.ConstantTimeCompare([]byte(params.Get("accesskey")), []byte(key)) != 1 {
			authFailures.WithLabelValues("access_key").Inc()
			return ws.ClientIdentity{}, errBadAccessKey
		}
	}

	session := db.NewSession(ulid.Make().String())

	if authkey := params.Get("authkey"); authkey != "" && handle.PublicKey() != "" {
		uid, err := verifyAuthToken(authkey, handle.PublicKey())
		if err != nil {
			authFailures.WithLabelValues("auth_token").Inc()
			return ws.ClientIdentity{}, fmt.Errorf("%w: %v", errBadAuthToken, err)
		}
		session.UID = uid
	}

	if rootkey := params.Get("rootkey"); rootkey != "" && handle.RootKey() != "" {
		if subtle.ConstantTimeCompare([]byte(rootkey), []byte(handle.RootKey())) == 1 {
			session.Root = true
			a.logger.Warn().Str("database", name).Str("session", session.ID).Msg("root key login")
		}
	}

	return ws.ClientIdentity{Database: name, Session: session}, nil
}

// verifyAuthToken checks the token signature against the PEM public key and
// extracts the user identity from the uid claim, falling back to user.
func verifyAuthToken(token, publicKeyPEM string) (string, error) {
	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodEd25519:
			return key, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token not valid")
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		uid, _ = claims["user"].(string)
	}
	if uid == "" {
		return "", errors.New("token carries no uid")
	}
	return uid, nil
}

func parsePublicKey(pemText string) (any, error) {
	raw := []byte(pemText)
	if key, err := jwt.ParseRSAPublicKeyFromPEM(raw); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(raw); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(raw); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported public key")
}
