package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/cloo-solutions/chimera/internal/domain"
)

type contextKey string

const (
	ClientIDKey contextKey = "client_id"
	identityKey contextKey = "identity"
)

// identity lets outer middleware see the client id auth resolves further in
type identity struct {
	clientID string
}

func withIdentity(r *http.Request) (*http.Request, *identity) {
	if id, ok := r.Context().Value(identityKey).(*identity); ok {
		return r, id
	}
	id := &identity{}
	return r.WithContext(context.WithValue(r.Context(), identityKey, id)), id
}

// AuthValidator resolves a bearer token to a client id
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// StaticKeys validates tokens against a fixed key list. The client id is a
// short hash of the key so logs never carry the secret.
type StaticKeys struct {
	keys [][]byte
}

func NewStaticKeys(keys []string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		s.keys = append(s.keys, []byte(k))
	}
	return s
}

// Enabled reports whether any key is configured
func (s *StaticKeys) Enabled() bool {
	return len(s.keys) > 0
}

func (s *StaticKeys) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	candidate := []byte(token)
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(k, candidate) == 1 {
			sum := sha256.Sum256(k)
			return "key_" + hex.EncodeToString(sum[:])[:12], nil
		}
	}
	return "", domain.ErrInvalidAPIKey
}

// APIKeyHeader is accepted alongside "Authorization: Bearer" for clients
// that cannot set the authorization header, such as some SSE libraries.
const APIKeyHeader = "X-API-Key"

var errNoCredentials = domain.NewDomainError(domain.ErrCodeUnauthorized, "missing authorization header")

// bearerToken extracts the presented key. The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", domain.NewDomainError(domain.ErrCodeUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="chimera"`)
	api.HandleError(w, err)
}

// APIKeyAuth rejects requests without a valid key and stores the resolved
// client id on the context.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err)
				return
			}

			clientID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				unauthorized(w, domain.ErrInvalidAPIKey)
				return
			}

			if id, ok := r.Context().Value(identityKey).(*identity); ok {
				id.clientID = clientID
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClientIDKey, clientID)))
		})
	}
}

func GetClientID(ctx context.Context) string {
	if clientID, ok := ctx.Value(ClientIDKey).(string); ok {
		return clientID
	}
	if id, ok := ctx.Value(identityKey).(*identity); ok {
		return id.clientID
	}
	return ""
}
