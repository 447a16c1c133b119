package auth

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleTeacher is the role claim expected on teacher tokens that carry one.
const RoleTeacher = "teacher"

// Claims carried by a teacher bearer token. The subject is the teacher id.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TeacherID returns the token subject.
func (c *Claims) TeacherID() string {
	return c.Subject
}

// Manager verifies teacher bearer tokens. With a public key configured it
// expects RS256 signatures from the identity provider; otherwise it verifies
// HS256 against the shared secret.
type Manager struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
}

// NewManager builds a verifier. Exactly one of secret or publicKeyPEM must
// be usable; publicKeyPEM wins when both are set.
func NewManager(secret string, publicKeyPEM []byte, issuer string) (*Manager, error) {
	m := &Manager{issuer: issuer}
	if len(publicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse RSA public key: %w", err)
		}
		m.publicKey = key
	}
	if secret != "" {
		m.secret = []byte(secret)
	}
	if m.publicKey == nil && m.secret == nil {
		return nil, errors.New("jwt: no secret or public key configured")
	}
	return m, nil
}

// Verify validates the token signature, lifetime, and claims, and returns
// the teacher claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if m.publicKey != nil {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return m.publicKey, nil
			}
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.Role != "" && claims.Role != RoleTeacher {
		return nil, fmt.Errorf("role %q is not a teacher", claims.Role)
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

// Generate signs a teacher token with the shared secret. Verification-only
// deployments (public key without secret) cannot mint tokens.
func (m *Manager) Generate(teacherID, name string, ttl time.Duration) (string, error) {
	if m.secret == nil {
		return "", errors.New("jwt: generation requires a shared secret")
	}
	now := time.Now()
	claims := &Claims{
		Name: name,
		Role: RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   teacherID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ExtractBearer pulls the token out of the Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// Middleware rejects requests without a valid teacher token and stores the
// claims on the request context.
func (m *Manager) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearer(r)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := m.Verify(token)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(SetClaims(r.Context(), claims)))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
