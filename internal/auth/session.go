// Package auth - session.go handles signed session tokens: issuance after a
// successful authentication and validation on every request. The token
// carries the subject's policy attributes (role, clearance, department) so
// the enforcement layer can build a PDP subject without a database read.
// Scope note: cookie/header transport of the token is the web layer's
// problem; this file only mints and checks the signed claims.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL keeps sessions short-lived; re-authentication after 30
// minutes of validity is part of the account-takeover containment story.
const DefaultSessionTTL = 30 * time.Minute

const sessionSecretEnv = "LMS_SESSION_SECRET"

var (
	sessionSecret     string
	sessionSecretOnce sync.Once
	sessionSecretErr  error
)

// SessionClaims is the JWT claims structure for a verified session.
type SessionClaims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Clearance  string `json:"clearance"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// ValidateSessionSecret checks that the session signing secret is
// configured. In production it fails when LMS_SESSION_SECRET is unset; in
// dev mode it generates a random secret and warns (sessions then do not
// survive restarts). Call this once at startup.
func ValidateSessionSecret() error {
	sessionSecretOnce.Do(func() {
		secret := os.Getenv(sessionSecretEnv)

		if secret == "" {
			if isDevMode() {
				sessionSecret = generateRandomSecret()
				log.Printf("WARNING: %s not set. Using auto-generated secret for development.", sessionSecretEnv)
				log.Printf("WARNING: Sessions will not persist across restarts. Set %s for persistent sessions.", sessionSecretEnv)
			} else {
				sessionSecretErr = fmt.Errorf(
					"SECURITY ERROR: %s environment variable is required in production. "+
						"Generate a secure secret with: openssl rand -hex 32", sessionSecretEnv)
			}
			return
		}

		if len(secret) < 32 {
			log.Printf("WARNING: %s is shorter than the recommended 32 characters.", sessionSecretEnv)
		}
		sessionSecret = secret
	})
	return sessionSecretErr
}

func getSessionSecret() string {
	if sessionSecret == "" {
		if err := ValidateSessionSecret(); err != nil {
			panic(err)
		}
	}
	return sessionSecret
}

// GenerateSessionToken signs a session token for an authenticated identity.
// A zero ttl means DefaultSessionTTL; a negative ttl is honored and yields a
// token that is already expired, which ValidateSessionToken rejects.
func GenerateSessionToken(id Identity, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	claims := &SessionClaims{
		UserID:     id.UserID,
		Email:      id.Email,
		Role:       id.Role,
		Clearance:  id.Clearance,
		Department: id.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "securelms",
			Subject:   id.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(getSessionSecret()))
}

// ValidateSessionToken parses and validates a session token.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(getSessionSecret()), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
