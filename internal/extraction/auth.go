package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const reviewerKey contextKey = "reviewer"

// anonymousReviewer is recorded when the server runs without a JWT secret
const anonymousReviewer = "anonymous"

// NewReviewerToken signs an HS256 token identifying a reviewer
func NewReviewerToken(secret []byte, subject string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("jwt secret is required")
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "iban-extractor",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseReviewer validates a bearer token and returns its subject
func parseReviewer(secret []byte, header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("missing bearer token")
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("token expired")
		}
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// ReviewerFromContext returns the authenticated reviewer of a request
func ReviewerFromContext(ctx context.Context) string {
	if reviewer, ok := ctx.Value(reviewerKey).(string); ok && reviewer != "" {
		return reviewer
	}
	return anonymousReviewer
}

// requireAuth checks the bearer token when a secret is configured
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		reviewer, err := parseReviewer(s.jwtSecret, r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="IBAN Extractor"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), reviewerKey, reviewer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
