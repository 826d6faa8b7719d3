// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's domain.Identity. An HS256 bearer token
// authenticates the user (sub and email claims). When AUTH_TRUST_USER_HEADER
// is on, X-User-ID is accepted instead, which is meant for local development
// behind a trusted proxy. Without either, the caller is anonymous: it can
// chat but every persistence operation refuses it.
//
// The client key used by the rate gate comes from X-Forwarded-For (first
// hop), then CF-Connecting-IP, then the socket address. Both headers are
// client-controlled unless a proxy overwrites them, so the key is spoofable.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

const (
	identityKey = "identity"
	userIDKey   = "userID"

	HeaderUserID = "X-User-ID"
)

// IdentityOptions configures Identity.
type IdentityOptions struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables tokens.
	JWTSecret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// TrustUserHeader accepts X-User-ID as the authenticated user.
	TrustUserHeader bool
}

// Claims is the token payload understood by Identity.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity attaches a domain.Identity to every request. A bearer token that
// fails verification is rejected with 401; a missing one is not.
func Identity(opt IdentityOptions) gin.HandlerFunc {
	secret := []byte(opt.JWTSecret)
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if opt.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opt.Issuer))
	}

	return func(c *gin.Context) {
		id := domain.Identity{ClientKey: clientKey(c)}

		if tok := bearerToken(c.GetHeader("Authorization")); tok != "" && len(secret) > 0 {
			claims, err := parseToken(tok, secret, parserOpts...)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("rejected bearer token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "unauthorized",
					"message":    "invalid token",
				})
				return
			}
			id.UserID, id.Email = claims.Subject, claims.Email
		} else if opt.TrustUserHeader {
			id.UserID = strings.TrimSpace(c.GetHeader(HeaderUserID))
		}

		c.Set(identityKey, id)
		if id.UserID != "" {
			c.Set(userIDKey, id.UserID)
		}
		c.Next()
	}
}

// IdentityFrom returns the identity attached by Identity. Requests that did
// not pass through the middleware are anonymous, keyed by socket address.
func IdentityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{ClientKey: c.ClientIP()}
}

// SignToken issues an HS256 token for userID valid for ttl.
func SignToken(secret, issuer, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(raw string, secret []byte, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientKey(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if cf := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); cf != "" {
		return cf
	}
	return c.ClientIP()
}
