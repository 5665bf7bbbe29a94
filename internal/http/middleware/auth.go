package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"blog/internal/lib/logger/sl"
	"blog/internal/services/auth"
	"blog/internal/services/tokens"

	"github.com/gin-gonic/gin"
)

// NewTokenHeader carries a replacement token when the presented one was close to expiry.
const NewTokenHeader = "X-New-Access-Token"

const sessionKey = "session"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Session, error)
}

// Auth resolves the bearer token of a request into an auth.Session.
//
// A request without a token passes through anonymously unless required is set.
// A token that is present but unusable is always rejected, so a client never
// silently loses its identity.
func Auth(log *slog.Logger, authenticator Authenticator, required bool) gin.HandlerFunc {
	const op = "middleware.Auth"

	log = log.With(slog.String("op", op))

	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			if required {
				Unauthorized(c)
				return
			}
			c.Next()
			return
		}

		session, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			if tokens.IsInvalid(err) || errors.Is(err, auth.ErrUnknownSubject) {
				log.Debug("request rejected", slog.String("path", c.FullPath()), sl.Err(err))
				Unauthorized(c)
				return
			}

			log.Error("failed to authenticate request", sl.Err(err))
			ServerError(c)
			return
		}

		if session.RefreshedToken != nil {
			c.Header(NewTokenHeader, session.RefreshedToken.Value)
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// SessionFrom returns the session stored by Auth.
func SessionFrom(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.Session{}, false
	}
	session, ok := v.(auth.Session)
	return session, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}

// Unauthorized aborts with the single 401 shape used for every token or
// identity failure.
func Unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="blog"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "unauthorized",
		"message": "Invalid authentication credentials",
	})
}

func ServerError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "server_error",
		"message": "An internal error occurred.",
	})
}
