package authhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"blog/internal/domain/models"
	"blog/internal/http/middleware"
	"blog/internal/http/render"
	"blog/internal/lib/logger/sl"
	"blog/internal/services/auth"
	"blog/internal/services/tokens"

	"github.com/gin-gonic/gin"
)

type serverAPI struct {
	log  *slog.Logger
	auth Auth
}

type Auth interface {
	Register(ctx context.Context, username, email, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	Logout(ctx context.Context, token string) (alreadyRevoked bool, err error)
	Refresh(ctx context.Context, token string) (*tokens.Result, error)
	Authenticate(ctx context.Context, token string) (auth.Session, error)
	DeactivateUser(ctx context.Context, actor models.User, id int64) error
	FindUser(ctx context.Context, lookup models.UserLookup) (models.User, error)
}

// Register mounts the /users routes on r.
func Register(r gin.IRouter, log *slog.Logger, authService Auth) {
	s := &serverAPI{log: log, auth: authService}
	requireAuth := middleware.Auth(log, authService, true)
	optionalAuth := middleware.Auth(log, authService, false)

	users := r.Group("/users")
	users.GET("", optionalAuth, s.FindUser)
	users.POST("/register", s.Register)
	users.POST("/login", s.Login)
	users.POST("/logout", s.Logout)
	users.POST("/refresh", s.Refresh)
	users.GET("/me", requireAuth, s.Me)
	users.DELETE("/:id", requireAuth, s.DeleteUser)
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type findUserRequest struct {
	UserID   int64  `form:"user_id" binding:"omitempty,gt=0"`
	Email    string `form:"email" binding:"omitempty,email"`
	Username string `form:"username"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *serverAPI) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	user, err := s.auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPassword):
			badRequest(c, "invalid_password", errors.Unwrap(err).Error())
		case errors.Is(err, auth.ErrUserExists):
			render.JSON(c, http.StatusConflict, gin.H{
				"success": false,
				"error":   "user_exists",
				"message": "A user with this email or username already exists.",
			})
		default:
			middleware.ServerError(c)
		}
		return
	}

	render.JSON(c, http.StatusCreated, userBody(user))
}

func (s *serverAPI) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	res, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.Header("WWW-Authenticate", `Bearer realm="blog"`)
			render.JSON(c, http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid_credentials",
				"message": "Invalid credentials",
			})
			return
		}
		middleware.ServerError(c)
		return
	}

	render.JSON(c, http.StatusOK, gin.H{
		"user_id":                 res.UserID,
		"access_token":            res.Token.Value,
		"token_type":              "Bearer",
		"expires_in":              int64(res.ExpiresIn.Seconds()),
		"token_refresh_threshold": int64(res.RefreshThreshold.Seconds()),
	})
}

// Logout revokes the token in the body, or the bearer token when the body has none.
// It does not require a usable session: revoking an already revoked or
// expired token still succeeds.
func (s *serverAPI) Logout(c *gin.Context) {
	token, ok := s.tokenFromRequest(c)
	if !ok {
		return
	}

	alreadyRevoked, err := s.auth.Logout(c.Request.Context(), token)
	if err != nil {
		if tokens.IsInvalid(err) {
			badRequest(c, "invalid_token", "The token is malformed or was not issued by this service.")
			return
		}
		s.log.Error("logout failed", slog.String("op", "authhttp.Logout"), sl.Err(err))
		middleware.ServerError(c)
		return
	}

	message := "Successfully logged out, the token is now invalid."
	if alreadyRevoked {
		message = "token already invalid"
	}

	render.JSON(c, http.StatusOK, gin.H{
		"success": true,
		"message": message,
	})
}

func (s *serverAPI) Refresh(c *gin.Context) {
	token, ok := s.tokenFromRequest(c)
	if !ok {
		return
	}

	res, err := s.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		if tokens.IsInvalid(err) {
			middleware.Unauthorized(c)
			return
		}
		s.log.Error("refresh failed", slog.String("op", "authhttp.Refresh"), sl.Err(err))
		middleware.ServerError(c)
		return
	}

	current := token
	if res.NeedsRefresh() {
		current = res.NewToken.Value
	}

	render.JSON(c, http.StatusOK, gin.H{
		"access_token":     current,
		"new_token":        current,
		"token_type":       "Bearer",
		"refresh_occurred": res.NeedsRefresh(),
	})
}

// FindUser looks up an active user. Anonymous callers are allowed; a caller
// presenting a token still gets it verified and possibly refreshed.
func (s *serverAPI) FindUser(c *gin.Context) {
	var req findUserRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	user, err := s.auth.FindUser(c.Request.Context(), models.UserLookup{
		ID:       req.UserID,
		Email:    req.Email,
		Username: req.Username,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyLookup):
			badRequest(c, "invalid_request", auth.ErrEmptyLookup.Error())
		case errors.Is(err, auth.ErrUserNotFound):
			render.JSON(c, http.StatusNotFound, gin.H{
				"success": false,
				"error":   "not_found",
				"message": "No active user matches the query.",
			})
		default:
			middleware.ServerError(c)
		}
		return
	}

	render.JSON(c, http.StatusOK, userBody(user))
}

func (s *serverAPI) Me(c *gin.Context) {
	session, ok := middleware.SessionFrom(c)
	if !ok {
		middleware.Unauthorized(c)
		return
	}

	render.JSON(c, http.StatusOK, userBody(session.User))
}

func (s *serverAPI) DeleteUser(c *gin.Context) {
	session, ok := middleware.SessionFrom(c)
	if !ok {
		middleware.Unauthorized(c)
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid_request", "id must be an integer")
		return
	}

	if err := s.auth.DeactivateUser(c.Request.Context(), session.User, id); err != nil {
		switch {
		case errors.Is(err, auth.ErrForbidden):
			render.JSON(c, http.StatusForbidden, gin.H{
				"success": false,
				"error":   "forbidden",
				"message": "Not authorized to delete this account",
			})
		case errors.Is(err, auth.ErrUnknownSubject):
			render.JSON(c, http.StatusNotFound, gin.H{
				"success": false,
				"error":   "not_found",
				"message": "User not found",
			})
		default:
			middleware.ServerError(c)
		}
		return
	}

	render.JSON(c, http.StatusOK, gin.H{
		"success": true,
		"message": "Account deactivated.",
	})
}

// tokenFromRequest reads {"token": ...} and falls back to the bearer header.
func (s *serverAPI) tokenFromRequest(c *gin.Context) (string, bool) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid_request", err.Error())
		return "", false
	}

	token := req.Token
	if token == "" {
		token = middleware.BearerToken(c.Request)
	}
	if token == "" {
		badRequest(c, "invalid_request", "token is required")
		return "", false
	}

	return token, true
}

func userBody(user models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"is_active":   user.IsActive,
		"activate_at": user.ActivateAt,
	}
}

func badRequest(c *gin.Context, code, message string) {
	render.JSON(c, http.StatusBadRequest, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}
