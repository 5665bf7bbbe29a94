package render

import (
	"blog/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

// NewTokenField is the body field mirroring middleware.NewTokenHeader.
const NewTokenField = "new_token"

// JSON writes body, adding the refreshed token of the current session when
// there is one and the handler did not set the field itself.
func JSON(c *gin.Context, status int, body gin.H) {
	if session, ok := middleware.SessionFrom(c); ok && session.RefreshedToken != nil {
		if _, set := body[NewTokenField]; !set {
			body[NewTokenField] = session.RefreshedToken.Value
		}
	}
	c.JSON(status, body)
}
