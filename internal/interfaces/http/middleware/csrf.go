package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/interfaces/http/respond"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
)

// CSRF rejects mutating requests whose token does not match the session
// secret. The token is accepted from the header or the form field; safe
// methods pass through.
func CSRF(guard *appservice.SessionGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		sess := SessionFrom(c)
		if sess == nil {
			respond.Error(c, errors.ErrCSRFFailed("no session for csrf check"))
			return
		}

		provided := c.GetHeader(constants.HeaderCSRFToken)
		if provided == "" {
			provided = c.PostForm(constants.CSRFFieldName)
		}

		if err := guard.VerifyCSRF(sess, provided); err != nil {
			respond.Error(c, err)
			return
		}
		c.Next()
	}
}
