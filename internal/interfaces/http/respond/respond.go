// Package respond maps gateway errors onto HTTP responses.
package respond

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
)

// Error writes the canonical error body for err and aborts the request. A
// retry hint becomes both a body field and a Retry-After header. Programmatic
// callers get the JSON shape; callers preferring text/html get a rendered
// page instead.
func Error(c *gin.Context, err error) {
	resp := errors.ToErrorResponse(err)
	status := errors.HTTPStatusOf(err)
	if resp.RetryAfter > 0 {
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(resp.RetryAfter))
	}

	if wantsHTML(c) {
		c.Abort()
		c.Data(status, "text/html; charset=utf-8", []byte(errorPage(status, resp)))
		return
	}
	c.AbortWithStatusJSON(status, resp)
}

// wantsHTML reports whether the caller negotiated an HTML response. JSON wins
// whenever it is acceptable at all, so API clients sending */* stay on the
// structured shape.
func wantsHTML(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

func errorPage(status int, resp *errors.ErrorResponse) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>")
	fmt.Fprintf(&b, "%d %s", status, html.EscapeString(resp.Error))
	b.WriteString("</title></head><body>\n")
	fmt.Fprintf(&b, "<h1>%d</h1>\n<p>%s</p>\n", status, html.EscapeString(resp.Message))
	if resp.Retryable && resp.RetryAfter > 0 {
		fmt.Fprintf(&b, "<p>Try again in %d seconds.</p>\n", resp.RetryAfter)
	} else if resp.Retryable {
		b.WriteString("<p>Try again shortly.</p>\n")
	}
	if gin.Mode() != gin.ReleaseMode && len(resp.Metadata) > 0 {
		b.WriteString("<pre>")
		for k, v := range resp.Metadata {
			fmt.Fprintf(&b, "%s: %s\n", html.EscapeString(k), html.EscapeString(fmt.Sprint(v)))
		}
		b.WriteString("</pre>\n")
	}
	b.WriteString("</body></html>\n")
	return b.String()
}
