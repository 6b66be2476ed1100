package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

const stsOneYear = 365 * 24 * 60 * 60

// Secure is installed only when the receiver terminates TLS itself. Senders
// are not browsers, so only transport headers are set.
func Secure() gin.HandlerFunc {
	return secure.New(secure.Config{
		SSLRedirect:        true,
		STSSeconds:         stsOneYear,
		ContentTypeNosniff: true,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})
}
