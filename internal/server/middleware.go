package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const actorContextKey = "actor"

// ActorRequired extracts the caller identity forwarded by the upstream
// gateway. Mutating routes refuse anonymous requests.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.ToLower(strings.TrimSpace(c.GetHeader("X-Actor")))
		if actor == "" {
			AbortWithError(c, ErrMissingActor)
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func (s *Server) actor(c *gin.Context) string {
	return c.GetString(actorContextKey)
}
