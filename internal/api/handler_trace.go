package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) traceHandler(c *gin.Context) {
	id := c.Param("id")
	payload, err := s.store.GetTrace(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}
