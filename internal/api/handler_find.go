package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axiomme/axiomme/internal/retrieval"
)

// findRequest is the JSON body for POST /v1/find, mirroring
// retrieval.SearchOptions at the HTTP boundary.
type findRequest struct {
	Query          string            `json:"query"`
	TargetURI      string            `json:"target_uri"`
	Session        string            `json:"session"`
	SessionHints   []string          `json:"session_hints"`
	BudgetMS       int               `json:"budget_ms"`
	BudgetNodes    int               `json:"budget_nodes"`
	Limit          int               `json:"limit"`
	ScoreThreshold float64           `json:"score_threshold"`
	MinMatchTokens int               `json:"min_match_tokens"`
	RequestType    string            `json:"request_type"`
	Filter         *retrieval.Filter `json:"filter"`
}

func (s *Server) findHandler(c *gin.Context) {
	if s.retrieval == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retrieval engine not configured"})
		return
	}

	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := retrieval.SearchOptions{
		Query:          req.Query,
		TargetURI:      req.TargetURI,
		Session:        req.Session,
		SessionHints:   req.SessionHints,
		Budget:         retrieval.Budget{MaxMS: req.BudgetMS, MaxNodes: req.BudgetNodes},
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
		MinMatchTokens: req.MinMatchTokens,
		RequestType:    req.RequestType,
		Filter:         req.Filter,
	}

	result, err := s.retrieval.Find(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
