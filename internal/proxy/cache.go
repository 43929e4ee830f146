package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type searchRequest struct {
	Query string `json:"query" form:"query"`
}

type parserRequest struct {
	Feed string `json:"feed" form:"feed"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "This is the web service for the podcast player",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"store":   s.config.Store.Driver,
	})
}

// handleSearch answers a podcast search through the queries cache
func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := bindField(c, &req, "query", func() string { return req.Query }); err != nil {
		writeError(c, err)
		return
	}

	payload, err := s.engine.Search(c.Request.Context(), req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	logrus.Debugf("Search %q answered", req.Query)
	c.PureJSON(http.StatusOK, payload)
}

// handleParser answers the decoded document of a feed through the feeds cache
func (s *Server) handleParser(c *gin.Context) {
	var req parserRequest
	if err := bindField(c, &req, "feed", func() string { return req.Feed }); err != nil {
		writeError(c, err)
		return
	}

	payload, err := s.engine.Feed(c.Request.Context(), req.Feed)
	if err != nil {
		writeError(c, err)
		return
	}
	logrus.Debugf("Feed %s answered", req.Feed)
	c.PureJSON(http.StatusOK, payload)
}
