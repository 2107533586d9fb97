package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/dtc-feed/internal/feed"
	"github.com/rickgao/dtc-feed/internal/model"
	"github.com/rickgao/dtc-feed/internal/session"
	"github.com/rickgao/dtc-feed/internal/version"
)

func (s *Server) health(c *gin.Context) {
	st := s.deps.Feed.Status()
	body := gin.H{
		"status":    "ok",
		"connected": st.Connected,
		"state":     st.State,
		"version":   version.Get(),
	}

	if err := s.deps.Quotes.Ping(c.Request.Context()); err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) status(c *gin.Context) {
	components := make(gin.H, len(s.deps.Stats))
	for name, fn := range s.deps.Stats {
		components[name] = fn()
	}
	c.JSON(http.StatusOK, gin.H{
		"feed":       s.deps.Feed.Status(),
		"components": components,
	})
}

func (s *Server) listSubscriptions(c *gin.Context) {
	subs := s.deps.Feed.Subscriptions()
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

func (s *Server) addSubscription(c *gin.Context) {
	req, ok := bindInstrument(c)
	if !ok {
		return
	}
	if err := s.deps.Feed.Add(c.Request.Context(), req.Symbol, req.Exchange); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"symbol":   req.Symbol,
		"exchange": req.Exchange,
		"key":      model.InstrumentKey(req.Symbol, req.Exchange),
	})
}

func (s *Server) removeSubscription(c *gin.Context) {
	symbol := c.Param("symbol")
	exchange := strings.TrimSpace(c.Query("exchange"))
	if err := s.deps.Feed.Remove(c.Request.Context(), symbol, exchange); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listQuotes(c *gin.Context) {
	quotes := s.deps.Quotes.All(c.Request.Context())
	if exchange := strings.TrimSpace(c.Query("exchange")); exchange != "" {
		filtered := quotes[:0:0]
		for _, q := range quotes {
			if q.Exchange == exchange {
				filtered = append(filtered, q)
			}
		}
		quotes = filtered
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes, "count": len(quotes)})
}

func (s *Server) getQuote(c *gin.Context) {
	symbol := c.Param("symbol")
	exchange := strings.TrimSpace(c.Query("exchange"))

	q, ok := s.deps.Quotes.Get(c.Request.Context(), symbol, exchange)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no quote for " + model.InstrumentKey(symbol, exchange)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q, "spread": q.Spread()})
}

func (s *Server) listDefinitions(c *gin.Context) {
	var defs []model.SecurityDefinition
	if s.deps.Definitions != nil {
		defs = s.deps.Definitions.Definitions()
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].RequestID < defs[j].RequestID })
	if defs == nil {
		defs = []model.SecurityDefinition{}
	}
	c.JSON(http.StatusOK, gin.H{"definitions": defs, "count": len(defs)})
}

func (s *Server) requestDefinition(c *gin.Context) {
	req, ok := bindInstrument(c)
	if !ok {
		return
	}
	id, err := s.deps.Feed.RequestSecurityDefinition(c.Request.Context(), req.Symbol, req.Exchange)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": id})
}

func bindInstrument(c *gin.Context) (instrumentRequest, bool) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "symbol is required"})
		return req, false
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Exchange = strings.TrimSpace(req.Exchange)
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "symbol is required"})
		return req, false
	}
	return req, true
}

// writeError maps feed and session errors to status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, feed.ErrInvalidInstrument):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSubscription):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSubscriptionIDsExhausted):
		status = http.StatusConflict
	case errors.Is(err, feed.ErrNotConnected),
		errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrSessionClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
