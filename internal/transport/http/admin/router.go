package adminhttp

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradedesk/internal/approval"
	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/risk"
	"tradedesk/internal/store/journal"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

const maxProposalBody = 64 * 1024

// Router holds the admin API dependencies.
type Router struct {
	Queue     *approval.Queue
	Breaker   *risk.CircuitBreaker
	Positions *ledger.PositionLedger
	Journal   *journal.Journal
	Hub       *events.Hub
	Config    func() *config.Config
}

// Register mounts the admin API under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/proposals", r.handleSubmitProposal)
	group.GET("/proposals/pending", r.handleListPending)
	group.POST("/proposals/:id/approve", r.handleApprove)
	group.POST("/proposals/:id/reject", r.handleReject)
	group.GET("/auto-approve", r.handleGetAutoApprove)
	group.POST("/auto-approve", r.handleSetAutoApprove)
	group.GET("/breakers", r.handleListBreakers)
	group.POST("/breakers/trip", r.handleTripBreaker)
	group.POST("/breakers/:id/resolve", r.handleResolveBreaker)
	group.GET("/positions", r.handleListPositions)
	group.GET("/books", r.handleBookStatus)
	group.GET("/journal", r.handleJournal)
	group.GET("/config", r.handleConfigDump)
}

func (r *Router) handleSubmitProposal(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProposalBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := r.Queue.Submit(c.Request.Context(), raw)
	if err != nil {
		logger.Warnf("[api] proposal rejected at intake ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

func (r *Router) handleListPending(c *gin.Context) {
	pending, err := r.Queue.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "count": len(pending)})
}

func (r *Router) handleApprove(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}
	p, err := r.Queue.Approve(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] proposal %d approve requested ip=%s result=%s", id, c.ClientIP(), p.Status)
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

func (r *Router) handleReject(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	p, err := r.Queue.Reject(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] proposal %d reject requested ip=%s result=%s", id, c.ClientIP(), p.Status)
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

func (r *Router) handleGetAutoApprove(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": r.Queue.AutoApproveEnabled()})
}

func (r *Router) handleSetAutoApprove(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"enabled\": true|false}"})
		return
	}
	prev := r.Queue.SetAutoApprove(*req.Enabled)
	logger.Infof("[api] auto-approve set %v ip=%s", *req.Enabled, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled, "previous": prev})
}

func (r *Router) handleListBreakers(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "0") == "1"
	breakers, err := r.Breaker.Events(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakers": breakers})
}

func (r *Router) handleTripBreaker(c *gin.Context) {
	var req struct {
		EventType string `json:"event_type"`
		Scope     string `json:"scope"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		req.EventType = "MANUAL_HALT"
	}
	var scope *domain.Book
	if strings.TrimSpace(req.Scope) != "" {
		book, err := domain.ParseBook(req.Scope)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		scope = &book
	}
	evt, err := r.Breaker.Trip(c.Request.Context(), req.EventType, scope, req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("[api] manual breaker trip ip=%s scope=%s", c.ClientIP(), evt.ScopeLabel())
	if r.Hub != nil {
		r.Hub.Publish(events.NewEvent(events.TypeCircuitBreaker, events.CircuitBreaker{
			Scope: evt.ScopeLabel(), EventType: evt.EventType, Reason: evt.Reason,
		}))
	}
	c.JSON(http.StatusOK, gin.H{"breaker": evt})
}

func (r *Router) handleResolveBreaker(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid breaker id"})
		return
	}
	var req struct {
		By string `json:"by"`
	}
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.By) == "" {
		req.By = "operator"
	}
	if err := r.Breaker.Resolve(c.Request.Context(), id, req.By); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] breaker %d resolved by %s ip=%s", id, req.By, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleListPositions(c *gin.Context) {
	positions, err := r.Positions.Open(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handleBookStatus reports per-book capacity, today's realized P&L
// against the daily loss limit, and whether a breaker covers the book.
func (r *Router) handleBookStatus(c *gin.Context) {
	cfg := r.Config()
	ctx := c.Request.Context()
	out := make(map[string]gin.H, 2)
	for _, book := range []domain.Book{domain.BookMain, domain.BookPenny} {
		bc := cfg.Book(book)
		open, err := r.Positions.OpenCount(ctx, book)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		report, err := r.Breaker.DailyLoss(ctx, book, bc.Allocation, bc.DailyLossLimitPct)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		halted, err := r.Breaker.IsActive(ctx, book)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out[string(book)] = gin.H{
			"allocation":       bc.Allocation,
			"open_positions":   open,
			"max_positions":    bc.MaxPositions,
			"pnl_today":        report.PnLToday,
			"daily_loss_limit": report.Limit,
			"halted":           halted,
		}
	}
	c.JSON(http.StatusOK, gin.H{"books": out})
}

func (r *Router) handleJournal(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not enabled"})
		return
	}
	if subject := strings.TrimSpace(c.Query("subject")); subject != "" {
		entries, err := r.Journal.BySubject(c.Request.Context(), subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := r.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleConfigDump renders the active config as YAML with secrets masked.
func (r *Router) handleConfigDump(c *gin.Context) {
	cfg := *r.Config()
	if cfg.Broker.APIKey != "" {
		cfg.Broker.APIKey = "***"
	}
	if cfg.Broker.APISecret != "" {
		cfg.Broker.APISecret = "***"
	}
	if cfg.Notify.Telegram.BotToken != "" {
		cfg.Notify.Telegram.BotToken = "***"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/yaml; charset=utf-8", out)
}
