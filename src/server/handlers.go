package server

import (
	"context"
	"net/http"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	resp := gin.H{
		"status":      "ok",
		"connections": s.connected.Load(),
		"uptime":      time.Since(s.startedAt).Truncate(time.Second).String(),
	}
	if s.deps.Ledger != nil {
		resp["ledger"] = s.deps.Ledger.Status().State
	}
	if s.deps.Exchanges != nil {
		states := make(map[string]models.ConnectionState)
		for _, src := range s.deps.Exchanges.GetAllSources() {
			states[src.Name()] = src.State()
		}
		resp["exchanges"] = states
		points, heap := s.deps.Exchanges.BufferStats()
		resp["buffered_ticks"] = points
		resp["heap_mb"] = heap
	}
	if s.deps.Health != nil {
		resp["services"] = s.deps.Health.Statuses()
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------

func (s *Server) getNetworks(c *gin.Context) {
	resp := gin.H{
		"networks": s.Config.Endpoints(),
		"selected": s.selectedNetwork(),
	}
	if s.deps.Ledger != nil {
		if ep, ok := s.deps.Ledger.CurrentEndpoint(); ok {
			resp["current"] = ep.ID
		}
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------

func (s *Server) getLedgerStatus(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger connection not configured"})
		return
	}
	st := s.deps.Ledger.Status()
	resp := gin.H{"status": st}
	if s.deps.Balances != nil {
		st.ReserveDrops = s.deps.Balances.ReserveDrops()
		resp["status"] = st
		resp["watched"] = s.deps.Balances.Watched()
	}
	c.JSON(http.StatusOK, resp)
}

type networkRequest struct {
	ID string `json:"id" binding:"required"`
}

// putLedgerNetwork moves the ledger connection to another catalogue endpoint
func (s *Server) putLedgerNetwork(c *gin.Context) {
	var req networkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, ok := s.Config.FindEndpoint(req.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown network", "id": req.ID})
		return
	}
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger connection not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := s.deps.Ledger.Connect(ctx, ep); err != nil {
		// the manager keeps retrying in the background
		s.Logger.Warning("Switch to %s not connected yet: %v", ep.ID, err)
		c.JSON(http.StatusAccepted, gin.H{"network": ep, "connected": false, "error": err.Error()})
		return
	}
	s.setSelectedNetwork(ep.ID)

	// the new network may run a different base reserve
	if s.deps.Balances != nil && s.Config.Balance.PreferLiveReserve {
		if err := s.deps.Balances.RefreshReserve(ctx); err != nil {
			s.Logger.Warning("Reserve refresh on %s failed: %v", ep.ID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"network": ep, "connected": true})
}

func (s *Server) selectedNetwork() string {
	s.netMu.RLock()
	defer s.netMu.RUnlock()
	return s.network
}

func (s *Server) setSelectedNetwork(id string) {
	s.netMu.Lock()
	s.network = id
	s.netMu.Unlock()
}

// -----------------------------------------------------------------------------

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": s.deps.Exchanges.ActiveSource(),
		"prices": s.deps.Exchanges.LatestAll(),
	})
}

func (s *Server) getPriceSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Exchanges.Summary())
}

func (s *Server) getPrice(c *gin.Context) {
	source := c.Param("source")
	if _, err := s.deps.Exchanges.GetSource(source); err != nil {
		respondError(c, err)
		return
	}
	tick, ok := s.deps.Exchanges.GetLastPrice(source)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price yet", "source": source})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (s *Server) getPriceHistory(c *gin.Context) {
	source := c.Param("source")
	if _, err := s.deps.Exchanges.GetSource(source); err != nil {
		respondError(c, err)
		return
	}
	history := s.deps.Exchanges.GetHistory(source)
	if limit := queryInt(c, "limit", 0); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "ticks": history})
}

func (s *Server) getCandles(c *gin.Context) {
	source := c.Param("source")
	window := queryInt(c, "window", 60)
	if window <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive number of seconds"})
		return
	}
	candles, err := s.deps.Exchanges.Candles(source, time.Duration(window)*time.Second)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "window": window, "candles": candles})
}

type activeSourceRequest struct {
	Source string `json:"source" binding:"required"`
}

func (s *Server) putActiveSource(c *gin.Context) {
	var req activeSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Exchanges.SetActiveSource(req.Source); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": req.Source})
}

// -----------------------------------------------------------------------------

func (s *Server) getBalance(c *gin.Context) {
	if s.deps.Balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance service not configured"})
		return
	}
	bal, err := s.deps.Balances.GetBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceView(bal))
}

func (s *Server) getTransactions(c *gin.Context) {
	if s.deps.Balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance service not configured"})
		return
	}
	address := c.Param("address")
	if err := helpers.ValidateClassicAddress(address); err != nil {
		respondError(c, err)
		return
	}
	txs, err := s.deps.Balances.Transactions(c.Request.Context(), address, queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []models.MLedgerTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "transactions": txs})
}

func (s *Server) postFund(c *gin.Context) {
	if s.deps.Faucet == nil || s.deps.Ledger == nil {
		respondError(c, helpers.ErrFaucetUnavailable)
		return
	}
	ep, ok := s.deps.Ledger.CurrentEndpoint()
	if !ok {
		respondError(c, helpers.ErrFaucetUnavailable)
		return
	}
	res, err := s.deps.Faucet.Fund(c.Request.Context(), ep, c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// -----------------------------------------------------------------------------

type sendCheckRequest struct {
	AmountXRP string `json:"amount_xrp" binding:"required"`
}

// postSendCheck tells whether the account can send amount_xrp and keep its
// reserve
func (s *Server) postSendCheck(c *gin.Context) {
	if s.deps.Balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance service not configured"})
		return
	}
	var req sendCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.AmountXRP)
	if err != nil {
		respondError(c, helpers.ErrInvalidAmount)
		return
	}

	drops := models.XRPToDrops(amount)
	bal, err := s.deps.Balances.CheckSend(c.Request.Context(), c.Param("address"), drops)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"amount_drops": drops,
		"balance":      balanceView(bal),
	})
}

type seedCheckRequest struct {
	Seed string `json:"seed" binding:"required"`
}

func (s *Server) postSeedCheck(c *gin.Context) {
	var req seedCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	keyType, err := helpers.ClassifySeed(req.Seed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "key_type": keyType})
}
