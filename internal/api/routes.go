package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/db"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/internal/scanner"
	"github.com/rawblock/coinjoin-engine/internal/stream"
	"github.com/rawblock/coinjoin-engine/internal/trace"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
	"github.com/rawblock/coinjoin-engine/internal/xpub"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// maxScanBlocks caps the block range for a single scan job to prevent
// runaway resource exhaustion from unconstrained requests.
const maxScanBlocks int64 = 50_000

// APIHandler is C10, the thin translation layer between gin requests and
// C6 (chainservice)/C8 (trace)/C9 (stream) — spec.md §6's contracts,
// unchanged in meaning, only the adapter code differs from the teacher's
// investigation-centric routes.
type APIHandler struct {
	pool         *upstream.Pool
	chain        *chainservice.Service
	utxoTracer   *trace.UTXOTracer
	addrTracer   *trace.AddressTracer
	peelTracer   *trace.PeelChainTracer
	watchlist    *heuristics.AddressWatchlist
	dbStore      *db.PostgresStore
	wsHub        *Hub
	blockScanner *scanner.BlockScanner
}

// SetupRouter wires every spec.md §6 endpoint plus the operational
// extras carried over from the teacher (live ops websocket feed, mixer
// index, historical scan control).
func SetupRouter(pool *upstream.Pool, chain *chainservice.Service, watchlist *heuristics.AddressWatchlist, dbStore *db.PostgresStore, wsHub *Hub, blockScanner *scanner.BlockScanner) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		pool:         pool,
		chain:        chain,
		utxoTracer:   trace.NewUTXOTracer(chain),
		addrTracer:   trace.NewAddressTracer(chain),
		peelTracer:   trace.NewPeelChainTracer(chain),
		watchlist:    watchlist,
		dbStore:      dbStore,
		wsHub:        wsHub,
		blockScanner: blockScanner,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/mixers", handler.handleGetMixers)
		pub.GET("/scan/progress", handler.handleScanProgress)
		pub.GET("/metrics/mempool", handler.handleMetricsMempool)
		pub.GET("/servers/list", handler.handleServersList)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.GET("/address/:address", handler.handleGetAddress)
		auth.POST("/address/batch", handler.handleAddressBatch)
		auth.GET("/transaction/:txid", handler.handleGetTransaction)
		auth.POST("/trace/utxo", handler.handleTraceUTXO)
		auth.POST("/trace/address", handler.handleTraceAddress)
		auth.GET("/trace/address/stream", handler.handleTraceAddressStream)
		auth.POST("/trace/peel-chain", handler.handleTracePeelChain)
		auth.POST("/xpub/derive", handler.handleXpubDerive)
		auth.POST("/servers/test", handler.handleServersTest)
		auth.POST("/scan", handler.handleStartScan)
	}

	r.Static("/dashboard", "./public")

	return r
}

// handleGetAddress implements GET /address/{address} (spec.md §6).
// include_details=false returns a minimal record without balances/UTXOs
// (here: only the address and its txCount, after the same summary fetch
// and compact-summary backfill as the detailed response).
func (h *APIHandler) handleGetAddress(c *gin.Context) {
	address := c.Param("address")
	if err := chainservice.ValidateAddress(address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeDetails := c.DefaultQuery("include_details", "true") != "false"
	maxTransactions, _ := strconv.Atoi(c.DefaultQuery("max_transactions", "0"))

	info, err := h.chain.FetchAddressInfo(c.Request.Context(), address, maxTransactions)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	if !includeDetails {
		c.JSON(http.StatusOK, gin.H{"address": info.Address, "txCount": info.TxCount})
		return
	}

	watchlistHits := h.checkAddressWatchlist(info.Address)
	temporal := h.analyzeAddressTiming(c.Request.Context(), address, maxTransactions)
	c.JSON(http.StatusOK, gin.H{"address": info, "watchlistHits": watchlistHits, "temporalPattern": temporal})
}

// analyzeAddressTiming pages through an address's own history (bounded,
// distinct from the history backfill FetchAddressInfo already did for
// the compact-summary case) and runs burst/time-of-day detection over
// its block times. A history fetch failure degrades to an empty,
// zero-value TemporalResult rather than failing the whole address
// lookup.
func (h *APIHandler) analyzeAddressTiming(ctx context.Context, address string, maxTransactions int) heuristics.TemporalResult {
	limit := maxTransactions
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	txids, _, err := h.chain.FetchAddressHistory(ctx, address, limit)
	if err != nil {
		log.Printf("[api] temporal analysis skipped for %s: history fetch failed: %v", address, err)
		return heuristics.TemporalResult{}
	}

	txs, err := h.chain.FetchTransactionsBatch(ctx, txids)
	if err != nil {
		log.Printf("[api] temporal analysis skipped for %s: batch fetch failed: %v", address, err)
		return heuristics.TemporalResult{}
	}

	observations := make([]heuristics.TemporalObservation, 0, len(txs))
	for _, tx := range txs {
		if tx != nil && tx.BlockTime != nil {
			observations = append(observations, heuristics.TemporalObservation{Txid: tx.Txid, Timestamp: *tx.BlockTime})
		}
	}
	return heuristics.AnalyzeTemporalPattern(observations, 5, 600)
}

// handleAddressBatch implements POST /address/batch (spec.md §6).
func (h *APIHandler) handleAddressBatch(c *gin.Context) {
	var req struct {
		Addresses      []string `json:"addresses"`
		IncludeDetails bool     `json:"include_details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	out := make([]models.Address, 0, len(req.Addresses))
	for _, addr := range req.Addresses {
		if err := chainservice.ValidateAddress(addr); err != nil {
			log.Printf("[api] address batch skipped invalid address %s: %v", addr, err)
			continue
		}
		info, err := h.chain.FetchAddressInfo(c.Request.Context(), addr, 0)
		if err != nil {
			log.Printf("[api] address batch fetch failed for %s: %v", addr, err)
			continue
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, out)
}

// handleGetTransaction implements GET /transaction/{txid} (spec.md §6):
// the normalized transaction plus heuristic annotations (change output
// index/confidence, CoinJoin info, fee rate in sat/vB).
func (h *APIHandler) handleGetTransaction(c *gin.Context) {
	txid := c.Param("txid")
	if err := chainservice.ValidateTxid(txid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.chain.FetchTransaction(c.Request.Context(), txid)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	analysis := heuristics.AnalyzeTransaction(tx, nil, 0, h.watchlist)

	c.JSON(http.StatusOK, gin.H{
		"transaction":      tx,
		"feeRateSatVB":     tx.FeeRateSatVB(),
		"change":           analysis.Change,
		"coinJoin":         analysis.CoinJoin,
		"amountPatterns":   analysis.AmountPatterns,
		"threatAssessment": analysis.Threat,
		"watchlistHits":    analysis.WatchlistHits,
	})

	if len(analysis.WatchlistHits) > 0 {
		h.broadcastSecurityAlert(analysis)
	}
}

// handleTraceUTXO implements POST /trace/utxo (spec.md §6).
func (h *APIHandler) handleTraceUTXO(c *gin.Context) {
	var req struct {
		Txid                string  `json:"txid"`
		Vout                int     `json:"vout"`
		HopsBefore          int     `json:"hops_before"`
		HopsAfter           int     `json:"hops_after"`
		IncludeCoinJoin     bool    `json:"include_coinjoin"`
		ConfidenceThreshold float64 `json:"confidence_threshold"`
		MaxAddressesPerTx   int     `json:"max_addresses_per_tx"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := chainservice.ValidateTxid(req.Txid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	graph, err := h.utxoTracer.Trace(c.Request.Context(), trace.UTXOTraceParams{
		Txid:                req.Txid,
		Vout:                req.Vout,
		HopsBefore:          req.HopsBefore,
		HopsAfter:           req.HopsAfter,
		IncludeCoinJoin:     req.IncludeCoinJoin,
		ConfidenceThreshold: req.ConfidenceThreshold,
		MaxAddressesPerTx:   req.MaxAddressesPerTx,
	})
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

// handleTraceAddress implements POST /trace/address (spec.md §6).
func (h *APIHandler) handleTraceAddress(c *gin.Context) {
	params := parseAddressTraceParams(c)
	if err := chainservice.ValidateAddress(params.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	graph, err := h.addrTracer.Trace(c.Request.Context(), params)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

// handleTraceAddressStream implements GET /trace/address/stream
// (spec.md §4.8, §6): the same address trace as handleTraceAddress, but
// walked incrementally in groups of 20 history transactions instead of
// being assembled into one JSON blob. The event sequence is: an initial
// metadata ack, a batch containing just the starting address node, a
// second metadata carrying total_transactions once the history is known,
// one batch+progress pair per group of 20 txids, and a final complete.
// ctx cancellation (client disconnect) stops further upstream fetches
// between groups; EmitTransactionBatches surfaces that as ctx.Err(), and
// there is nothing left to write to the gone client at that point.
func (h *APIHandler) handleTraceAddressStream(c *gin.Context) {
	params := parseAddressTraceParams(c)
	if err := chainservice.ValidateAddress(params.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	emitter := stream.NewEmitter(c.Writer)
	emitter.WriteHeaders()

	if err := emitter.Emit(stream.EventMetadata, gin.H{"address": params.Address}); err != nil {
		return
	}

	startNode := models.Node{ID: "addr:" + params.Address, Kind: models.NodeAddress, Address: params.Address, IsStartingPoint: true}
	if err := emitter.Emit(stream.EventBatch, models.TraceGraph{Nodes: []models.Node{startNode}}); err != nil {
		return
	}

	if params.HopsBefore <= 0 && params.HopsAfter <= 0 {
		if err := emitter.Emit(stream.EventMetadata, gin.H{"total_transactions": 0}); err != nil {
			return
		}
		_ = emitter.Emit(stream.EventComplete, gin.H{"total_nodes": 1, "total_edges": 0, "total_transactions": 0})
		return
	}

	txids, err := h.addrTracer.HistoryTxids(ctx, params)
	if err != nil {
		_ = emitter.EmitError(err.Error())
		return
	}

	if err := emitter.Emit(stream.EventMetadata, gin.H{"total_transactions": len(txids)}); err != nil {
		return
	}

	totalNodes, totalEdges := 1, 0
	build := func(ctx context.Context, group []string) (models.TraceGraph, error) {
		return h.addrTracer.TraceBatch(ctx, params, group)
	}
	onProgress := func(batch models.TraceGraph, processed int) {
		totalNodes += len(batch.Nodes)
		totalEdges += len(batch.Edges)
		progressPct := 0.0
		if len(txids) > 0 {
			progressPct = float64(processed) / float64(len(txids)) * 100
		}
		_ = emitter.Emit(stream.EventProgress, gin.H{
			"processed":   processed,
			"total":       len(txids),
			"progress":    progressPct,
			"nodes_count": totalNodes,
			"edges_count": totalEdges,
		})
	}

	if err := stream.EmitTransactionBatches(ctx, emitter, txids, build, onProgress); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			_ = emitter.EmitError(err.Error())
		}
		return
	}

	_ = emitter.Emit(stream.EventComplete, gin.H{
		"total_nodes":        totalNodes,
		"total_edges":        totalEdges,
		"total_transactions": len(txids),
	})
}

func parseAddressTraceParams(c *gin.Context) trace.AddressTraceParams {
	var p trace.AddressTraceParams
	p.Address = c.Query("address")
	p.HopsBefore, _ = strconv.Atoi(c.DefaultQuery("hops_before", "2"))
	p.HopsAfter, _ = strconv.Atoi(c.DefaultQuery("hops_after", "2"))
	p.MaxTransactions, _ = strconv.Atoi(c.DefaultQuery("max_transactions", "0"))
	p.ConfidenceThreshold, _ = strconv.ParseFloat(c.DefaultQuery("confidence_threshold", "0"), 64)
	return p
}

// handleTracePeelChain implements POST /trace/peel-chain (spec.md §6).
func (h *APIHandler) handleTracePeelChain(c *gin.Context) {
	var req struct {
		StartTxid     string  `json:"start_txid"`
		MaxHops       int     `json:"max_hops"`
		MinConfidence float64 `json:"min_confidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := chainservice.ValidateTxid(req.StartTxid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxHops <= 0 {
		req.MaxHops = 20
	}

	result, err := h.peelTracer.Trace(c.Request.Context(), req.StartTxid, req.MaxHops, req.MinConfidence)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleXpubDerive implements POST /xpub/derive (spec.md §6). The
// derivation math itself is delegated to internal/xpub, which in turn
// delegates to btcsuite/btcutil/hdkeychain — this handler only adapts
// the request/response shape.
func (h *APIHandler) handleXpubDerive(c *gin.Context) {
	var req struct {
		Xpub           string `json:"xpub"`
		DerivationPath string `json:"derivation_path"`
		StartIndex     uint32 `json:"start_index"`
		Count          int    `json:"count"`
		IncludeChange  bool   `json:"include_change"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	addresses, err := xpub.Derive(xpub.DeriveParams{
		Xpub:           req.Xpub,
		DerivationPath: req.DerivationPath,
		StartIndex:     req.StartIndex,
		Count:          req.Count,
		IncludeChange:  req.IncludeChange,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

// handleMetricsMempool implements GET /metrics/mempool (spec.md §6).
func (h *APIHandler) handleMetricsMempool(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.pool.Snapshots()})
}

// handleServersList and handleServersTest implement the operational
// introspection pair from spec.md §6 — the same snapshot data as
// /metrics/mempool, reshaped for the "server list" UI, plus an
// on-demand single-endpoint probe.
func (h *APIHandler) handleServersList(c *gin.Context) {
	snapshots := h.pool.Snapshots()
	servers := make([]gin.H, 0, len(snapshots))
	for _, s := range snapshots {
		servers = append(servers, gin.H{
			"name":     s.Name,
			"url":      s.BaseURL,
			"priority": s.Priority,
			"healthy":  s.Healthy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

func (h *APIHandler) handleServersTest(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	for _, ep := range h.pool.Registry.Endpoints {
		if ep.Name != req.Name {
			continue
		}
		snap := ep.Snapshot()
		c.JSON(http.StatusOK, gin.H{"server": snap})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "coinjoin-engine bitcoin analysis gateway",
		"capabilities": gin.H{
			"endpoint_pool":    true,
			"trace_utxo":       true,
			"trace_address":    true,
			"trace_peel_chain": true,
			"trace_stream":     true,
			"xpub_derive":      true,
			"watchlist_alerts": h.watchlist != nil,
		},
		"dbConnected": h.dbStore != nil,
	})
}

// handleGetMixers returns the historically indexed CoinJoin transactions.
func (h *APIHandler) handleGetMixers(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not connected"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	mixers, totalCount, err := h.dbStore.GetMixers(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch historical mixers", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mixers, "totalCount": totalCount, "page": page, "limit": limit})
}

// handleStartScan launches a historical block scan in the background.
// POST /api/v1/scan { "startHeight": 850000, "endHeight": 850100 }
func (h *APIHandler) handleStartScan(c *gin.Context) {
	if h.blockScanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block scanner not initialized"})
		return
	}

	var req struct {
		StartHeight int64 `json:"startHeight"`
		EndHeight   int64 `json:"endHeight"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body. Expected: {startHeight, endHeight}"})
		return
	}
	if req.StartHeight <= 0 || req.EndHeight <= 0 || req.StartHeight > req.EndHeight {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block range"})
		return
	}
	if req.EndHeight-req.StartHeight > maxScanBlocks {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "block range too large",
			"maxBlocks": maxScanBlocks,
			"hint":      "split into multiple smaller requests",
		})
		return
	}

	// Detached from the request context, which is cancelled as soon as
	// this handler returns.
	h.blockScanner.ScanRange(context.Background(), req.StartHeight, req.EndHeight)

	c.JSON(http.StatusOK, gin.H{
		"status":      "scan_started",
		"startHeight": req.StartHeight,
		"endHeight":   req.EndHeight,
		"totalBlocks": req.EndHeight - req.StartHeight + 1,
	})
}

// handleScanProgress returns the current progress of the block scanner.
func (h *APIHandler) handleScanProgress(c *gin.Context) {
	if h.blockScanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block scanner not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.blockScanner.GetProgress())
}

func (h *APIHandler) checkAddressWatchlist(address string) []heuristics.WatchlistHit {
	if h.watchlist == nil {
		return nil
	}
	return h.watchlist.CheckTransaction(models.Transaction{
		Outputs: []models.TxOut{{Address: address}},
	})
}

func (h *APIHandler) broadcastSecurityAlert(analysis heuristics.TxAnalysis) {
	if h.wsHub == nil {
		return
	}
	payload := gin.H{"type": "security_alert", "txid": analysis.Tx.Txid, "hits": analysis.WatchlistHits}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[api] failed to marshal security alert: %v", err)
		return
	}
	h.wsHub.Broadcast(body)
}

// writeUpstreamError translates the C6/C8 error taxonomy (spec.md §7) to
// HTTP status codes: AllUpstreamsFailed -> 500, NotFound -> 404,
// Cancelled -> 408, anything else -> 502 (treated as a transient
// upstream problem that slipped past the driver).
func writeUpstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, upstream.ErrAllUpstreamsFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, upstream.ErrCancelled):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// BroadcastCoinJoinAlert sends a CoinJoin detection alert via the
// WebSocket hub — wired as the alertFunc callback for the BlockScanner.
func BroadcastCoinJoinAlert(wsHub *Hub) func(scanner.CoinJoinAlert) {
	return func(alert scanner.CoinJoinAlert) {
		payload := gin.H{"type": "coinjoin_alert", "alert": alert}
		body, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[api] failed to marshal coinjoin alert: %v", err)
			return
		}
		wsHub.Broadcast(body)
		log.Printf("[alert] %s CoinJoin detected: %s (block %d, %.4f BTC)",
			alert.MixerType, alert.Txid, alert.BlockHeight, alert.TotalValueBTC)
	}
}
