// Package rest provides the Gin-based call surface for the ledger. The
// transport is host-defined; callers identify themselves with the
// X-Lucid-Caller header, authenticated upstream.
package rest

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/anchor"
	"github.com/HamiGames/Lucid-sub008/internal/fault"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/params"
	"github.com/HamiGames/Lucid-sub008/internal/payout"
)

const callerHeader = "X-Lucid-Caller"

// Server is the REST API server.
type Server struct {
	engine  *gin.Engine
	anchors *anchor.Registry
	payouts *payout.Gate
	params  *params.Registry
	logger  *zap.Logger
}

// New creates a REST Server.
func New(anchors *anchor.Registry, payouts *payout.Gate, pr *params.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		anchors: anchors,
		payouts: payouts,
		params:  pr,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the underlying http.Handler for server wiring and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// registerRoutes sets up the /lucid context path.
func (s *Server) registerRoutes() {
	lucid := s.engine.Group("/lucid")

	lucid.GET("/health", s.health)

	anchors := lucid.Group("/anchors")
	{
		anchors.POST("/sessions", s.registerSession)
		anchors.GET("/sessions/:id", s.getSession)
		anchors.POST("/chunks", s.anchorChunk)
		anchors.POST("/pause", s.anchorsPause)
		anchors.POST("/unpause", s.anchorsUnpause)
		anchors.POST("/finalize", s.anchorsFinalize)
	}

	payouts := lucid.Group("/payouts")
	{
		payouts.POST("/disburse", s.disburse)
		payouts.GET("/today", s.todayDisbursed)
		payouts.GET("/balance", s.balance)
		payouts.POST("/pause", s.payoutsPause)
		payouts.POST("/unpause", s.payoutsUnpause)
		payouts.POST("/emergency-withdraw", s.emergencyWithdraw)
	}

	kyc := lucid.Group("/kyc")
	{
		kyc.POST("/disburse", s.disburseKYC)
		kyc.POST("/daily-limit", s.setDailyLimit)
	}

	paramGroup := lucid.Group("/params")
	{
		paramGroup.GET("", s.listParams)
		paramGroup.GET("/:key", s.getParam)
		paramGroup.PUT("/:key", s.setParam)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Anchor handlers ---

type registerSessionReq struct {
	SessionID    string `json:"sessionId" binding:"required"`
	ManifestHash string `json:"manifestHash" binding:"required"`
	MerkleRoot   string `json:"merkleRoot" binding:"required"`
	StartedAt    int64  `json:"startedAt"`
	Owner        string `json:"owner" binding:"required"`
	ChunkCount   uint32 `json:"chunkCount"`
}

func (s *Server) registerSession(c *gin.Context) {
	var req registerSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec := anchor.SessionAnchor{
		SessionID:    parseHash(req.SessionID),
		ManifestHash: parseHash(req.ManifestHash),
		MerkleRoot:   parseHash(req.MerkleRoot),
		StartedAt:    req.StartedAt,
		Owner:        parseAddress(req.Owner),
		ChunkCount:   req.ChunkCount,
	}
	if err := s.anchors.RegisterSession(caller(c), rec); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": rec.SessionID})
}

func (s *Server) getSession(c *gin.Context) {
	id := parseHash(c.Param("id"))
	rec, ok := s.anchors.Session(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not registered", "registered": false})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type anchorChunkReq struct {
	SessionID  string `json:"sessionId" binding:"required"`
	ChunkIndex uint32 `json:"chunkIndex"`
	ChunkHash  string `json:"chunkHash" binding:"required"`
}

func (s *Server) anchorChunk(c *gin.Context) {
	var req anchorChunkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.anchors.AnchorChunk(caller(c), parseHash(req.SessionID), req.ChunkIndex, parseHash(req.ChunkHash))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anchored": true})
}

func (s *Server) anchorsPause(c *gin.Context) {
	if err := s.anchors.Pause(caller(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) anchorsUnpause(c *gin.Context) {
	if err := s.anchors.Unpause(caller(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) anchorsFinalize(c *gin.Context) {
	if err := s.anchors.Finalize(caller(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": true})
}

// --- Payout handlers ---

type disburseReq struct {
	SessionID string `json:"sessionId" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) disburse(c *gin.Context) {
	var req disburseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.payouts.Disburse(caller(c), parseHash(req.SessionID), parseAddress(req.Recipient), req.Amount, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": true})
}

func (s *Server) todayDisbursed(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"today": s.payouts.TodayDisbursed()})
}

func (s *Server) balance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"balance": s.payouts.Balance()})
}

func (s *Server) payoutsPause(c *gin.Context) {
	if err := s.payouts.Pause(caller(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) payoutsUnpause(c *gin.Context) {
	if err := s.payouts.Unpause(caller(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

type emergencyWithdrawReq struct {
	Recipient string `json:"recipient" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
}

func (s *Server) emergencyWithdraw(c *gin.Context) {
	var req emergencyWithdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.payouts.EmergencyWithdraw(caller(c), parseAddress(req.Recipient), req.Amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": true})
}

// --- KYC handlers ---

type disburseKYCReq struct {
	SessionID string `json:"sessionId" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
	Reason    string `json:"reason"`
	KYCHash   string `json:"kycHash" binding:"required"`
	Expiry    int64  `json:"expiry" binding:"required"`
	Signature string `json:"signature" binding:"required"` // base64
}

func (s *Server) disburseKYC(c *gin.Context) {
	var req disburseKYCReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be base64"})
		return
	}
	err = s.payouts.DisburseKYC(caller(c), parseHash(req.SessionID), parseAddress(req.Recipient),
		req.Amount, req.Reason, parseHash(req.KYCHash), req.Expiry, sig)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": true})
}

type dailyLimitReq struct {
	Recipient string `json:"recipient" binding:"required"`
	Limit     uint64 `json:"limit"`
}

func (s *Server) setDailyLimit(c *gin.Context) {
	var req dailyLimitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.payouts.SetDailyLimit(caller(c), parseAddress(req.Recipient), req.Limit); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limit": req.Limit})
}

// --- Parameter handlers ---

func (s *Server) listParams(c *gin.Context) {
	c.JSON(http.StatusOK, s.params.Snapshot())
}

func (s *Server) getParam(c *gin.Context) {
	key := c.Param("key")
	value, err := s.params.Param(key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	min, max, _ := s.params.Bounds(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value, "min": min, "max": max})
}

type setParamReq struct {
	Value int64 `json:"value"`
}

func (s *Server) setParam(c *gin.Context) {
	var req setParamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.params.SetParam(caller(c), c.Param("key"), req.Value); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": req.Value})
}

// --- Helpers ---

func caller(c *gin.Context) ident.Address {
	addr, _ := ident.ParseAddress(c.GetHeader(callerHeader))
	return addr
}

// parseHash normalizes without validating; the registries own validation
// and report the precise rule violated.
func parseHash(s string) ident.Hash {
	if h, ok := ident.ParseHash(s); ok {
		return h
	}
	return ident.Hash(s)
}

func parseAddress(s string) ident.Address {
	if a, ok := ident.ParseAddress(s); ok {
		return a
	}
	return ident.Address(s)
}

// writeError maps the fault taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		s.logger.Error("Internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusFor(fe.Kind), gin.H{
		"error": fe.Message,
		"kind":  string(fe.Kind),
		"code":  fe.Code,
	})
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindInputValidation:
		return http.StatusBadRequest
	case fault.KindSignature:
		return http.StatusUnauthorized
	case fault.KindAuthorization:
		return http.StatusForbidden
	case fault.KindUnknown:
		return http.StatusNotFound
	case fault.KindStateConflict, fault.KindLifecycle:
		return http.StatusConflict
	case fault.KindBounds:
		return http.StatusUnprocessableEntity
	case fault.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
