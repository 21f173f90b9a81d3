package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"icosale/internal/bank"
	"icosale/internal/sales"
)

// saleHandler implements the HTTP handlers for sale and account operations.
type saleHandler struct {
	sales  *sales.Service
	bank   *bank.Bank
	logger *zap.Logger
}

// newSaleHandler creates a new sale handler.
func newSaleHandler(svc *sales.Service, b *bank.Bank, logger *zap.Logger) *saleHandler {
	return &saleHandler{sales: svc, bank: b, logger: logger}
}

type recordView struct {
	Seed           string `json:"seed"`
	Admin          string `json:"admin"`
	TotalUnits     uint64 `json:"total_units"`
	UnitsSold      uint64 `json:"units_sold"`
	UnitsRemaining uint64 `json:"units_remaining"`
}

func viewOf(rec *sales.Record) recordView {
	return recordView{
		Seed:           rec.Seed.String(),
		Admin:          rec.Admin.String(),
		TotalUnits:     rec.TotalUnits,
		UnitsSold:      rec.UnitsSold,
		UnitsRemaining: rec.Remaining(),
	}
}

type depositRequest struct {
	UnitAmount     uint64 `json:"unit_amount"`
	SourceAccount  string `json:"source_account"`
	HoldingAccount string `json:"holding_account"`
}

type purchaseRequest struct {
	UnitAmount        uint64 `json:"unit_amount"`
	Payee             string `json:"payee"`
	BuyerTokenAccount string `json:"buyer_token_account"`
	HoldingAccount    string `json:"holding_account"`
}

// handleInitialize handles POST /sales. The signer is the admin.
func (h *saleHandler) handleInitialize(ctx *gin.Context) {
	var req depositRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	admin := signerFrom(ctx)
	source, holding, ok := h.depositAccounts(ctx, admin, req)
	if !ok {
		return
	}

	rec, err := h.sales.Initialize(ctx.Request.Context(), sales.InitializeRequest{
		Admin:   admin,
		Units:   req.UnitAmount,
		Holding: holding,
		Source:  source,
	})
	if err != nil {
		h.writeError(ctx, "failed to initialize sale", err)
		return
	}
	ctx.JSON(http.StatusCreated, viewOf(rec))
}

// handleTopUp handles POST /sales/:seed/top-up. The signer must be the admin.
func (h *saleHandler) handleTopUp(ctx *gin.Context) {
	seed, ok := pathKey(ctx, "seed")
	if !ok {
		return
	}
	var req depositRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	admin := signerFrom(ctx)
	source, holding, ok := h.depositAccounts(ctx, admin, req)
	if !ok {
		return
	}

	rec, err := h.sales.TopUp(ctx.Request.Context(), sales.TopUpRequest{
		Seed:    seed,
		Admin:   admin,
		Units:   req.UnitAmount,
		Holding: holding,
		Source:  source,
	})
	if err != nil {
		h.writeError(ctx, "failed to top up sale", err)
		return
	}
	ctx.JSON(http.StatusOK, viewOf(rec))
}

// handlePurchase handles POST /sales/:seed/purchase. The signer is the buyer.
func (h *saleHandler) handlePurchase(ctx *gin.Context) {
	seed, ok := pathKey(ctx, "seed")
	if !ok {
		return
	}
	var req purchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	payee, err := solana.PublicKeyFromBase58(req.Payee)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payee", "kind": sales.KindInvalidAccount})
		return
	}
	dest, ok := optionalKey(ctx, "buyer_token_account", req.BuyerTokenAccount)
	if !ok {
		return
	}
	holding, ok := optionalKey(ctx, "holding_account", req.HoldingAccount)
	if !ok {
		return
	}

	rec, err := h.sales.Purchase(ctx.Request.Context(), sales.PurchaseRequest{
		Seed:              seed,
		Buyer:             signerFrom(ctx),
		Payee:             payee,
		Units:             req.UnitAmount,
		Holding:           holding,
		BuyerTokenAccount: dest,
	})
	if err != nil {
		h.writeError(ctx, "failed to purchase units", err)
		return
	}
	ctx.JSON(http.StatusOK, viewOf(rec))
}

// handleGetSale handles GET /sales/:seed.
func (h *saleHandler) handleGetSale(ctx *gin.Context) {
	seed, ok := pathKey(ctx, "seed")
	if !ok {
		return
	}
	rec, err := h.sales.Get(ctx.Request.Context(), seed)
	if err != nil {
		h.writeError(ctx, "failed to read sale", err)
		return
	}
	ctx.JSON(http.StatusOK, viewOf(rec))
}

// handleGetSaleByAdmin handles GET /sales/by-admin/:admin.
func (h *saleHandler) handleGetSaleByAdmin(ctx *gin.Context) {
	admin, ok := pathKey(ctx, "admin")
	if !ok {
		return
	}
	seed, err := h.sales.RecordAddress(admin)
	if err != nil {
		h.writeError(ctx, "failed to derive record address", err)
		return
	}
	rec, err := h.sales.Get(ctx.Request.Context(), seed)
	if err != nil {
		h.writeError(ctx, "failed to read sale", err)
		return
	}
	ctx.JSON(http.StatusOK, viewOf(rec))
}

// handleOpenAccount handles POST /accounts. It opens a token account for
// the sale mint owned by the signer, at the associated address unless the
// body names another one.
func (h *saleHandler) handleOpenAccount(ctx *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	owner := signerFrom(ctx)
	addr, ok := optionalKey(ctx, "address", req.Address)
	if !ok {
		return
	}
	if addr.IsZero() {
		var err error
		if addr, err = h.sales.TokenAccount(owner); err != nil {
			h.writeError(ctx, "failed to derive token account", err)
			return
		}
	}
	if err := h.bank.OpenTokenAccount(addr, h.sales.Mint(), owner); err != nil {
		h.writeError(ctx, "failed to open token account", err)
		return
	}
	acc, err := h.bank.TokenAccount(addr)
	if err != nil {
		h.writeError(ctx, "failed to read token account", err)
		return
	}
	ctx.JSON(http.StatusCreated, acc)
}

// handleGetAccount handles GET /accounts/:address.
func (h *saleHandler) handleGetAccount(ctx *gin.Context) {
	addr, ok := pathKey(ctx, "address")
	if !ok {
		return
	}
	resp := gin.H{
		"address":        addr.String(),
		"native_balance": h.bank.NativeBalance(addr),
	}
	acc, err := h.bank.TokenAccount(addr)
	switch {
	case err == nil:
		resp["token_account"] = acc
	case !errors.Is(err, bank.ErrAccountNotFound):
		h.writeError(ctx, "failed to read token account", err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *saleHandler) depositAccounts(ctx *gin.Context, admin solana.PublicKey, req depositRequest) (source, holding solana.PublicKey, ok bool) {
	if source, ok = optionalKey(ctx, "source_account", req.SourceAccount); !ok {
		return
	}
	if holding, ok = optionalKey(ctx, "holding_account", req.HoldingAccount); !ok {
		return
	}
	if source.IsZero() {
		var err error
		if source, err = h.sales.TokenAccount(admin); err != nil {
			h.writeError(ctx, "failed to derive token account", err)
			return source, holding, false
		}
	}
	return source, holding, true
}

func (h *saleHandler) writeError(ctx *gin.Context, msg string, err error) {
	kind := sales.Kind(err)
	status := statusFor(err, kind)
	fields := []zap.Field{
		zap.String("request_id", ctx.GetString(ctxRequestID)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
		ctx.JSON(status, gin.H{"error": msg, "kind": kind})
		return
	}
	h.logger.Warn(msg, fields...)
	ctx.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func statusFor(err error, kind sales.ErrorKind) int {
	switch {
	case errors.Is(err, bank.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, bank.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, bank.ErrAccountNotFound) && kind != sales.KindTransferRejected:
		return http.StatusNotFound
	}
	switch kind {
	case sales.KindInvalidAdmin:
		return http.StatusForbidden
	case sales.KindAlreadyInitialized:
		return http.StatusConflict
	case sales.KindOverflow, sales.KindInvalidAmount, sales.KindInvalidAccount:
		return http.StatusBadRequest
	case sales.KindInsufficientSupply, sales.KindTransferRejected:
		return http.StatusUnprocessableEntity
	case sales.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func pathKey(ctx *gin.Context, name string) (solana.PublicKey, bool) {
	key, err := solana.PublicKeyFromBase58(ctx.Param(name))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "kind": sales.KindInvalidAccount})
		return solana.PublicKey{}, false
	}
	return key, true
}

func optionalKey(ctx *gin.Context, name, value string) (solana.PublicKey, bool) {
	if strings.TrimSpace(value) == "" {
		return solana.PublicKey{}, true
	}
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "kind": sales.KindInvalidAccount})
		return solana.PublicKey{}, false
	}
	return key, true
}
