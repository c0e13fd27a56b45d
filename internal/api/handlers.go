package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"cctp-bridge-go/internal/fees"
	"cctp-bridge-go/internal/gateway"
	"cctp-bridge-go/internal/ledger"
	"cctp-bridge-go/internal/models"
	"cctp-bridge-go/internal/store"
	"cctp-bridge-go/internal/transfer"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type initiateRequest struct {
	Reference          string `json:"reference" binding:"required"`
	WalletId           string `json:"wallet_id" binding:"required"`
	SourceChain        string `json:"source_chain" binding:"required"`
	DestinationChain   string `json:"destination_chain" binding:"required"`
	DestinationAddress string `json:"destination_address" binding:"required"`
	Amount             string `json:"amount" binding:"required"`
	SpeedTier          string `json:"speed_tier"`
}

type transferResponse struct {
	Id                 string `json:"id"`
	Reference          string `json:"reference"`
	WalletId           string `json:"wallet_id"`
	SourceChain        string `json:"source_chain"`
	DestinationChain   string `json:"destination_chain"`
	DestinationAddress string `json:"destination_address"`
	Amount             string `json:"amount"`
	SpeedTier          string `json:"speed_tier"`
	State              string `json:"state"`
	BurnHash           string `json:"burn_hash,omitempty"`
	AttestationHash    string `json:"attestation_hash,omitempty"`
	MintHash           string `json:"mint_hash,omitempty"`
	FeeQuoted          string `json:"fee_quoted"`
	FeeTotal           string `json:"fee_total"`
	FeeReview          bool   `json:"fee_review"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	Stuck              bool   `json:"stuck"`
	InitiatedAt        string `json:"initiated_at"`
	CompletedAt        string `json:"completed_at,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

type transferEventResponse struct {
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toTransferResponse(t *models.Transfer) transferResponse {
	resp := transferResponse{
		Id:                 t.Id,
		Reference:          t.Reference,
		WalletId:           t.WalletId,
		SourceChain:        t.SourceChain,
		DestinationChain:   t.DestinationChain,
		DestinationAddress: t.DestinationAddress,
		Amount:             t.Amount.String(),
		SpeedTier:          string(t.SpeedTier),
		State:              string(t.State),
		BurnHash:           t.BurnHash,
		AttestationHash:    t.AttestationHash,
		MintHash:           t.MintHash,
		FeeQuoted:          t.FeeQuoted.String(),
		FeeTotal:           t.FeeTotal.String(),
		FeeReview:          t.FeeReview,
		ErrorCode:          t.ErrorCode,
		ErrorMessage:       t.ErrorMessage,
		Stuck:              t.Stuck,
		InitiatedAt:        t.InitiatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !t.CompletedAt.IsZero() {
		resp.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) initiateTransfer(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid amount: " + req.Amount})
		return
	}

	tier := models.SpeedTier(req.SpeedTier)
	if req.SpeedTier == "" {
		tier = models.TierStandard
	}

	created, err := s.machine.Initiate(c.Request.Context(), transfer.InitiateParams{
		Reference:          req.Reference,
		WalletId:           req.WalletId,
		SourceChain:        req.SourceChain,
		DestinationChain:   req.DestinationChain,
		DestinationAddress: req.DestinationAddress,
		Amount:             amount,
		SpeedTier:          tier,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransferResponse(created))
}

func (s *Server) getTransfer(c *gin.Context) {
	t, err := s.machine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	events, err := s.machine.Events(c.Request.Context(), t.Id)
	if err != nil {
		writeError(c, err)
		return
	}

	history := make([]transferEventResponse, 0, len(events))
	for _, event := range events {
		history = append(history, transferEventResponse{
			FromState: string(event.FromState),
			ToState:   string(event.ToState),
			Detail:    event.Detail,
			CreatedAt: event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"transfer": toTransferResponse(t), "events": history})
}

func (s *Server) listTransfers(c *gin.Context) {
	filter := store.TransferFilter{
		State:     models.TransferState(c.Query("state")),
		SpeedTier: models.SpeedTier(c.Query("tier")),
		Chain:     c.Query("chain"),
		Query:     c.Query("q"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if from, ok := queryTime(c, "from"); ok {
		filter.From = from
	}
	if to, ok := queryTime(c, "to"); ok {
		filter.To = to
	}

	transfers, err := s.machine.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	response := make([]transferResponse, 0, len(transfers))
	for i := range transfers {
		response = append(response, toTransferResponse(&transfers[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transfers": response})
}

func (s *Server) cancelTransfer(c *gin.Context) {
	cancelled, err := s.machine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransferResponse(cancelled))
}

func (s *Server) accelerateTransfer(c *gin.Context) {
	accelerated, err := s.machine.Accelerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransferResponse(accelerated))
}

func (s *Server) quote(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid amount"})
		return
	}
	tier := models.SpeedTier(c.DefaultQuery("tier", string(models.TierStandard)))
	if !tier.Valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown speed tier"})
		return
	}

	estimate, err := s.estimator.Estimate(c.Request.Context(), c.Query("source"), c.Query("destination"), amount, tier)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"base_fee":          estimate.BaseFee.String(),
		"speed_premium":     estimate.SpeedPremium.String(),
		"total_fee":         estimate.TotalFee.String(),
		"estimated_seconds": estimate.EstimatedSeconds,
	})
}

func (s *Server) walletBalance(c *gin.Context) {
	balance, err := s.ledger.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": balance.WalletId,
		"available": balance.Available.String(),
		"pending":   balance.Pending.String(),
	})
}

func (s *Server) walletTransactions(c *gin.Context) {
	transactions, err := s.ledger.History(c.Request.Context(), c.Param("id"),
		queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}

	response := make([]gin.H, 0, len(transactions))
	for i := range transactions {
		response = append(response, toWalletTransactionJSON(&transactions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": response})
}

type recordTransactionRequest struct {
	ProviderTxId  string `json:"provider_tx_id" binding:"required"`
	Reference     string `json:"reference"`
	Direction     string `json:"direction" binding:"required"`
	Kind          string `json:"kind"`
	Chain         string `json:"chain" binding:"required"`
	ProviderState string `json:"provider_state" binding:"required"`
	Legs          []struct {
		Amount string `json:"amount" binding:"required"`
		Detail string `json:"detail"`
	} `json:"legs" binding:"required"`
}

// recordWalletTransaction lands a provider-observed movement (an inbound
// credit, a direct send) in the ledger. Replays keyed on provider_tx_id return
// the existing row.
func (s *Server) recordWalletTransaction(c *gin.Context) {
	var req recordTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	direction := models.Direction(req.Direction)
	if direction != models.DirectionInbound && direction != models.DirectionOutbound {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown direction: " + req.Direction})
		return
	}
	kind := models.TransactionKind(req.Kind)
	if req.Kind == "" {
		kind = models.KindDirectSend
	}
	if kind != models.KindDirectSend && kind != models.KindBridge {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown transaction kind: " + req.Kind})
		return
	}

	state, err := ledger.MapProviderState(req.ProviderState)
	if err != nil {
		writeError(c, err)
		return
	}

	legs := make([]store.LegParams, 0, len(req.Legs))
	for _, leg := range req.Legs {
		amount, err := decimal.NewFromString(leg.Amount)
		if err != nil || amount.LessThanOrEqual(decimal.Zero) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid leg amount: " + leg.Amount})
			return
		}
		legs = append(legs, store.LegParams{Amount: amount, Detail: leg.Detail})
	}

	recorded, err := s.ledger.Record(c.Request.Context(), ledger.RecordParams{
		ProviderTxId: req.ProviderTxId,
		Reference:    req.Reference,
		WalletId:     c.Param("id"),
		Direction:    direction,
		Kind:         kind,
		Chain:        req.Chain,
		State:        state,
		Legs:         legs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toWalletTransactionJSON(recorded))
}

type reconcileTransactionRequest struct {
	ProviderState string `json:"provider_state" binding:"required"`
}

// reconcileWalletTransaction folds a provider-reported state for the ledger
// row keyed by the provider transaction id in the path.
func (s *Server) reconcileWalletTransaction(c *gin.Context) {
	var req reconcileTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ledger.ReconcileProviderState(c.Request.Context(), c.Param("id"), req.ProviderState); err != nil {
		writeError(c, err)
		return
	}

	transaction, err := s.ledger.GetTransactionByProviderId(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWalletTransactionJSON(transaction))
}

func toWalletTransactionJSON(tx *models.WalletTransaction) gin.H {
	legs := make([]gin.H, 0, len(tx.Legs))
	for _, leg := range tx.Legs {
		legs = append(legs, gin.H{"amount": leg.Amount.String(), "detail": leg.Detail})
	}
	return gin.H{
		"id":             tx.Id,
		"provider_tx_id": tx.ProviderTxId,
		"reference":      tx.Reference,
		"direction":      string(tx.Direction),
		"kind":           string(tx.Kind),
		"chain":          tx.Chain,
		"state":          string(tx.State),
		"total":          tx.Total().String(),
		"legs":           legs,
		"created_at":     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) rollup(c *gin.Context) {
	to := time.Now().UTC()
	if value, ok := queryTime(c, "to"); ok {
		to = value
	}
	from := to.Add(-24 * time.Hour)
	if value, ok := queryTime(c, "from"); ok {
		from = value
	}

	report, err := s.aggregator.Rollup(c.Request.Context(), from, to, c.Query("chain"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":             report.From.Format(time.RFC3339),
		"to":               report.To.Format(time.RFC3339),
		"total_count":      report.TotalCount,
		"counts_by_state":  report.CountsByState,
		"counts_by_chain":  report.CountsByChain,
		"counts_by_tier":   report.CountsByTier,
		"success_rate":     report.SuccessRate.String(),
		"fees_collected":   report.FeesCollected.String(),
		"gas_estimate":     report.GasEstimate.String(),
		"net_profit":       report.NetProfit.String(),
		"fee_review_count": report.FeeReviewCount,
		"stuck_count":      report.StuckCount,
	})
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrTransferNotFound), errors.Is(err, store.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, transfer.ErrInvalidRoute),
		errors.Is(err, transfer.ErrInvalidAmount),
		errors.Is(err, fees.ErrRouteUnavailable),
		errors.Is(err, fees.ErrAmountOverTierLimit),
		errors.Is(err, gateway.ErrUnsupported),
		errors.Is(err, ledger.ErrUnknownProviderState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicateReference),
		errors.Is(err, transfer.ErrCancelWindowClosed),
		errors.Is(err, transfer.ErrNotAccelerable),
		errors.Is(err, transfer.ErrTerminal),
		errors.Is(err, store.ErrStaleVersion):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if raw := c.Query(key); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}
	return defaultValue
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
