package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/engine"
	"optionclear/internal/event"
	"optionclear/internal/infra"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// accountHeader carries the caller identity. Authentication of that
// identity belongs to the host ledger, not this surface.
const accountHeader = "X-Account"

// Server exposes the clearinghouse over HTTP plus a websocket event
// stream.
type Server struct {
	house   *engine.Clearinghouse
	bus     *event.Bus
	metrics *infra.Metrics
	srv     *http.Server
}

// NewServer builds the router and wires the handlers.
func NewServer(addr string, house *engine.Clearinghouse, bus *event.Bus, metrics *infra.Metrics) *Server {
	s := &Server{house: house, bus: bus, metrics: metrics}

	r := mux.NewRouter()
	apiR := r.PathPrefix("/api").Subrouter()

	apiR.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	apiR.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	apiR.HandleFunc("/accounts/{owner}/{asset}", s.handleGetAccount).Methods(http.MethodGet)

	apiR.HandleFunc("/options", s.handleCreateOption).Methods(http.MethodPost)
	apiR.HandleFunc("/options", s.handleListOptions).Methods(http.MethodGet)
	apiR.HandleFunc("/options/{id}", s.handleGetOption).Methods(http.MethodGet)
	apiR.HandleFunc("/options/{id}/match", s.handleMatch).Methods(http.MethodPost)
	apiR.HandleFunc("/options/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	apiR.HandleFunc("/options/{id}/exercise", s.handleExercise).Methods(http.MethodPost)
	apiR.HandleFunc("/options/{id}/bids", s.handlePlaceBid).Methods(http.MethodPost)
	apiR.HandleFunc("/options/{id}/bids", s.handleListBids).Methods(http.MethodGet)
	apiR.HandleFunc("/options/{id}/bids", s.handleCancelBid).Methods(http.MethodDelete)
	apiR.HandleFunc("/options/{id}/bids/{bidder}/accept", s.handleAcceptBid).Methods(http.MethodPost)
	apiR.HandleFunc("/expire", s.handleBatchExpire).Methods(http.MethodPost)

	apiR.HandleFunc("/prices/{asset}", s.handleGetPrice).Methods(http.MethodGet)
	apiR.HandleFunc("/prices", s.handlePublishPrice).Methods(http.MethodPost)

	apiR.HandleFunc("/referrals", s.handleRegisterReferrer).Methods(http.MethodPost)
	apiR.HandleFunc("/referrals/claim", s.handleClaimReferral).Methods(http.MethodPost)

	apiR.HandleFunc("/admin/pause", s.handlePause).Methods(http.MethodPost)
	apiR.HandleFunc("/admin/unpause", s.handleUnpause).Methods(http.MethodPost)
	apiR.HandleFunc("/admin/fee-rate", s.handleSetFeeRate).Methods(http.MethodPost)
	apiR.HandleFunc("/admin/assets", s.handleListAsset).Methods(http.MethodPost)
	apiR.HandleFunc("/admin/assets/{symbol}", s.handleDelistAsset).Methods(http.MethodDelete)
	apiR.HandleFunc("/admin/publishers", s.handleAllowPublisher).Methods(http.MethodPost)
	apiR.HandleFunc("/admin/publishers/{account}", s.handleRevokePublisher).Methods(http.MethodDelete)

	apiR.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	slog.Info("API server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ======================================================================================
// Helpers
// ======================================================================================

func caller(r *http.Request) string {
	return r.Header.Get(accountHeader)
}

func optionID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Retriable bool   `json:"retriable"`
}

// writeError maps the taxonomy onto HTTP statuses. Every rejection is
// surfaced explicitly; there is no silent degradation.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrOptionNotFound), errors.Is(err, domain.ErrBidNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTerms):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrAlreadyMatched),
		errors.Is(err, domain.ErrOptionExpired):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrInsufficientPayment),
		errors.Is(err, domain.ErrInsufficientContractBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrStalePrice):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrReentrantCall):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Retriable: domain.IsRetriable(err)})
}

// ======================================================================================
// Funds
// ======================================================================================

type fundsRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("deposit", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.Deposit(caller(r), req.Asset, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.house.Account(caller(r), req.Asset))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("withdraw", domain.ErrInvalidTerms))
		return
	}
	receipt, err := s.house.Withdraw(caller(r), req.Asset, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receipt": receipt})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, s.house.Account(vars["owner"], vars["asset"]))
}

// ======================================================================================
// Option lifecycle
// ======================================================================================

func (s *Server) handleCreateOption(w http.ResponseWriter, r *http.Request) {
	var terms domain.OptionTerms
	if err := json.NewDecoder(r.Body).Decode(&terms); err != nil {
		writeError(w, domain.Reject("create", domain.ErrInvalidTerms))
		return
	}
	id, err := s.house.CreateOption(caller(r), terms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleListOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.house.Options())
}

func (s *Server) handleGetOption(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("get-option", domain.ErrInvalidTerms))
		return
	}
	o, err := s.house.GetOption(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type matchRequest struct {
	Payment decimal.Decimal `json:"payment"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("match", domain.ErrInvalidTerms))
		return
	}
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("match", domain.ErrInvalidTerms))
		return
	}
	refund, err := s.house.MatchOption(id, caller(r), req.Payment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"refund": refund})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("cancel", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.CancelOption(id, caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": domain.StateCancelled})
}

func (s *Server) handleExercise(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("exercise", domain.ErrInvalidTerms))
		return
	}
	payoff, err := s.house.ExerciseOption(id, caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"payoff": payoff})
}

type expireRequest struct {
	IDs []uint64 `json:"ids"`
}

func (s *Server) handleBatchExpire(w http.ResponseWriter, r *http.Request) {
	var req expireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("batch-expire", domain.ErrInvalidTerms))
		return
	}
	var (
		n   int
		err error
	)
	if len(req.IDs) == 0 {
		n, err = s.house.ExpireDue()
	} else {
		n, err = s.house.BatchExpire(req.IDs)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// ======================================================================================
// Bids
// ======================================================================================

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("place-bid", domain.ErrInvalidTerms))
		return
	}
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("place-bid", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.PlaceBid(id, caller(r), req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "bid placed"})
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("list-bids", domain.ErrInvalidTerms))
		return
	}
	writeJSON(w, http.StatusOK, s.house.Bids(id))
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("cancel-bid", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.CancelBid(id, caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bid cancelled"})
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		writeError(w, domain.Reject("accept-bid", domain.ErrInvalidTerms))
		return
	}
	bidder := mux.Vars(r)["bidder"]
	refund, err := s.house.AcceptBid(id, caller(r), bidder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"refund": refund})
}

// ======================================================================================
// Prices and referrals
// ======================================================================================

type priceRequest struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

func (s *Server) handlePublishPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("publish-price", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.PublishPrice(caller(r), req.Asset, req.Price); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	q, ok := s.house.ReadPrice(mux.Vars(r)["asset"])
	if !ok {
		writeError(w, domain.Reject("get-price", domain.ErrStalePrice))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type referralRequest struct {
	Referrer string `json:"referrer"`
}

func (s *Server) handleRegisterReferrer(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("register-referrer", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.RegisterReferrer(caller(r), req.Referrer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type claimRequest struct {
	Asset string `json:"asset"`
}

func (s *Server) handleClaimReferral(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("claim-referral", domain.ErrInvalidTerms))
		return
	}
	amount, err := s.house.ClaimReferral(caller(r), req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"claimed": amount})
}

// ======================================================================================
// Admin
// ======================================================================================

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.house.Pause(caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.house.Unpause(caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type feeRateRequest struct {
	Bps int64 `json:"bps"`
}

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	var req feeRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("set-fee-rate", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.SetFeeRate(caller(r), req.Bps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"bps": req.Bps})
}

type listAssetRequest struct {
	Symbol     string          `json:"symbol"`
	MinPremium decimal.Decimal `json:"min_premium"`
}

func (s *Server) handleListAsset(w http.ResponseWriter, r *http.Request) {
	var req listAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("list-asset", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.ListAsset(caller(r), req.Symbol, req.MinPremium); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": req.Symbol})
}

func (s *Server) handleDelistAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.house.DelistAsset(caller(r), mux.Vars(r)["symbol"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publisherRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleAllowPublisher(w http.ResponseWriter, r *http.Request) {
	var req publisherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Reject("allow-publisher", domain.ErrInvalidTerms))
		return
	}
	if err := s.house.AllowPublisher(caller(r), req.Account); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": req.Account})
}

func (s *Server) handleRevokePublisher(w http.ResponseWriter, r *http.Request) {
	if err := s.house.RevokePublisher(caller(r), mux.Vars(r)["account"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
