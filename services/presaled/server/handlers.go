package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"gepspresale/native/presale"
)

const maxBodyBytes = 1 << 20

type stageResponse struct {
	Index      int    `json:"index"`
	Price      string `json:"price"`
	Allocation string `json:"allocation"`
	Available  string `json:"available"`
	Sold       string `json:"sold"`
	Swept      string `json:"swept"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
}

type statusResponse struct {
	Phase        string             `json:"phase"`
	Paused       bool               `json:"paused"`
	CurrentStage int                `json:"currentStage"`
	StartTime    int64              `json:"startTime"`
	SaleEnd      int64              `json:"saleEnd"`
	ClaimOpensAt int64              `json:"claimOpensAt"`
	Treasury     string             `json:"treasury"`
	TotalSold    string             `json:"totalSold"`
	Unsold       string             `json:"unsold"`
	Stages       []stageResponse    `json:"stages"`
	Currencies   []presale.Currency `json:"currencies"`
}

type receiptResponse struct {
	ID           string `json:"id"`
	Buyer        string `json:"buyer"`
	Currency     string `json:"currency"`
	Paid         string `json:"paid"`
	Tokens       string `json:"tokens"`
	Stage        int    `json:"stage"`
	CurrentStage int    `json:"currentStage"`
	SaleEnded    bool   `json:"saleEnded"`
	Timestamp    int64  `json:"timestamp"`
}

type purchaseResponse struct {
	Buyer     string            `json:"buyer"`
	Amount    string            `json:"amount"`
	Paid      map[string]string `json:"paid"`
	Count     uint64            `json:"count"`
	Claimed   bool              `json:"claimed"`
	ClaimedAt int64             `json:"claimedAt,omitempty"`
	Receipts  []receiptResponse `json:"receipts"`
}

type buyRequest struct {
	Buyer        string `json:"buyer"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Denomination string `json:"denomination"`
}

type claimRequest struct {
	Buyer string `json:"buyer"`
}

type treasuryRequest struct {
	Address string `json:"address"`
}

type currencyRequest struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native"`
	Feed     string `json:"feed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.engine.Status()
	resp := statusResponse{
		Phase:        status.Phase.String(),
		Paused:       s.pauses.IsPaused(presale.ModuleName),
		CurrentStage: status.CurrentStage,
		StartTime:    status.StartTime,
		SaleEnd:      status.SaleEnd,
		ClaimOpensAt: status.ClaimOpensAt,
		Treasury:     status.Treasury.Hex(),
		TotalSold:    amount(status.TotalSold),
		Unsold:       amount(status.Unsold),
		Stages:       make([]stageResponse, 0, len(status.Stages)),
		Currencies:   status.Currencies,
	}
	for _, stage := range status.Stages {
		resp.Stages = append(resp.Stages, stageView(stage))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "stage index must be an integer")
		return
	}
	stage, err := s.engine.Stage(index)
	if errors.Is(err, presale.ErrInvalidSchedule) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stageView(stage))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query()
	tokens, err := parseAmount(query.Get("tokens"))
	if err != nil {
		s.fail(w, "quote", start, err)
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(query.Get("currency")))
	cost, err := s.engine.QuoteCost(r.Context(), tokens, currency)
	if err != nil {
		s.fail(w, "quote", start, err)
		return
	}
	s.metrics.Observe("quote", "", time.Since(start))
	writeJSON(w, http.StatusOK, map[string]string{"tokens": tokens.String(), "currency": currency, "cost": cost.String()})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req buyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.fail(w, "buy", start, err)
		return
	}
	value, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, "buy", start, err)
		return
	}
	var receipt *presale.Receipt
	switch strings.ToLower(strings.TrimSpace(req.Denomination)) {
	case "", "payment":
		receipt, err = s.engine.Buy(r.Context(), buyer, value, req.Currency)
	case "tokens":
		receipt, err = s.engine.BuyTokens(r.Context(), buyer, value, req.Currency)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown denomination %q", req.Denomination))
		return
	}
	if err != nil {
		s.fail(w, "buy", start, err)
		return
	}
	s.metrics.Observe("buy", "", time.Since(start))
	if s.receipts != nil {
		if err := s.receipts.SaveReceipt(r.Context(), receipt); err != nil {
			s.logger.Error("persist receipt failed", "receipt", receipt.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, receiptView(*receipt))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.fail(w, "claim", start, err)
		return
	}
	claimed, err := s.engine.Claim(r.Context(), buyer)
	if err != nil {
		s.fail(w, "claim", start, err)
		return
	}
	s.metrics.Observe("claim", "", time.Since(start))
	writeJSON(w, http.StatusOK, map[string]string{"buyer": buyer.Hex(), "amount": claimed.String()})
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	buyer, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	record, ok := s.engine.PurchaseOf(buyer)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no purchases for "+buyer.Hex())
		return
	}
	resp := purchaseResponse{
		Buyer:     buyer.Hex(),
		Amount:    amount(record.Amount),
		Paid:      make(map[string]string, len(record.Paid)),
		Count:     record.Count,
		Claimed:   record.Claimed,
		ClaimedAt: record.ClaimedAt,
		Receipts:  []receiptResponse{},
	}
	for symbol, paid := range record.Paid {
		resp.Paid[symbol] = amount(paid)
	}
	if s.receipts != nil {
		receipts, err := s.receipts.Receipts(r.Context(), buyer)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		for _, receipt := range receipts {
			resp.Receipts = append(resp.Receipts, receiptView(receipt))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event journal not configured")
		return
	}
	query := r.URL.Query()
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
		return
	}
	after, err := optionalInt(query.Get("after"))
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "after must be a non-negative integer")
		return
	}
	entries, err := s.journal.Recent(r.Context(), limit, uint64(after))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.engine.Start(r.Context()); err != nil {
		s.fail(w, "start", start, err)
		return
	}
	s.metrics.Observe("start", "", time.Since(start))
	s.audit(r, "start")
	s.handleStatus(w, r)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	swept, err := s.engine.SweepUnsold(r.Context())
	if err != nil {
		s.fail(w, "sweep", start, err)
		return
	}
	s.metrics.Observe("sweep", "", time.Since(start))
	s.audit(r, "sweep", "amount", swept.String())
	writeJSON(w, http.StatusOK, map[string]string{"amount": swept.String()})
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req treasuryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	treasury, err := parseAddress(req.Address)
	if err == nil {
		err = s.engine.UpdateTreasury(r.Context(), treasury)
	}
	if err != nil {
		s.fail(w, "treasury", start, err)
		return
	}
	s.metrics.Observe("treasury", "", time.Since(start))
	s.audit(r, "treasury", "treasury", treasury.Hex())
	writeJSON(w, http.StatusOK, map[string]string{"treasury": treasury.Hex()})
}

func (s *Server) handleRegisterCurrency(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req currencyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	currency := presale.Currency{
		Symbol:   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Decimals: req.Decimals,
		Native:   req.Native,
		Feed:     strings.TrimSpace(req.Feed),
	}
	if err := s.engine.RegisterCurrency(r.Context(), currency); err != nil {
		s.fail(w, "register_currency", start, err)
		return
	}
	if s.onCurrency != nil {
		s.onCurrency(currency)
	}
	s.metrics.Observe("register_currency", "", time.Since(start))
	s.audit(r, "register_currency", "currency", currency.Symbol)
	writeJSON(w, http.StatusOK, currency)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil || strings.TrimSpace(s.cfg.ExportDir) == "" {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "receipt export not configured")
		return
	}
	start := time.Now()
	out, err := s.exporter.ExportReceipts(r.Context(), s.cfg.ExportDir, start)
	if err != nil {
		s.fail(w, "export", start, err)
		return
	}
	s.metrics.Observe("export", "", time.Since(start))
	s.audit(r, "export", "rows", out.Rows, "csv", out.CSVPath)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.pauses.Pause(presale.ModuleName)
	s.audit(r, "pause")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.pauses.Resume(presale.ModuleName)
	s.audit(r, "resume")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) fail(w http.ResponseWriter, operation string, start time.Time, err error) {
	code := writeEngineError(w, err)
	s.metrics.Observe(operation, code, time.Since(start))
	if code == "internal" {
		s.logger.Error("presale operation failed", "operation", operation, "error", err)
	}
}

func (s *Server) audit(r *http.Request, action string, attrs ...interface{}) {
	args := []interface{}{"action", action}
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		args = append(args, "owner", principal.Subject.Hex())
	}
	s.logger.Info("presale admin action", append(args, attrs...)...)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %q", presale.ErrInvalidAddress, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", presale.ErrInvalidAmount, raw)
	}
	return value, nil
}

func optionalInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stageView(stage *presale.Stage) stageResponse {
	return stageResponse{
		Index:      stage.Index,
		Price:      stage.Price.String(),
		Allocation: amount(stage.Allocation),
		Available:  amount(stage.Available),
		Sold:       amount(stage.Sold()),
		Swept:      amount(stage.Swept),
		StartTime:  stage.StartTime,
		EndTime:    stage.EndTime,
	}
}

func receiptView(receipt presale.Receipt) receiptResponse {
	return receiptResponse{
		ID:           receipt.ID,
		Buyer:        receipt.Buyer.Hex(),
		Currency:     receipt.Currency,
		Paid:         amount(receipt.Paid),
		Tokens:       amount(receipt.Tokens),
		Stage:        receipt.Stage,
		CurrentStage: receipt.CurrentStage,
		SaleEnded:    receipt.SaleEnded,
		Timestamp:    receipt.Timestamp,
	}
}
