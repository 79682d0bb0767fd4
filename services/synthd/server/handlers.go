package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"otcswap/native/synth"
	"otcswap/services/synthd/api"
	"otcswap/services/synthd/auth"
	"otcswap/services/synthd/storage"
)

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req api.OperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	requester, err := s.verify.Verify(r.Context(), api.KindMint, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reservedAt := s.now()
	if err := s.checkThrottle(r, requester.String(), storage.ActionMint, s.cfg.Throttle.MintLimit, req.Amount, reservedAt); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Mint(r.Context(), synth.MintRequest{
		Requester:          requester.String(),
		Amount:             req.Amount,
		SourceAccount:      strings.TrimSpace(req.SourceAccount),
		DestinationAccount: strings.TrimSpace(req.DestinationAccount),
	})
	if err != nil {
		s.releaseThrottle(r, requester.String(), storage.ActionMint, s.cfg.Throttle.MintLimit, req.Amount, reservedAt)
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewMintResponse(res, cfg))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req api.OperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	requester, err := s.verify.Verify(r.Context(), api.KindBurn, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reservedAt := s.now()
	if err := s.checkThrottle(r, requester.String(), storage.ActionBurn, s.cfg.Throttle.BurnLimit, req.Amount, reservedAt); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Burn(r.Context(), synth.BurnRequest{
		Requester:          requester.String(),
		Amount:             req.Amount,
		SourceAccount:      strings.TrimSpace(req.SourceAccount),
		DestinationAccount: strings.TrimSpace(req.DestinationAccount),
	})
	if err != nil {
		s.releaseThrottle(r, requester.String(), storage.ActionBurn, s.cfg.Throttle.BurnLimit, req.Amount, reservedAt)
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewBurnResponse(res, cfg))
}

// checkThrottle reserves amount against the requester's window budget.
// Reservations of operations the engine rejects are released again.
func (s *Server) checkThrottle(r *http.Request, requester string, action storage.ThrottleAction, limit, amount uint64, when time.Time) error {
	if limit == 0 {
		return nil
	}
	allowed, err := s.store.CheckThrottle(r.Context(), requester, action, limit, s.cfg.Throttle.Window, amount, when)
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s limit %d per %s", errThrottled, action, limit, s.cfg.Throttle.Window)
	}
	return nil
}

func (s *Server) releaseThrottle(r *http.Request, requester string, action storage.ThrottleAction, limit, amount uint64, when time.Time) {
	if limit == 0 {
		return
	}
	if err := s.store.ReleaseThrottle(r.Context(), requester, action, amount, when); err != nil {
		s.logger.Printf("synthd: release %s throttle for %s: %v", action, requester, err)
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	kind := synth.QuoteKind(strings.ToLower(chi.URLParam(r, "kind")))
	if kind != synth.QuoteMint && kind != synth.QuoteBurn {
		s.writeError(w, r, fmt.Errorf("%w: unknown quote kind %q", errBadRequest, kind))
		return
	}
	var req api.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	quote, err := s.engine.Quote(r.Context(), kind, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewQuoteResponse(quote, cfg))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewConfigResponse(cfg))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := status.Config
	resp := api.StatusResponse{
		Config:          api.NewConfigResponse(cfg),
		OperatorPaused:  s.pauses != nil && s.pauses.IsPaused(synth.ModuleName()),
		TreasuryBalance: api.NewAmount(status.TreasuryBalance, cfg.CollateralDecimals),
		FeeBalance:      api.NewAmount(status.FeeBalance, cfg.CollateralDecimals),
	}
	if status.PriceError != nil {
		body := errorBody(r.Context(), status.PriceError)
		resp.PriceError = &body
	} else {
		prices := api.NewPrices(status.Prices)
		resp.Prices = &prices
		if status.RequiredCollateral != nil {
			required := api.NewWideAmount(status.RequiredCollateral.ToBig(), cfg.CollateralDecimals)
			resp.RequiredCollateral = &required
		}
		if status.CollateralRatioBps != nil {
			resp.CollateralRatioBps = status.CollateralRatioBps.Dec()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.journal.List(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next := after
	if len(records) > 0 {
		next = records[len(records)-1].ID
	}
	if records == nil {
		records = []storage.EventRecord{}
	}
	writeJSON(w, http.StatusOK, api.EventsResponse{Events: records, Next: next})
}

func pageParams(r *http.Request) (int64, int, error) {
	query := r.URL.Query()
	var after int64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("%w: invalid after cursor", errBadRequest)
		}
		after = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit", errBadRequest)
		}
		limit = parsed
	}
	return after, limit, nil
}

func adminIdentity(r *http.Request) string {
	admin, _ := auth.AdminFromContext(r.Context())
	return admin
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req api.InitializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	cfg, err := s.engine.Initialize(r.Context(), synth.InitParams{
		Admin:            adminIdentity(r),
		CollateralAsset:  req.CollateralAsset,
		SyntheticAsset:   req.SyntheticAsset,
		TreasuryAccount:  req.TreasuryAccount,
		FeeAccount:       req.FeeAccount,
		CollateralFeed:   req.CollateralFeed,
		SyntheticFeed:    req.SyntheticFeed,
		FeeRateBps:       req.FeeRateBps,
		MinCollateralBps: req.MinCollateralBps,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.NewConfigResponse(cfg))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.respondWithConfig(w, r, s.engine.Pause(r.Context(), adminIdentity(r)))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.respondWithConfig(w, r, s.engine.Unpause(r.Context(), adminIdentity(r)))
}

func (s *Server) handleFeeRate(w http.ResponseWriter, r *http.Request) {
	var req api.ParamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respondWithConfig(w, r, s.engine.SetFeeRate(r.Context(), adminIdentity(r), req.Bps))
}

func (s *Server) handleMinCollateral(w http.ResponseWriter, r *http.Request) {
	var req api.ParamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respondWithConfig(w, r, s.engine.SetMinCollateralBps(r.Context(), adminIdentity(r), req.Bps))
}

func (s *Server) respondWithConfig(w http.ResponseWriter, r *http.Request, opErr error) {
	if opErr != nil {
		s.writeError(w, r, opErr)
		return
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewConfigResponse(cfg))
}
