package trade

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
)

// --- Request types ---

// CreateSessionRequest is the JSON body for POST /sessions.
type CreateSessionRequest struct {
	UserID      string           `json:"user_id"`
	ChallengeID string           `json:"challenge_id"`
	SeedBalance *decimal.Decimal `json:"seed_balance,omitempty"` // omitted → configured default
}

// PlaceOrderRequest is the JSON body for POST /sessions/{sessionID}/orders.
type PlaceOrderRequest struct {
	InstrumentKey string           `json:"instrument_key"`
	Side          string           `json:"side"`                  // "BUY" or "SELL"
	Quantity      decimal.Decimal  `json:"quantity"`              // must be positive
	Category      string           `json:"category,omitempty"`    // "MARKET" (default) or "LIMIT"
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"` // LIMIT only
}

// FailSessionRequest is the JSON body for POST /sessions/{sessionID}/fail.
type FailSessionRequest struct {
	Reason string `json:"reason"`
}

// RegisterRoutes mounts the session and order endpoints on r.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", s.HandleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.HandleGetSession)
		r.Post("/start", s.HandleStartSession)
		r.Post("/complete", s.HandleCompleteSession)
		r.Post("/cancel", s.HandleCancelSession)
		r.Post("/fail", s.HandleFailSession)
		r.Post("/orders", s.HandlePlaceOrder)
		r.Get("/orders", s.HandleListOrders)
		r.Get("/portfolio", s.HandleGetPortfolio)
	})
}

// --- HTTP Handlers ---

// HandleCreateSession handles POST /api/v1/sessions
func (s *Service) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, model.CodeInvalidArgument, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.CreateSession(r.Context(), CreateSessionCommand{
		UserID:      req.UserID,
		ChallengeID: req.ChallengeID,
		SeedBalance: req.SeedBalance,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// HandleGetSession handles GET /api/v1/sessions/{sessionID}
func (s *Service) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleStartSession handles POST /api/v1/sessions/{sessionID}/start
func (s *Service) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.StartSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleCompleteSession handles POST /api/v1/sessions/{sessionID}/complete
func (s *Service) HandleCompleteSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.CompleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCancelSession handles POST /api/v1/sessions/{sessionID}/cancel
func (s *Service) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.CancelSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleFailSession handles POST /api/v1/sessions/{sessionID}/fail
func (s *Service) HandleFailSession(w http.ResponseWriter, r *http.Request) {
	var req FailSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, model.CodeInvalidArgument, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	sess, err := s.FailSession(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandlePlaceOrder handles POST /api/v1/sessions/{sessionID}/orders
// Executes immediately and returns the fill and the remaining balance.
func (s *Service) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, model.CodeInvalidArgument, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.PlaceOrder(r.Context(), PlaceOrderCommand{
		SessionID:     chi.URLParam(r, "sessionID"),
		InstrumentKey: req.InstrumentKey,
		Side:          model.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		Quantity:      req.Quantity,
		Category:      model.Category(strings.ToUpper(strings.TrimSpace(req.Category))),
		LimitPrice:    req.LimitPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleListOrders handles GET /api/v1/sessions/{sessionID}/orders
func (s *Service) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.ListOrders(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleGetPortfolio handles GET /api/v1/sessions/{sessionID}/portfolio
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.GetPortfolio(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// statusFor maps a reason code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeInvalidState:
		return http.StatusConflict
	case model.CodeInsufficientFunds, model.CodeInsufficientPosition:
		return http.StatusUnprocessableEntity
	case model.CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError writes a JSON error response carrying err's reason code.
// Infrastructure details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	code := model.Code(err)
	msg := err.Error()
	if code == model.CodeInfrastructure {
		msg = "service temporarily unavailable"
	}
	writeMessage(w, code, msg, statusFor(code))
}

func writeMessage(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
