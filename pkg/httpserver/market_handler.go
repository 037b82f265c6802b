package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/mselser95/predict-session/internal/coordinator"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/pricing"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// MarketService is the market lifecycle API the handler serves.
type MarketService interface {
	CreateMarket(ctx context.Context, req *coordinator.CreateMarketRequest) (*types.Market, error)
	SubmitIntent(ctx context.Context, in *intent.Intent) (*coordinator.Receipt, error)
	GetMarketState(marketID string) (*coordinator.Snapshot, error)
	GetPosition(marketID string, participant common.Address) (types.Position, error)
	Quote(marketID string, side types.Side, shares types.Shares, spend types.Amount) (*pricing.Quote, error)
	CloseMarket(ctx context.Context, marketID string) error
	MarketIDs() []string
}

// MarketHandler handles HTTP requests for market sessions.
type MarketHandler struct {
	markets MarketService
	logger  *zap.Logger
}

// NewMarketHandler creates a new market handler.
func NewMarketHandler(markets MarketService, logger *zap.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Class     string `json:"class,omitempty"`
	Retryable bool   `json:"retryable"`
}

// MarketListResponse lists open market ids.
type MarketListResponse struct {
	Markets []string `json:"markets"`
}

// Routes mounts the handler under r.
func (h *MarketHandler) Routes(r chi.Router) {
	r.Route("/api/markets", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Route("/{marketID}", func(r chi.Router) {
			r.Get("/", h.HandleState)
			r.Post("/intents", h.HandleSubmit)
			r.Get("/positions/{address}", h.HandlePosition)
			r.Get("/quote", h.HandleQuote)
			r.Post("/close", h.HandleClose)
		})
	})
}

// HandleList handles GET /api/markets.
func (h *MarketHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids := h.markets.MarketIDs()
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, http.StatusOK, MarketListResponse{Markets: ids})
}

// HandleCreate handles POST /api/markets.
func (h *MarketHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateMarketRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), &req)
	if err != nil {
		h.writeIntentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, market)
}

// HandleState handles GET /api/markets/{marketID}.
func (h *MarketHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.markets.GetMarketState(chi.URLParam(r, "marketID"))
	if err != nil {
		h.writeIntentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleSubmit handles POST /api/markets/{marketID}/intents. An intent
// without a market id targets the market in the path.
func (h *MarketHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var in intent.Intent
	if err := h.decode(w, r, &in); err != nil {
		if types.CodeOf(err) == "" {
			err = types.NewIntentError(types.CodeMalformedIntent, "decode intent: %v", err)
		}
		h.writeIntentError(w, err)
		return
	}
	if in.MarketID == "" {
		in.MarketID = marketID
	}
	if in.MarketID != marketID {
		h.writeIntentError(w, types.NewIntentError(types.CodeMalformedIntent,
			"intent targets market %s, path names %s", in.MarketID, marketID))
		return
	}

	h.logger.Debug("intent-received",
		zap.String("market-id", marketID),
		zap.String("kind", string(in.Kind)),
		zap.Uint64("base-version", in.BaseVersion))

	receipt, err := h.markets.SubmitIntent(r.Context(), &in)
	if err != nil {
		h.writeIntentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// HandlePosition handles GET /api/markets/{marketID}/positions/{address}.
func (h *MarketHandler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		h.writeError(w, "invalid participant address", http.StatusBadRequest)
		return
	}

	pos, err := h.markets.GetPosition(chi.URLParam(r, "marketID"), common.HexToAddress(address))
	if err != nil {
		h.writeIntentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pos)
}

// HandleQuote handles GET /api/markets/{marketID}/quote?side=yes&shares=10
// or &spend=5.
func (h *MarketHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var side types.Side
	if err := side.UnmarshalText([]byte(query.Get("side"))); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		shares types.Shares
		spend  types.Amount
		err    error
	)
	if v := query.Get("shares"); v != "" {
		if shares, err = types.ParseShares(v); err != nil {
			h.writeError(w, "invalid shares: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := query.Get("spend"); v != "" {
		if spend, err = types.ParseAmount(v); err != nil {
			h.writeError(w, "invalid spend: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	q, err := h.markets.Quote(chi.URLParam(r, "marketID"), side, shares, spend)
	if err != nil {
		h.writeIntentError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// HandleClose handles POST /api/markets/{marketID}/close.
func (h *MarketHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.markets.CloseMarket(r.Context(), chi.URLParam(r, "marketID")); err != nil {
		h.writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MarketHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var ie *types.IntentError
	if !errors.As(err, &ie) {
		return http.StatusInternalServerError
	}

	switch ie.Code {
	case types.CodeStaleVersion:
		return http.StatusConflict
	case types.CodeSignatureTimeout, types.CodeOnChainConfirmationFailed:
		return http.StatusServiceUnavailable
	case types.CodeUnknownMarket:
		return http.StatusNotFound
	case types.CodeInvariantViolation, types.CodeSessionHalted:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *MarketHandler) writeIntentError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      string(types.CodeOf(err)),
		Class:     types.ClassOf(err).String(),
		Retryable: types.IsRetryable(err),
	}
	if status == http.StatusInternalServerError && resp.Code == "" {
		h.logger.Error("request-failed", zap.Error(err))
		resp.Error = "internal error"
	}
	h.writeJSON(w, status, resp)
}

// writeError writes a JSON error response.
func (h *MarketHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *MarketHandler) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}
