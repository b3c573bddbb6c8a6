// Package httpapi exposes the ledger operations over REST for off-ledger
// collaborators. The caller's ledger address is taken from the
// X-Caller-Address header; authenticating that identity is the deployment's
// concern, not this layer's.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	app "github.com/insightmesh/market_layer/internal/app"
	"github.com/insightmesh/market_layer/internal/app/core"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
	marketsvc "github.com/insightmesh/market_layer/internal/app/services/market"
	tokensvc "github.com/insightmesh/market_layer/internal/app/services/token"
	"github.com/insightmesh/market_layer/internal/events"
)

// CallerHeader names the header carrying the caller's ledger address.
const CallerHeader = "X-Caller-Address"

// handler bundles HTTP endpoints for the two ledgers.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/token/", h.token)
	mux.HandleFunc("/insights", h.insights)
	mux.HandleFunc("/insights/", h.insightResources)
	mux.HandleFunc("/reputation/", h.reputation)
	mux.HandleFunc("/categories/", h.categories)
	mux.HandleFunc("/purchases", h.purchases)
	mux.HandleFunc("/stats", h.stats)
	mux.HandleFunc("/admin/", h.admin)
	mux.HandleFunc("/events", h.events)
	mux.HandleFunc("/ws/events", h.eventStream)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) token(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/token"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	caller := callerAddress(r)

	switch parts[0] {
	case "mint":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			To     string `json:"to"`
			Amount string `json:"amount"`
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Token.Mint(r.Context(), caller, token.Address(payload.To), amount, payload.Reason); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"to": payload.To, "amount": amount.String()})

	case "burn":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Holder string `json:"holder"`
			Amount string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Holder != "" {
			err = h.app.Token.BurnFrom(r.Context(), caller, token.Address(payload.Holder), amount)
		} else {
			err = h.app.Token.Burn(r.Context(), caller, amount)
		}
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "transfer":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			From   string `json:"from"`
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.From != "" {
			err = h.app.Token.TransferFrom(r.Context(), caller, token.Address(payload.From), token.Address(payload.To), amount)
		} else {
			err = h.app.Token.Transfer(r.Context(), caller, token.Address(payload.To), amount)
		}
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "approve":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Spender string `json:"spender"`
			Amount  string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Token.Approve(r.Context(), caller, token.Address(payload.Spender), amount); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "balance":
		if r.Method != http.MethodGet || len(parts) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		balance := h.app.Token.BalanceOf(r.Context(), token.Address(parts[1]))
		writeJSON(w, http.StatusOK, map[string]string{"address": parts[1], "balance": balance.String()})

	case "supply":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"total_supply": h.app.Token.TotalSupply(r.Context()).String(),
			"cap":          h.app.Token.Cap().String(),
		})

	case "minters":
		if len(parts) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		addr := token.Address(parts[1])
		switch r.Method {
		case http.MethodPost:
			if err := h.app.Token.AddMinter(r.Context(), caller, addr); err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := h.app.Token.RemoveMinter(r.Context(), caller, addr); err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]bool{"minter": h.app.Token.IsMinter(r.Context(), addr)})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case "admin":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			To string `json:"to"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Token.TransferAdmin(r.Context(), caller, token.Address(payload.To)); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) insights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Category    string `json:"category"`
			Price       string `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		price, err := parseAmount(payload.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := h.app.Market.CreateListing(r.Context(), callerAddress(r), payload.Title, payload.Description, payload.Category, price)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		category := r.URL.Query().Get("category")
		if category == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("category query parameter required"))
			return
		}
		listings, err := h.app.Market.GetListingsByCategory(r.Context(), category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, listings)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) insightResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/insights"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid insight id %q", parts[0]))
		return
	}
	caller := callerAddress(r)

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		insight, err := h.app.Market.GetListing(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, insight)
		return
	}

	switch parts[1] {
	case "purchase":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		record, err := h.app.Market.Purchase(r.Context(), caller, id)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, record)

	case "rate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Rating int `json:"rating"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Market.Rate(r.Context(), caller, id, payload.Rating); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "price":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Price string `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		price, err := parseAmount(payload.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Market.UpdatePrice(r.Context(), caller, id, price); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "activate", "deactivate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.app.Market.SetActive(r.Context(), caller, id, parts[1] == "activate"); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "purchases":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		history, err := h.app.Market.GetPurchaseHistory(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, history)

	case "ratings":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ratings, err := h.app.Market.GetRatings(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ratings)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) reputation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	addr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reputation"), "/")
	if addr == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rep, err := h.app.Market.GetReputation(r.Context(), token.Address(addr))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/categories"), "/")
	if name == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	stats, err := h.app.Market.GetCategoryStats(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) purchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all, err := h.app.Market.GetGlobalPurchases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	total, err := h.app.Market.GetTotalListings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_listings": total,
		"fee_percent":    h.app.Market.FeePercent(),
		"paused":         h.app.Market.IsPaused(),
		"total_supply":   h.app.Token.TotalSupply(r.Context()).String(),
		"supply_cap":     h.app.Token.Cap().String(),
	})
}

func (h *handler) admin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin"), "/")
	caller := callerAddress(r)

	switch action {
	case "fee":
		var payload struct {
			Percent uint64 `json:"percent"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Market.SetPlatformFeePercent(r.Context(), caller, payload.Percent); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "withdraw":
		amount, err := h.app.Market.WithdrawPlatformFees(r.Context(), caller)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})

	case "pause":
		if err := h.app.Market.Pause(r.Context(), caller); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "unpause":
		if err := h.app.Market.Unpause(r.Context(), caller); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid event count %q", raw))
			return
		}
		n = parsed
	}
	if kind := r.URL.Query().Get("type"); kind != "" {
		writeJSON(w, http.StatusOK, h.app.Events.RecentByType(events.Type(kind), n))
		return
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(n))
}

// Helpers ---------------------------------------------------------------------

func callerAddress(r *http.Request) token.Address {
	return token.Address(strings.TrimSpace(r.Header.Get(CallerHeader)))
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps ledger error kinds onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, marketsvc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketsvc.ErrUnauthorized), errors.Is(err, tokensvc.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, marketsvc.ErrInsufficientFunds),
		errors.Is(err, tokensvc.ErrInsufficientBalance),
		errors.Is(err, tokensvc.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, marketsvc.ErrPaused),
		errors.Is(err, marketsvc.ErrInactive),
		errors.Is(err, marketsvc.ErrSelfPurchase),
		errors.Is(err, marketsvc.ErrNotPurchased),
		errors.Is(err, marketsvc.ErrNoFees),
		errors.Is(err, core.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, marketsvc.ErrInvalidInput),
		errors.Is(err, marketsvc.ErrInvalidRating),
		errors.Is(err, marketsvc.ErrFeeTooHigh),
		errors.Is(err, tokensvc.ErrInvalidRecipient),
		errors.Is(err, tokensvc.ErrInvalidAmount),
		errors.Is(err, tokensvc.ErrSupplyExceeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
