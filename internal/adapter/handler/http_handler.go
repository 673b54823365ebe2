package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

// OrderService is the slice of the core the HTTP boundary consumes.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, lines []domain.PurchaseLine) (domain.Order, error)
	ListOrders(ctx context.Context, page, pageSize int, search string) (domain.OrderPage, error)
}

type HTTPHandler struct {
	orders OrderService
	logger *zap.Logger
}

func NewHTTPHandler(orders OrderService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orders: orders, logger: logger}
}

func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	return r
}

type createOrderRequest struct {
	UserID string            `json:"userId"`
	Items  []createOrderItem `json:"items"`
}

type createOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	UserID     string              `json:"userId"`
	TotalCents int64               `json:"totalCents"`
	Status     string              `json:"status"`
	CreatedAt  string              `json:"createdAt"`
	Lines      []orderLineResponse `json:"lines"`
}

type orderLineResponse struct {
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type listOrdersResponse struct {
	Data       []orderResponse `json:"data"`
	Pagination pagination      `json:"pagination"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 20)
	search := r.URL.Query().Get("search")

	result, err := h.orders.ListOrders(r.Context(), page, limit, search)
	if err != nil {
		h.logger.Error("list orders failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:  "internal error",
			Detail: err.Error(),
		})
		return
	}

	data := make([]orderResponse, 0, len(result.Orders))
	for _, o := range result.Orders {
		data = append(data, toOrderResponse(o))
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{
		Data: data,
		Pagination: pagination{
			Page:       result.Page,
			Limit:      result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	})
}

func (h *HTTPHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	lines := make([]domain.PurchaseLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.PurchaseLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.PlaceOrder(r.Context(), req.UserID, lines)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Detail: err.Error()})
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "insufficient stock", Detail: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Detail: err.Error()})
	default:
		h.logger.Error("place order failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Detail: err.Error()})
	}
}

func (h *HTTPHandler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		TotalCents: o.TotalCents,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt.Format(timeFormat),
		Lines:      make([]orderLineResponse, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductID:      l.ProductID,
			ProductName:    l.ProductName,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
