// Package httpapi — HTTP-адаптер команд и запросов по заказам.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-cqrs/internal/domain"
	"github.com/vladislavdragonenkov/orders-cqrs/internal/service/command"
)

const (
	maxBodyBytes = 1 << 20

	// FieldBody указывается в нарушении, если тело запроса не разобрано.
	FieldBody = "body"
)

// CommandExecutor выполняет команду создания заказа.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd domain.CreateOrderCommand) (command.Result, error)
}

// OrderQueries отвечает на запросы чтения.
type OrderQueries interface {
	GetOrderByID(ctx context.Context, id int64) (domain.OrderView, error)
	ListOrderSummaries(ctx context.Context) ([]domain.OrderSummary, error)
}

// CreateOrderRequest описывает тело POST /api/orders.
type CreateOrderRequest struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Status    string  `json:"status"`
	TotalCost float64 `json:"totalCost"`
}

// Command переводит запрос в доменную команду.
func (r CreateOrderRequest) Command() domain.CreateOrderCommand {
	return domain.CreateOrderCommand{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Status:    domain.ParseOrderStatus(r.Status),
		TotalCost: r.TotalCost,
	}
}

// ErrorResponse возвращается в ответах 404 и 500.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler обслуживает /api/orders.
type Handler struct {
	commands CommandExecutor
	queries  OrderQueries
	logger   *log.Entry
}

// NewHandler создаёт HTTP-обработчик.
func NewHandler(commands CommandExecutor, queries OrderQueries, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Handler{commands: commands, queries: queries, logger: logger}
}

// CreateOrder принимает команду и возвращает 201 с DTO и Location.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, []domain.FieldViolation{{Field: FieldBody, Message: err.Error()}})
		return
	}

	result, err := h.commands.Execute(r.Context(), req.Command())
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, verr.Violations)
			return
		}
		h.logger.WithError(err).WithField("state", result.State).Error("create order failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal"})
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/orders/%d", result.DTO.ID))
	writeJSON(w, http.StatusCreated, result.DTO)
}

// GetOrderByID возвращает проекцию заказа.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, []domain.FieldViolation{{Field: "id", Message: "id must be a positive integer"}})
		return
	}

	view, err := h.queries.GetOrderByID(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
	case err != nil:
		h.logger.WithError(err).WithField("order_id", id).Error("get order failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal"})
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// ListOrders возвращает краткие записи всех спроецированных заказов.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.queries.ListOrderSummaries(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("list orders failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal"})
		return
	}
	if summaries == nil {
		summaries = []domain.OrderSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger пишет access-лог через logrus.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := newStatusRecorder(w)
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(started).String(),
			}).Debug("http request")
		})
	}
}
