package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/usecase"
)

// streamBuffer is how many progress events may queue before new ones are dropped
const streamBuffer = 64

// ShoppingUsecase is the turn surface the handlers depend on
type ShoppingUsecase interface {
	RunTurn(ctx context.Context, request *domain.TurnRequest, observer domain.ProgressObserver) (*domain.TurnResult, error)
	ShowMore(ctx context.Context, turnID string) ([]domain.Product, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	shoppingService ShoppingUsecase
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(shoppingService ShoppingUsecase, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{shoppingService: shoppingService, logger: logger}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "shoplens-backend",
		"version": "1.0.0",
	})
}

// Search runs one research turn and answers with the final result
func (h *Handler) Search(c *gin.Context) {
	if h.shoppingService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shopping service not configured"})
		return
	}

	var req domain.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   usecase.MessageInvalidRequest,
			"details": err.Error(),
		})
		return
	}

	result, err := h.shoppingService.RunTurn(c.Request.Context(), &req, nil)
	if err != nil {
		h.logger.Warn("turn failed", zap.String("query", req.Query), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": usecase.UserMessage(err)})
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchStream runs one research turn and streams progress as server-sent
// events: "log" and "canvas" while running, then one "result" or "error".
func (h *Handler) SearchStream(c *gin.Context) {
	if h.shoppingService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shopping service not configured"})
		return
	}

	var req domain.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   usecase.MessageInvalidRequest,
			"details": err.Error(),
		})
		return
	}

	observer := newStreamObserver(streamBuffer)
	done := make(chan turnOutcome, 1)
	ctx := c.Request.Context()
	go func() {
		result, err := h.shoppingService.RunTurn(ctx, &req, observer)
		done <- turnOutcome{result: result, err: err}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-observer.events:
			c.SSEvent(ev.name, ev.data)
			return true
		case out := <-done:
			observer.drain(func(ev streamEvent) { c.SSEvent(ev.name, ev.data) })
			if out.err != nil {
				h.logger.Warn("streamed turn failed", zap.String("query", req.Query), zap.Error(out.err))
				c.SSEvent("error", gin.H{"error": usecase.UserMessage(out.err), "status": statusFor(out.err)})
				return false
			}
			c.SSEvent("result", out.result)
			return false
		case <-ctx.Done():
			return false
		}
	})
}

// ShowMore returns the buffered products of an earlier turn
func (h *Handler) ShowMore(c *gin.Context) {
	if h.shoppingService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shopping service not configured"})
		return
	}

	turnID := c.Param("turnId")
	products, err := h.shoppingService.ShowMore(c.Request.Context(), turnID)
	if err != nil {
		if errors.Is(err, domain.ErrTurnNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No earlier results for this turn"})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": usecase.UserMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"turnId":   turnID,
		"message":  "Show more products",
		"products": products,
	})
}

// statusFor maps a turn failure to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrContextLengthExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

type turnOutcome struct {
	result *domain.TurnResult
	err    error
}

type streamEvent struct {
	name string
	data interface{}
}

// streamObserver queues progress for the SSE writer and drops events when the
// queue is full so the turn never blocks on a slow client
type streamObserver struct {
	events chan streamEvent
}

func newStreamObserver(size int) *streamObserver {
	return &streamObserver{events: make(chan streamEvent, size)}
}

func (o *streamObserver) OnLog(entry domain.LogEntry) {
	o.offer(streamEvent{name: "log", data: entry})
}

func (o *streamObserver) OnCanvas(status domain.CanvasStatus) {
	o.offer(streamEvent{name: "canvas", data: status})
}

func (o *streamObserver) offer(ev streamEvent) {
	select {
	case o.events <- ev:
	default:
	}
}

func (o *streamObserver) drain(write func(streamEvent)) {
	for {
		select {
		case ev := <-o.events:
			write(ev)
		default:
			return
		}
	}
}
