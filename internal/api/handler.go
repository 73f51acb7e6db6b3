// Package api exposes the discount engine over HTTP with JSON bodies.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

// maxBodySize bounds request bodies read into memory.
const maxBodySize = 1 << 20

// Engine is the discount operations surface the handler delegates to.
type Engine interface {
	Apply(ctx context.Context, userID int64, amount decimal.Decimal, opts discount.ApplyOptions) (*discount.Result, error)
	Assign(ctx context.Context, userID, discountID int64) (*discount.Assignment, error)
	Revoke(ctx context.Context, userID, discountID int64) (bool, error)
	EligibleFor(ctx context.Context, userID, discountID int64) (bool, error)
	EligibleForUser(ctx context.Context, userID int64) ([]discount.Discount, error)
}

var _ Engine = (*discount.Engine)(nil)

// Handler serves the discount API routes.
type Handler struct {
	engine Engine
}

// NewHandler constructs a Handler delegating to the given engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes registers all API endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/discounts/apply", h.apply)
	mux.HandleFunc("POST /api/discounts/assign", h.assign)
	mux.HandleFunc("POST /api/discounts/revoke", h.revoke)
	mux.HandleFunc("GET /api/discounts/eligible", h.eligible)
}

// readBody drains the request body up to maxBodySize.
func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

// writeJSON streams an object built by fn as the response body.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	e.ObjStart()
	fn(&e)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError renders the {code, message} error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
	})
}

// writeInternalError logs the error and renders an opaque 500.
func writeInternalError(ctx context.Context, w http.ResponseWriter, err error) {
	zctx.From(ctx).Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// encDecimal writes a decimal as a bare JSON number.
func encDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}
