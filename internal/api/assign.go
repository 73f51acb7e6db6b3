package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

type pairRequest struct {
	UserID     int64
	DiscountID int64

	hasUserID     bool
	hasDiscountID bool
}

func decodePairRequest(data []byte) (*pairRequest, error) {
	var req pairRequest
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "user_id")
			}
			req.UserID, req.hasUserID = v, true
		case "discount_id":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "discount_id")
			}
			req.DiscountID, req.hasDiscountID = v, true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !req.hasUserID {
		return nil, errors.New("user_id is required")
	}
	if !req.hasDiscountID {
		return nil, errors.New("discount_id is required")
	}
	return &req, nil
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	req, err := decodePairRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.engine.Assign(ctx, req.UserID, req.DiscountID)
	if err != nil {
		if errors.Is(err, discount.ErrNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeInternalError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("assignment_id")
		e.Int64(a.ID)
		e.FieldStart("user_id")
		e.Int64(a.UserID)
		e.FieldStart("discount_id")
		e.Int64(a.DiscountID)
		e.FieldStart("assigned_at")
		e.Str(a.AssignedAt.Format(time.RFC3339))
		e.FieldStart("usage_count")
		e.Int(a.UsageCount)
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	req, err := decodePairRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.engine.Revoke(ctx, req.UserID, req.DiscountID)
	if err != nil {
		writeInternalError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("revoked")
		e.Bool(ok)
	})
}

func (h *Handler) eligible(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	// With discount_id the endpoint answers a single eligibility question;
	// without it, it lists all currently eligible discounts.
	if raw := q.Get("discount_id"); raw != "" {
		discountID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid discount_id")
			return
		}

		ok, err := h.engine.EligibleFor(ctx, userID, discountID)
		if err != nil {
			if errors.Is(err, discount.ErrNotFound) {
				writeError(w, http.StatusNotFound, "discount not found")
				return
			}
			writeInternalError(ctx, w, err)
			return
		}

		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.FieldStart("eligible")
			e.Bool(ok)
		})
		return
	}

	eligible, err := h.engine.EligibleForUser(ctx, userID)
	if err != nil {
		writeInternalError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("discounts")
		e.ArrStart()
		for _, d := range eligible {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(d.ID)
			e.FieldStart("code")
			e.Str(d.Code)
			e.FieldStart("type")
			e.Str(string(d.Type))
			e.FieldStart("value")
			encDecimal(e, d.Value)
			e.FieldStart("priority")
			e.Int(d.Priority)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}
