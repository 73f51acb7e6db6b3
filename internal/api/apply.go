package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/audit"
	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

type applyRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	IdempotencyKey string
	Meta           map[string]any

	hasUserID bool
	hasAmount bool
}

func decodeApplyRequest(data []byte) (*applyRequest, error) {
	var req applyRequest
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "user_id")
			}
			req.UserID, req.hasUserID = v, true
		case "amount":
			n, err := d.Num()
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			v, err := decimal.NewFromString(n.String())
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			req.Amount, req.hasAmount = v, true
		case "idempotency_key":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "idempotency_key")
			}
			req.IdempotencyKey = v
		case "meta":
			raw, err := d.Raw()
			if err != nil {
				return errors.Wrap(err, "meta")
			}
			if err := json.Unmarshal(raw, &req.Meta); err != nil {
				return errors.Wrap(err, "meta")
			}
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
	if !req.hasAmount {
		return nil, errors.New("amount is required")
	}
	return &req, nil
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	req, err := decodeApplyRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Apply(ctx, req.UserID, req.Amount, discount.ApplyOptions{
		IdempotencyKey: req.IdempotencyKey,
		Meta:           req.Meta,
	})
	if err != nil {
		switch {
		case errors.Is(err, discount.ErrInvalidAmount),
			errors.Is(err, discount.ErrIdempotencyKeyTooLong):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeInternalError(ctx, w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.FieldStart("original")
		encDecimal(e, res.Original)
		e.FieldStart("final")
		encDecimal(e, res.Final)
		e.FieldStart("audit_id")
		e.Int64(res.AuditID)
		e.FieldStart("already_executed")
		e.Bool(res.AlreadyExecuted)
		e.FieldStart("applied")
		e.ArrStart()
		for _, entry := range res.Applied {
			encAppliedEntry(e, entry)
		}
		e.ArrEnd()
	})
}

func encAppliedEntry(e *jx.Encoder, entry audit.AppliedEntry) {
	e.ObjStart()
	e.FieldStart("discount_id")
	e.Int64(entry.DiscountID)
	e.FieldStart("type")
	e.Str(entry.Type)
	e.FieldStart("value")
	encDecimal(e, entry.Value)
	e.FieldStart("amount")
	encDecimal(e, entry.Amount)
	e.FieldStart("after")
	encDecimal(e, entry.After)
	e.ObjEnd()
}
