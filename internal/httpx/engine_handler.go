package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/supplytrace/go-supplytrace/internal/authsig"
	"github.com/supplytrace/go-supplytrace/internal/catalog"
	"github.com/supplytrace/go-supplytrace/internal/checkout"
	"github.com/supplytrace/go-supplytrace/internal/inventory"
	"github.com/supplytrace/go-supplytrace/internal/redisx"
)

// EngineHandler exposes the catalog, ledgers, and transaction engine over
// HTTP. The acting identity arrives in X-Actor-Id; the auth layer upstream
// owns authentication, the engine trusts it.
type EngineHandler struct {
	Catalog *catalog.Service
	Ledger  *inventory.Service
	Engine  *checkout.Engine
	Signer  *authsig.Signer
	Redis   *redis.Client
}

func (h *EngineHandler) Register(r *chi.Mux) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Patch("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})

	r.Route("/units", func(r chi.Router) {
		r.Post("/", h.produceUnits)
		r.Post("/dispatch", h.dispatchUnits)
		r.Post("/{id}/defective", h.markDefective)
		r.Delete("/{id}", h.deleteUnit)
		r.Get("/{id}/qr", h.issueQR)
	})

	r.Get("/stock", h.availableStock)
	r.Post("/stock/grant", h.grantStock)
	r.Post("/stock/transfer", h.transferStock)

	r.Put("/cart", h.putCartItem)
	r.Get("/cart", h.getCart)
	r.Post("/checkout", h.checkoutHandler)
	r.Post("/checkout/cart", h.checkoutCart)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/confirm", h.confirmOrder)
		r.Post("/{id}/deliver", h.deliverOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/return", h.requestReturn)
		r.Post("/{id}/return/accept", h.acceptReturn)
		r.Post("/{id}/return/decline", h.declineReturn)
	})

	r.Get("/verify/qr", h.verifyQR)
	r.Post("/verify/unit", h.verifyUnit)

	r.Put("/settings/serial-range", h.updateSerialRange)
}

func actor(r *http.Request) string { return r.Header.Get("X-Actor-Id") }

func reqCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var ve *inventory.ValidationError
	var sc *inventory.StateConflictError
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ve.Error()})
	case errors.As(err, &sc):
		writeJSON(w, http.StatusConflict, map[string]string{"error": sc.Error()})
	case errors.Is(err, inventory.ErrRangeExhausted):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

// ---- catalog ----

type createProductReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Serialized  bool   `json:"serialized"`
}

func (h *EngineHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	p, err := h.Catalog.Create(ctx, actor(r), req.Name, req.Description, req.Serialized)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *EngineHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	p, err := h.Catalog.UpdateMeta(ctx, chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *EngineHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Catalog.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	ps, err := h.Catalog.List(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// ---- units ----

type produceUnitsReq struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
}

func (h *EngineHandler) produceUnits(w http.ResponseWriter, r *http.Request) {
	var req produceUnitsReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	units, err := h.Ledger.ProduceUnits(ctx, actor(r), req.ProductID, req.Count)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, units)
}

type dispatchReq struct {
	UnitIDs    []string `json:"unit_ids"`
	ResellerID string   `json:"reseller_id"`
}

func (h *EngineHandler) dispatchUnits(w http.ResponseWriter, r *http.Request) {
	var req dispatchReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.Dispatch(ctx, actor(r), req.UnitIDs, req.ResellerID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) markDefective(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.MarkDefective(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) deleteUnit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.DeleteUnit(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- stock ----

func (h *EngineHandler) availableStock(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = actor(r)
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	sum, err := h.Ledger.AvailableStock(ctx, owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type grantStockReq struct {
	ProductID string `json:"product_id"`
	OwnerID   string `json:"owner_id"`
	Qty       int    `json:"qty"`
}

func (h *EngineHandler) grantStock(w http.ResponseWriter, r *http.Request) {
	var req grantStockReq
	if !decode(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = actor(r)
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.GrantStock(ctx, req.ProductID, req.OwnerID, req.Qty); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferStockReq struct {
	ProductID string `json:"product_id"`
	ToID      string `json:"to_id"` // empty = discard
	Qty       int    `json:"qty"`
}

func (h *EngineHandler) transferStock(w http.ResponseWriter, r *http.Request) {
	var req transferStockReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.TransferStock(ctx, req.ProductID, actor(r), req.ToID, req.Qty); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- cart & checkout ----

type cartItemReq struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id,omitempty"`
	Qty       int    `json:"qty"`
}

func (h *EngineHandler) putCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	err := h.Engine.PutCartItem(ctx, inventory.CartItem{
		BuyerID: actor(r), ProductID: req.ProductID, SellerID: req.SellerID, Qty: req.Qty,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	items, err := h.Engine.Cart(ctx, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type checkoutReq struct {
	Lines []checkout.Line `json:"lines"`
}

type checkoutResp struct {
	Orders     []inventory.Order `json:"orders"`
	Idempotent bool              `json:"idempotent"`
}

// checkoutHandler settles the posted lines. An Idempotency-Key header makes
// retries safe: the first committed result is cached and replayed.
func (h *EngineHandler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, k)
		if cached, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && cached != "" {
			var orders []inventory.Order
			_ = json.Unmarshal([]byte(cached), &orders)
			writeJSON(w, http.StatusOK, checkoutResp{Orders: orders, Idempotent: true})
			return
		}
	}

	orders, err := h.Engine.Checkout(ctx, actor(r), req.Lines)
	if err != nil {
		writeErr(w, err)
		return
	}
	if idemKey != "" {
		b, _ := json.Marshal(orders)
		_ = h.Redis.Set(ctx, idemKey, b, redisx.TTLIdempotency).Err()
	}
	writeJSON(w, http.StatusCreated, checkoutResp{Orders: orders})
}

func (h *EngineHandler) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	orders, err := h.Engine.CheckoutCart(ctx, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResp{Orders: orders})
}

// ---- orders ----

func (h *EngineHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	orders, err := h.Engine.ListByParty(ctx, actor(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *EngineHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := reqCtx(r)
	defer cancel()

	// cache first, store second; both paths serve the same order record
	key := fmt.Sprintf(redisx.KeyOrder, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, err := h.Engine.Get(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	body, _ := json.Marshal(o)
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, o)
}

type confirmReq struct {
	UnitIDs []string `json:"unit_ids,omitempty"`
}

func (h *EngineHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.Confirm(ctx, actor(r), chi.URLParam(r, "id"), req.UnitIDs); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.Deliver(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.RequestReturn(ctx, actor(r), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) acceptReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.AcceptReturn(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) declineReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Engine.DeclineReturn(ctx, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- authenticity ----

func (h *EngineHandler) issueQR(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	var payload string
	err := h.Engine.Store.View(ctx, func(tx inventory.Tx) error {
		u, err := tx.Unit(chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		payload = h.Signer.SignSerial(u.Serial)
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payload": payload})
}

type verifyResp struct {
	Valid  bool   `json:"valid"`
	Serial string `json:"serial,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// verifyQR reports a verdict with a reason; a bad payload is a negative
// verification, not an error.
func (h *EngineHandler) verifyQR(w http.ResponseWriter, r *http.Request) {
	serial, err := h.Signer.VerifySerial(r.URL.Query().Get("payload"))
	if err != nil {
		writeJSON(w, http.StatusOK, verifyResp{Valid: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyResp{Valid: true, Serial: serial})
}

type verifyUnitReq struct {
	Serial   string `json:"serial"`
	AuthCode string `json:"auth_code"`
}

func (h *EngineHandler) verifyUnit(w http.ResponseWriter, r *http.Request) {
	var req verifyUnitReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	ok, err := h.Ledger.VerifyUnit(ctx, req.Serial, req.AuthCode)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeJSON(w, http.StatusOK, verifyResp{Valid: false, Reason: "unknown serial"})
			return
		}
		writeErr(w, err)
		return
	}
	resp := verifyResp{Valid: ok, Serial: req.Serial}
	if !ok {
		resp.Reason = "authenticity code mismatch"
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- settings ----

type serialRangeReq struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (h *EngineHandler) updateSerialRange(w http.ResponseWriter, r *http.Request) {
	var req serialRangeReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := h.Ledger.UpdateSerialRange(ctx, req.Start, req.End); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
