package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"pasal/internal/catalog"
	"pasal/internal/domain/carts"
)

type cartLineView struct {
	VariantKey string `json:"variant_key"`
	carts.CartLine
}

type cartView struct {
	Lines         []cartLineView `json:"lines"`
	SubtotalCents int64          `json:"subtotal_cents"`
}

func toCartView(cart *carts.Cart) cartView {
	view := cartView{Lines: []cartLineView{}, SubtotalCents: cart.SubtotalCents()}
	for _, l := range cart.Lines {
		view.Lines = append(view.Lines, cartLineView{VariantKey: carts.VariantKey(l), CartLine: l})
	}
	return view
}

func (app *application) getCartHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	cart, err := app.carts.Load(r.Context(), owner)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, toCartView(cart)); err != nil {
		app.internalServerError(w, r, err)
	}
}

type addCartLinePayload struct {
	ProductID int64                    `json:"product_id" validate:"required,gt=0"`
	Quantity  int                      `json:"quantity" validate:"required,gt=0,lte=99"`
	Size      *string                  `json:"size,omitempty"`
	Color     *string                  `json:"color,omitempty"`
	Variants  []carts.VariantSelection `json:"variants,omitempty"`
}

// addCartLineHandler snapshots the product from the catalog and merges the
// line into the cart. Prices always come from the catalog, never the client.
func (app *application) addCartLineHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	var payload addCartLinePayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	product, err := app.catalog.GetProduct(r.Context(), payload.ProductID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if !product.Active {
		app.unprocessableEntityResponse(w, r, fmt.Errorf("product %d is no longer available", product.ID))
		return
	}
	if product.Stock <= 0 {
		app.unprocessableEntityResponse(w, r, fmt.Errorf("product %d is out of stock", product.ID))
		return
	}

	unitPrice := product.PriceCents
	for _, v := range payload.Variants {
		if v.PriceCentsOverride != nil {
			unitPrice = *v.PriceCentsOverride
		}
	}

	line := carts.CartLine{
		ProductID:      product.ID,
		ProductName:    product.Name,
		Quantity:       payload.Quantity,
		SizeLabel:      payload.Size,
		ColorLabel:     payload.Color,
		Variants:       payload.Variants,
		UnitPriceCents: unitPrice,
		ImageURL:       product.ImageURL,
		AddedAt:        time.Now(),
	}

	if err := app.mutateCart(r, owner, func(lines []carts.CartLine) []carts.CartLine {
		return carts.AddLine(lines, line)
	}); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.respondWithCart(w, r, owner, http.StatusCreated)
}

type updateCartLinePayload struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=99"`
}

func (app *application) updateCartLineHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	key, err := url.PathUnescape(chi.URLParam(r, "variantKey"))
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid variant key"))
		return
	}

	var payload updateCartLinePayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := app.mutateCart(r, owner, func(lines []carts.CartLine) []carts.CartLine {
		return carts.SetQuantity(lines, key, payload.Quantity)
	}); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.respondWithCart(w, r, owner, http.StatusOK)
}

func (app *application) removeCartLineHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	key, err := url.PathUnescape(chi.URLParam(r, "variantKey"))
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid variant key"))
		return
	}

	if err := app.mutateCart(r, owner, func(lines []carts.CartLine) []carts.CartLine {
		return carts.RemoveLine(lines, key)
	}); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.respondWithCart(w, r, owner, http.StatusOK)
}

func (app *application) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	if err := app.carts.Clear(r.Context(), owner); err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, http.StatusOK, cartView{Lines: []cartLineView{}}); err != nil {
		app.internalServerError(w, r, err)
	}
}

type mergeCartPayload struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// mergeCartHandler folds the device's guest cart into the signed-in
// account's cart. Called once by the storefront right after sign-in.
func (app *application) mergeCartHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	if owner.IsGuest() {
		app.badRequestResponse(w, r, fmt.Errorf("merging requires a signed-in account"))
		return
	}

	var payload mergeCartPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	merged, err := app.syncer.MergeGuestCart(r.Context(), owner.AccountID, payload.DeviceID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, toCartView(merged)); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) mutateCart(r *http.Request, owner carts.Owner, edit func([]carts.CartLine) []carts.CartLine) error {
	cart, err := app.carts.Load(r.Context(), owner)
	if err != nil {
		return err
	}
	return app.carts.ReplaceAll(r.Context(), owner, edit(cart.Lines))
}

func (app *application) respondWithCart(w http.ResponseWriter, r *http.Request, owner carts.Owner, status int) {
	cart, err := app.carts.Load(r.Context(), owner)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if err := app.jsonResponse(w, status, toCartView(cart)); err != nil {
		app.internalServerError(w, r, err)
	}
}
