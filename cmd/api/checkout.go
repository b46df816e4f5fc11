package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pasal/internal/checkout"
	"pasal/internal/payments"
)

// startCheckoutHandler runs the whole checkout sequence. The response tells
// the storefront where to send the shopper: a hosted page URL for fiat, a
// deposit address for crypto.
func (app *application) startCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var draft checkout.Draft
	if err := readJSON(w, r, &draft); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	draft.Owner = getShopperFromContext(r)

	result, err := app.engine.StartCheckout(r.Context(), draft)
	if err != nil {
		app.checkoutErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, result); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) checkoutErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *checkout.ValidationError
		minErr        *checkout.BelowMinimumError
		orphanErr     *checkout.OrphanedIntentError
	)

	switch {
	case errors.As(err, &validationErr):
		app.badRequestResponse(w, r, validationErr)
	case errors.Is(err, checkout.ErrEmptyCart):
		app.unprocessableEntityResponse(w, r, err)
	case errors.As(err, &minErr):
		app.unprocessableEntityResponse(w, r, minErr)
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		app.conflictResponse(w, r, err)
	case errors.Is(err, payments.ErrGatewayUnavailable):
		app.badGatewayResponse(w, r, err)
	case errors.As(err, &orphanErr):
		// The order row is missing but the intent exists; reconciliation
		// will pick it up. The shopper just sees a retryable failure.
		app.internalServerError(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}

func (app *application) checkoutStatusHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid order ID"))
		return
	}

	view, err := app.engine.PollStatus(r.Context(), owner, orderID)
	if errors.Is(err, checkout.ErrOrderNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, view); err != nil {
		app.internalServerError(w, r, err)
	}
}

type cancelCheckoutPayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (app *application) cancelCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid order ID"))
		return
	}

	var payload cancelCheckoutPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	order, err := app.engine.CancelCheckout(r.Context(), owner, orderID, payload.Reason)
	if errors.Is(err, checkout.ErrOrderNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, order); err != nil {
		app.internalServerError(w, r, err)
	}
}

type abandonCheckoutPayload struct {
	Email  string `json:"email" validate:"omitempty,email"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// abandonCheckoutHandler closes a checkout the shopper left before a payment
// was requested. The attempt is recorded as a cancelled order and the cart
// is consumed.
func (app *application) abandonCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)

	var payload abandonCheckoutPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := app.engine.RecordAbandoned(r.Context(), owner, payload.Email, payload.Reason); err != nil {
		app.internalServerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) payCurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	currencies, err := app.gateways.Crypto().ListCurrencies(r.Context())
	if errors.Is(err, payments.ErrGatewayUnavailable) {
		app.badGatewayResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, map[string]any{"currencies": currencies}); err != nil {
		app.internalServerError(w, r, err)
	}
}

// minAmountHandler lets the storefront warn about too-small orders before
// the shopper picks a coin.
func (app *application) minAmountHandler(w http.ResponseWriter, r *http.Request) {
	payCurrency := r.URL.Query().Get("currency")
	if err := Validate.Var(payCurrency, "required,currencycode"); err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid currency parameter"))
		return
	}

	min, err := app.gateways.Crypto().MinAmount(r.Context(), payCurrency, app.config.checkout.currency)
	if errors.Is(err, payments.ErrGatewayUnavailable) {
		app.badGatewayResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, min); err != nil {
		app.internalServerError(w, r, err)
	}
}
