package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pasal/internal/domain/orders"
	"pasal/internal/params"
)

// listOrdersHandler pages through the signed-in account's orders, newest
// first. Guests have no order history to list.
func (app *application) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	if owner.IsGuest() {
		app.badRequestResponse(w, r, fmt.Errorf("order history requires a signed-in account"))
		return
	}

	p := params.ParsePagination(r.URL.Query())
	status := r.URL.Query().Get("status")

	list, total, err := app.orders.ListByAccount(r.Context(), owner.AccountID, status, p.Limit, p.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	p.ComputeMeta(total)

	response := map[string]any{
		"orders":     list,
		"pagination": p,
	}
	if err := app.jsonResponse(w, http.StatusOK, response); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("invalid order ID"))
		return
	}

	order, err := app.orders.GetDetail(r.Context(), orderID)
	if errors.Is(err, orders.ErrNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	// Accounts see only their own orders; guest orders only the device that
	// placed them. Reconciled orphan rows have no owner and stay hidden.
	visible := false
	switch {
	case order.AccountID != nil:
		visible = !owner.IsGuest() && *order.AccountID == owner.AccountID
	case order.DeviceID != nil:
		visible = owner.DeviceID != "" && *order.DeviceID == owner.DeviceID
	}
	if !visible {
		app.notFoundResponse(w, r, orders.ErrNotFound)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, order); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) listAddressesHandler(w http.ResponseWriter, r *http.Request) {
	owner := getShopperFromContext(r)
	if owner.IsGuest() {
		app.badRequestResponse(w, r, fmt.Errorf("address book requires a signed-in account"))
		return
	}

	addresses, err := app.profiles.GetAddresses(r.Context(), owner.AccountID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, map[string]any{"addresses": addresses}); err != nil {
		app.internalServerError(w, r, err)
	}
}
