package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pasal/internal/domain/carts"
)

type shopperKey string

const shopperCtx shopperKey = "shopper"

// ShopperMiddleware resolves who is shopping. Identity arrives from the edge
// proxy, which has already authenticated the session: X-Account-ID for
// signed-in shoppers, X-Device-ID for guests. At least one must be present.
func (app *application) ShopperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountHeader := strings.TrimSpace(r.Header.Get("X-Account-ID"))
		deviceID := strings.TrimSpace(r.Header.Get("X-Device-ID"))

		var owner carts.Owner
		switch {
		case accountHeader != "":
			accountID, err := strconv.ParseInt(accountHeader, 10, 64)
			if err != nil || accountID <= 0 {
				app.badRequestResponse(w, r, fmt.Errorf("invalid X-Account-ID header"))
				return
			}
			owner = carts.AccountOwner(accountID)
		case deviceID != "":
			owner = carts.GuestOwner(deviceID)
		default:
			app.badRequestResponse(w, r, fmt.Errorf("X-Account-ID or X-Device-ID header is required"))
			return
		}

		ctx := context.WithValue(r.Context(), shopperCtx, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getShopperFromContext(r *http.Request) carts.Owner {
	owner, _ := r.Context().Value(shopperCtx).(carts.Owner)
	return owner
}

// RateLimiterMiddleware throttles checkout starts per shopper, falling back
// to the client IP when no shopper header made it through.
func (app *application) RateLimiterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.config.rateLimiter.Enabled {
			key := ownerLimitKey(r)
			if allow, retryAfter := app.rateLimiter.Allow(key); !allow {
				app.rateLimitExceededResponse(w, r, retryAfter.String())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func ownerLimitKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Account-ID")); id != "" {
		return "a:" + id
	}
	if id := strings.TrimSpace(r.Header.Get("X-Device-ID")); id != "" {
		return "d:" + id
	}
	return r.RemoteAddr
}

func (app *application) BasicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Basic" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is malformed"))
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			username := app.config.auth.basic.user
			pass := app.config.auth.basic.pass

			creds := strings.SplitN(string(decoded), ":", 2)
			if len(creds) != 2 || creds[0] != username || creds[1] != pass {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
