// Package echo adapts the payment engine to labstack echo routers.
package echo

import (
	nethttp "net/http"

	"github.com/labstack/echo/v4"

	x402 "github.com/fluxpay/x402-solana"
	x402http "github.com/fluxpay/x402-solana/http"
)

// RequirementsFunc prices one echo request.
type RequirementsFunc func(c echo.Context) (x402.PaymentRequirements, error)

// StaticRequirements charges every request the same requirements.
func StaticRequirements(requirements x402.PaymentRequirements) RequirementsFunc {
	return func(echo.Context) (x402.PaymentRequirements, error) {
		return requirements, nil
	}
}

// PaymentMiddleware gates the wrapped routes behind an x402 payment.
func PaymentMiddleware(handler *x402http.PaymentHandler, requirements RequirementsFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqs, err := requirements(c)
			if err != nil {
				return echo.NewHTTPError(nethttp.StatusInternalServerError, "payment requirements unavailable")
			}

			paymentHeader := c.Request().Header.Get(x402http.HeaderPayment)
			if paymentHeader == "" {
				challenge, body := handler.Challenge(reqs, "payment required")
				c.Response().Header().Set(x402http.HeaderChallenge, challenge)
				return c.JSON(nethttp.StatusPaymentRequired, body)
			}

			result, err := handler.Process(c.Request().Context(), paymentHeader, reqs)
			if err != nil {
				challenge, _ := handler.Challenge(reqs, "")
				c.Response().Header().Set(x402http.HeaderChallenge, challenge)
				return c.JSON(nethttp.StatusPaymentRequired, x402http.NewRejection(err, reqs))
			}

			responseHeader, err := result.EncodeResponseHeader()
			if err != nil {
				return echo.NewHTTPError(nethttp.StatusInternalServerError, "settlement confirmation unavailable")
			}
			c.Response().Header().Set(x402http.HeaderPaymentResponse, responseHeader)
			return next(c)
		}
	}
}
