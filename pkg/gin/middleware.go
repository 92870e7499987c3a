// Package gin adapts the payment engine to gin-gonic route groups.
package gin

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/fluxpay/x402-solana"
	x402http "github.com/fluxpay/x402-solana/http"
)

// RequirementsFunc prices one gin request.
type RequirementsFunc func(c *gin.Context) (x402.PaymentRequirements, error)

// StaticRequirements charges every request the same requirements.
func StaticRequirements(requirements x402.PaymentRequirements) RequirementsFunc {
	return func(*gin.Context) (x402.PaymentRequirements, error) {
		return requirements, nil
	}
}

// PaymentMiddleware gates the wrapped routes behind an x402 payment.
// Requests without a valid X-PAYMENT header receive 402 with the
// challenge; paid requests proceed with X-PAYMENT-RESPONSE set.
func PaymentMiddleware(handler *x402http.PaymentHandler, requirements RequirementsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := requirements(c)
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusInternalServerError, gin.H{
				"error":       "payment requirements unavailable",
				"x402Version": x402.ProtocolVersion,
			})
			return
		}

		paymentHeader := c.GetHeader(x402http.HeaderPayment)
		if paymentHeader == "" {
			challenge, body := handler.Challenge(reqs, "payment required")
			c.Header(x402http.HeaderChallenge, challenge)
			c.AbortWithStatusJSON(nethttp.StatusPaymentRequired, body)
			return
		}

		result, err := handler.Process(c.Request.Context(), paymentHeader, reqs)
		if err != nil {
			challenge, _ := handler.Challenge(reqs, "")
			c.Header(x402http.HeaderChallenge, challenge)
			c.AbortWithStatusJSON(nethttp.StatusPaymentRequired, x402http.NewRejection(err, reqs))
			return
		}

		responseHeader, err := result.EncodeResponseHeader()
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusInternalServerError, gin.H{
				"error":       "settlement confirmation unavailable",
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		c.Header(x402http.HeaderPaymentResponse, responseHeader)
		c.Next()
	}
}
