package http

import (
	"encoding/json"
	nethttp "net/http"

	x402 "github.com/fluxpay/x402-solana"
)

// RequirementsFunc produces the payment requirements for one inbound
// request. Pricing decisions belong to the route layer; this engine only
// requests and verifies the charge it is handed.
type RequirementsFunc func(r *nethttp.Request) (x402.PaymentRequirements, error)

// StaticRequirements returns a RequirementsFunc that charges the same
// requirements for every request.
func StaticRequirements(requirements x402.PaymentRequirements) RequirementsFunc {
	return func(*nethttp.Request) (x402.PaymentRequirements, error) {
		return requirements, nil
	}
}

// Middleware demands payment for every request passing through it. Without
// a valid X-PAYMENT header it responds 402 with the challenge; with one it
// settles, reserves the signature, sets X-PAYMENT-RESPONSE and invokes the
// wrapped handler.
func Middleware(handler *PaymentHandler, requirements RequirementsFunc) func(nethttp.Handler) nethttp.Handler {
	return func(next nethttp.Handler) nethttp.Handler {
		return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			reqs, err := requirements(r)
			if err != nil {
				nethttp.Error(w, "payment requirements unavailable", nethttp.StatusInternalServerError)
				return
			}

			paymentHeader := r.Header.Get(HeaderPayment)
			if paymentHeader == "" {
				challenge, body := handler.Challenge(reqs, "payment required")
				w.Header().Set(HeaderChallenge, challenge)
				writeJSON(w, nethttp.StatusPaymentRequired, body)
				return
			}

			result, err := handler.Process(r.Context(), paymentHeader, reqs)
			if err != nil {
				challenge, _ := handler.Challenge(reqs, "")
				w.Header().Set(HeaderChallenge, challenge)
				writeJSON(w, nethttp.StatusPaymentRequired, NewRejection(err, reqs))
				return
			}

			responseHeader, err := result.EncodeResponseHeader()
			if err != nil {
				nethttp.Error(w, "settlement confirmation unavailable", nethttp.StatusInternalServerError)
				return
			}
			w.Header().Set(HeaderPaymentResponse, responseHeader)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w nethttp.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
