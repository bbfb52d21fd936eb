package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/silkroad-bazaar/x402/types"
)

const ginPaymentKey = "x402.payment"

// Gin returns the paywall as gin middleware. The accepted result is available
// to later handlers through GinPayment, and a 5xx from them releases the claim.
func (p *Paywall) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := p.Check(c.Request)
		for k, values := range outcome.Header {
			for _, v := range values {
				c.Writer.Header().Add(k, v)
			}
		}

		if !outcome.Paid() {
			c.AbortWithStatusJSON(outcome.Status, outcome.Body)
			return
		}

		c.Set(ginPaymentKey, outcome.Result)
		c.Request = c.Request.WithContext(WithPayment(c.Request.Context(), outcome.Result))
		c.Next()

		p.releaseOnServerError(c.Request.Context(), outcome, c.Writer.Status())
	}
}

// GinPayment returns the verification result stored by Paywall.Gin.
func GinPayment(c *gin.Context) (*types.VerificationResult, bool) {
	v, exists := c.Get(ginPaymentKey)
	if !exists {
		return nil, false
	}
	result, ok := v.(*types.VerificationResult)
	return result, ok
}
