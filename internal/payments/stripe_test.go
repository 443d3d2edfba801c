package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v82"
)

func TestFromStripeSession(t *testing.T) {
	t.Run("paid session with customer details", func(t *testing.T) {
		sess := fromStripeSession(&stripe.CheckoutSession{
			ID:            "cs_1",
			PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			Metadata:      map[string]string{"gameId": "game-1", "name": "Alice"},
			CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
				Name:  "Alice Smith",
				Email: "alice@example.com",
			},
		})

		assert.True(t, sess.Paid)
		assert.Equal(t, "cs_1", sess.ID)
		assert.Equal(t, "game-1", sess.Metadata["gameId"])
		assert.Equal(t, "Alice Smith", sess.CustomerName)
		assert.Equal(t, "alice@example.com", sess.CustomerEmail)
	})

	t.Run("unpaid session without customer details", func(t *testing.T) {
		sess := fromStripeSession(&stripe.CheckoutSession{
			ID:            "cs_2",
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		})

		assert.False(t, sess.Paid)
		assert.Empty(t, sess.CustomerName)
	})
}
