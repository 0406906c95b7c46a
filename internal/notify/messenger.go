package notify

import (
	"context"
	"fmt"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/pkg/msggw"
)

// MessageSender is satisfied by *msggw.Client
type MessageSender interface {
	SendMessage(ctx context.Context, req *msggw.SendMessageRequest) (*msggw.SendMessageResult, error)
}

// CustomerMessenger texts the coupon to customers who left a phone number
type CustomerMessenger struct {
	sender MessageSender
}

// NewCustomerMessenger creates the customer sink
func NewCustomerMessenger(sender MessageSender) *CustomerMessenger {
	return &CustomerMessenger{sender: sender}
}

// Name implements Sink
func (m *CustomerMessenger) Name() string { return "customer_message" }

// Deliver sends the coupon message. Outcomes without a coupon and customers
// without a phone number are skipped.
func (m *CustomerMessenger) Deliver(ctx context.Context, ev *SpinResolved) error {
	if ev.CustomerPhone == "" || ev.Outcome != domain.SegmentPrize || ev.CouponCode == "" {
		return ErrSkipped
	}

	_, err := m.sender.SendMessage(ctx, &msggw.SendMessageRequest{
		Recipient: ev.CustomerPhone,
		Text:      CouponMessage(ev),
		Reference: ev.SpinRecordID,
	})
	if err != nil {
		return fmt.Errorf("failed to send coupon message: %w", err)
	}
	return nil
}

// CouponMessage renders the customer text for a prize event
func CouponMessage(ev *SpinResolved) string {
	text := fmt.Sprintf("%s: you won %s! Your code is %s", ev.MerchantName, ev.PrizeName, ev.CouponCode)
	if ev.CouponExpiresAt != nil {
		text += ", valid until " + ev.CouponExpiresAt.UTC().Format("Jan 2 15:04 MST")
	}
	if ev.RedeemURL != "" {
		text += ". " + ev.RedeemURL
	}
	return text
}
