package billing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"skymaintain.app/licensing/models"
)

// ErrUnhandledEventType marks provider event types this subsystem has
// no interest in. Callers acknowledge and drop them.
var ErrUnhandledEventType = errors.New("unhandled billing event type")

// stripeInvoice is the slice of the invoice payload we care about,
// decoded directly from the raw JSON. Depending on the provider API
// version the subscription ref lives either at the top level or under
// parent.subscription_details, so both spellings are read.
type stripeInvoice struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i stripeInvoice) subscriptionRef() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

// EventFromStripe converts an already-verified Stripe event into the
// provider-neutral shape the dispatcher understands. Plan, billing
// interval and organisation name travel in the checkout session
// metadata, set when the checkout was created.
func EventFromStripe(ev stripe.Event) (Event, error) {
	switch ev.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		return checkoutEvent(&session), nil

	case "customer.subscription.updated":
		sub, err := decodeSubscription(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionUpdated{
			CustomerRef:     customerID(sub.Customer),
			SubscriptionRef: sub.ID,
			PriceRef:        subscriptionPriceRef(sub),
		}, nil

	case "customer.subscription.deleted":
		sub, err := decodeSubscription(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionCanceled{
			CustomerRef:     customerID(sub.Customer),
			SubscriptionRef: sub.ID,
		}, nil

	case "invoice.paid":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		return InvoicePaid{
			CustomerRef:     inv.Customer,
			SubscriptionRef: inv.subscriptionRef(),
		}, nil

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		return InvoicePaymentFailed{CustomerRef: inv.Customer}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnhandledEventType, ev.Type)
}

func checkoutEvent(session *stripe.CheckoutSession) CheckoutCompleted {
	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}

	var subscriptionRef string
	if session.Subscription != nil {
		subscriptionRef = session.Subscription.ID
	}

	return CheckoutCompleted{
		Email:           email,
		OrgName:         session.Metadata["org_name"],
		Plan:            models.Plan(session.Metadata["plan"]),
		BillingInterval: models.BillingInterval(session.Metadata["interval"]),
		CustomerRef:     customerID(session.Customer),
		SubscriptionRef: subscriptionRef,
	}
}

func decodeSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionPriceRef(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}
