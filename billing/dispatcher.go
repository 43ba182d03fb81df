package billing

import (
	"context"
	"fmt"

	"skymaintain.app/licensing/internal/logger"
	"skymaintain.app/licensing/license"
	"skymaintain.app/licensing/models"
)

// Dispatcher maps billing events onto engine operations. Lifecycle
// failures are logged and swallowed: the webhook caller acknowledges
// the delivery either way and the provider's at-least-once redelivery
// is the recovery mechanism. Only a nil event is a caller bug.
type Dispatcher struct {
	engine *license.Engine
}

func NewDispatcher(engine *license.Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev == nil {
		return fmt.Errorf("nil billing event")
	}

	var err error
	switch ev := ev.(type) {
	case CheckoutCompleted:
		err = d.handleCheckoutCompleted(ctx, ev)
	case SubscriptionUpdated:
		_, err = d.engine.Renew(ctx, license.RenewParams{
			SubscriptionRef: ev.SubscriptionRef,
			CustomerRef:     ev.CustomerRef,
		})
	case SubscriptionCanceled:
		err = d.engine.Suspend(ctx, license.SuspendParams{
			SubscriptionRef: ev.SubscriptionRef,
			CustomerRef:     ev.CustomerRef,
			Reason:          "subscription_canceled",
		})
	case InvoicePaid:
		_, err = d.engine.Renew(ctx, license.RenewParams{
			SubscriptionRef: ev.SubscriptionRef,
			CustomerRef:     ev.CustomerRef,
		})
	case InvoicePaymentFailed:
		err = d.engine.Suspend(ctx, license.SuspendParams{
			CustomerRef: ev.CustomerRef,
			Reason:      "payment_failed",
		})
	default:
		logger.Info("ignoring unhandled billing event", map[string]interface{}{
			"kind": ev.Kind(),
		})
		return nil
	}

	if err != nil {
		// Out-of-order deliveries make some failures routine, e.g. an
		// invoice.paid racing ahead of its checkout.
		logger.Warn("billing event had no effect", map[string]interface{}{
			"kind":  ev.Kind(),
			"error": err.Error(),
		})
	}

	return nil
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) error {
	plan, err := models.ParsePlan(string(ev.Plan))
	if err != nil {
		return err
	}
	interval, err := models.ParseBillingInterval(string(ev.BillingInterval))
	if err != nil {
		return err
	}

	_, err = d.engine.Issue(ctx, license.IssueParams{
		Email:           ev.Email,
		OrgName:         ev.OrgName,
		Plan:            plan,
		BillingInterval: interval,
		SubscriptionRef: ev.SubscriptionRef,
		CustomerRef:     ev.CustomerRef,
		Metadata:        map[string]string{"issued_via": "billing_event"},
	})
	return err
}
