// Package billing consumes billing-provider events and maps them onto
// license lifecycle operations. The webhook transport and signature
// verification live outside this service; by the time an event reaches
// this package it is authenticated, but it may still arrive late, out
// of order, or more than once.
package billing

import "skymaintain.app/licensing/models"

// Event is one of the provider-neutral billing event shapes below.
type Event interface {
	Kind() string
}

// CheckoutCompleted is the first successful payment for an org; it
// triggers license issuance.
type CheckoutCompleted struct {
	Email           string                 `json:"email"`
	OrgName         string                 `json:"org_name"`
	Plan            models.Plan            `json:"plan"`
	BillingInterval models.BillingInterval `json:"billing_interval"`
	CustomerRef     string                 `json:"customer_ref"`
	SubscriptionRef string                 `json:"subscription_ref"`
}

func (CheckoutCompleted) Kind() string { return "checkout_completed" }

type SubscriptionUpdated struct {
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref"`
	PriceRef        string `json:"price_ref"`
}

func (SubscriptionUpdated) Kind() string { return "subscription_updated" }

type SubscriptionCanceled struct {
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref"`
}

func (SubscriptionCanceled) Kind() string { return "subscription_canceled" }

type InvoicePaid struct {
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref,omitempty"`
}

func (InvoicePaid) Kind() string { return "invoice_paid" }

type InvoicePaymentFailed struct {
	CustomerRef string `json:"customer_ref"`
}

func (InvoicePaymentFailed) Kind() string { return "invoice_payment_failed" }
