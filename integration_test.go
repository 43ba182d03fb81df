package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"skymaintain.app/licensing/handlers"
	"skymaintain.app/licensing/internal/keycodec"
	"skymaintain.app/licensing/internal/testutil"
	"skymaintain.app/licensing/license"
	"skymaintain.app/licensing/models"
	"skymaintain.app/licensing/storage"
)

// The whole subsystem end to end over HTTP, against the real SQLite
// store: a checkout issues a license, the key validates, a
// cancellation suspends it, a paid invoice brings it back.
func TestLicenseLifecycleOverHTTP(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "licenses.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	engine := license.NewEngine(store, keycodec.New([]byte(testutil.TestSecret)))
	server := handlers.NewHTTPServer(engine, store, "test", []string{"*"})
	ctx := context.Background()

	// 1. Checkout completes; a license is minted.
	checkout := testutil.StripeCheckoutPayload("ops@skyfleet.test", "SkyFleet", "professional", "yearly", "cus_42", "sub_42")
	if w := testutil.MakeBillingEventRequest(t, server, checkout); w.Code != http.StatusOK {
		t.Fatalf("checkout event: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	rec, err := store.FindActiveByOrg(ctx, "SkyFleet")
	if err != nil || rec == nil {
		t.Fatalf("expected an active SkyFleet license, got %+v (err %v)", rec, err)
	}
	key := rec.LicenseKey

	// 2. The key validates, case-insensitively on the org.
	w := testutil.MakeValidateRequest(t, server, key, "skyfleet")
	testutil.AssertValidateResponse(t, w, true, "license valid")

	var valid handlers.ValidateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &valid); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if valid.Plan != models.PlanProfessional || valid.BillingInterval != models.IntervalYearly {
		t.Errorf("unexpected license details: %+v", valid)
	}

	// 3. A redelivered checkout changes nothing.
	if w := testutil.MakeBillingEventRequest(t, server, checkout); w.Code != http.StatusOK {
		t.Fatalf("redelivery: expected status %d, got %d", http.StatusOK, w.Code)
	}
	if records, err := store.FindByEmail(ctx, "ops@skyfleet.test"); err != nil || len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d (err %v)", len(records), err)
	}

	// 4. The subscription is cancelled; sign-in stops working.
	deleted, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_deleted",
		"type": "customer.subscription.deleted",
		"data": map[string]interface{}{
			"object": map[string]interface{}{"id": "sub_42", "customer": "cus_42"},
		},
	})
	if w := testutil.MakeBillingEventRequest(t, server, deleted); w.Code != http.StatusOK {
		t.Fatalf("cancellation: expected status %d, got %d", http.StatusOK, w.Code)
	}
	testutil.AssertValidateResponse(t, testutil.MakeValidateRequest(t, server, key, "SkyFleet"), false, "invalid or expired license")

	// 5. A late invoice payment reinstates the license with a fresh
	// interval counted from now.
	paid, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_paid",
		"type": "invoice.paid",
		"data": map[string]interface{}{
			"object": map[string]interface{}{"customer": "cus_42", "subscription": "sub_42"},
		},
	})
	if w := testutil.MakeBillingEventRequest(t, server, paid); w.Code != http.StatusOK {
		t.Fatalf("invoice.paid: expected status %d, got %d", http.StatusOK, w.Code)
	}
	testutil.AssertValidateResponse(t, testutil.MakeValidateRequest(t, server, key, "SkyFleet"), true, "license valid")

	rec, err = store.FindActiveByOrg(ctx, "SkyFleet")
	if err != nil || rec == nil {
		t.Fatalf("expected the license back, got %+v (err %v)", rec, err)
	}
	if rec.RenewedAt == nil {
		t.Error("expected renewed_at to be set after reinstatement")
	}
	if rec.RevocationReason != "" {
		t.Errorf("expected the revocation reason to be cleared, got %q", rec.RevocationReason)
	}

	// 6. The same buyer moves to a new organisation; the old license is
	// superseded and only the new one validates.
	moved := testutil.StripeCheckoutPayload("ops@skyfleet.test", "CloudHawk", "starter", "monthly", "cus_43", "sub_43")
	if w := testutil.MakeBillingEventRequest(t, server, moved); w.Code != http.StatusOK {
		t.Fatalf("second checkout: expected status %d, got %d", http.StatusOK, w.Code)
	}

	testutil.AssertValidateResponse(t, testutil.MakeValidateRequest(t, server, key, "SkyFleet"), false, "invalid or expired license")

	fresh, err := store.FindActiveByOrg(ctx, "CloudHawk")
	if err != nil || fresh == nil {
		t.Fatalf("expected an active CloudHawk license, got %+v (err %v)", fresh, err)
	}
	testutil.AssertValidateResponse(t, testutil.MakeValidateRequest(t, server, fresh.LicenseKey, "CloudHawk"), true, "license valid")
}
