package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"skymaintain.app/licensing/handlers"
	"skymaintain.app/licensing/models"
	"skymaintain.app/licensing/storage"
)

// TestSecret keys the codec in every test; keys generated with it are
// only valid inside the test process.
const TestSecret = "test-license-secret"

// Record builds an active monthly starter license and applies any
// mutations. The key is whatever the caller passes; use a codec when
// the test needs one that verifies.
func Record(key, email, org string, mutate ...func(*models.LicenseRecord)) *models.LicenseRecord {
	now := time.Now()
	rec := &models.LicenseRecord{
		ID:              uuid.Must(uuid.NewRandom()).String(),
		LicenseKey:      key,
		Email:           email,
		OrgName:         org,
		Plan:            models.PlanStarter,
		BillingInterval: models.IntervalMonthly,
		Status:          models.StatusActive,
		IssuedAt:        now,
		ActivatedAt:     now,
		ExpiresAt:       now.AddDate(0, 1, 0),
		CreatedBy:       "system",
		UpdatedAt:       now,
	}
	for _, m := range mutate {
		m(rec)
	}
	return rec
}

// MustInsert saves a record or fails the test.
func MustInsert(t *testing.T, store storage.Store, rec *models.LicenseRecord) {
	t.Helper()
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("failed to insert record %s: %v", rec.ID, err)
	}
}

// MakeValidateRequest posts a validation request to the server.
func MakeValidateRequest(t *testing.T, server *handlers.Server, licenseKey, orgName string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(handlers.ValidateRequest{
		LicenseKey: licenseKey,
		OrgName:    orgName,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// AssertValidateResponse decodes and checks a validation response.
func AssertValidateResponse(t *testing.T, w *httptest.ResponseRecorder, expectedValid bool, expectedMessage string) {
	t.Helper()

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response handlers.ValidateResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Valid != expectedValid {
		t.Errorf("expected valid=%v, got valid=%v", expectedValid, response.Valid)
	}
	if response.Message != expectedMessage {
		t.Errorf("expected message %q, got %q", expectedMessage, response.Message)
	}
}

// MakeBillingEventRequest posts a provider event payload to the
// billing events endpoint.
func MakeBillingEventRequest(t *testing.T, server *handlers.Server, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/events", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// StripeCheckoutPayload builds the wire shape of an already-verified
// checkout.session.completed event.
func StripeCheckoutPayload(email, org, plan, interval, customerRef, subscriptionRef string) []byte {
	event := map[string]interface{}{
		"id":   "evt_" + uuid.Must(uuid.NewRandom()).String()[:8],
		"type": "checkout.session.completed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "cs_test",
				"customer":       customerRef,
				"customer_email": email,
				"subscription":   subscriptionRef,
				"metadata": map[string]string{
					"org_name": org,
					"plan":     plan,
					"interval": interval,
				},
			},
		},
	}
	payload, _ := json.Marshal(event)
	return payload
}
