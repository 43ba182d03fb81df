package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"skymaintain.app/licensing/internal/logger"
	"skymaintain.app/licensing/license"
	"skymaintain.app/licensing/models"
)

// rejectMessage is deliberately coarse. The sign-in boundary never
// reveals whether a key exists, is suspended, or belongs to another
// organisation; precise reasons stay in logs and on admin surfaces.
const rejectMessage = "invalid or expired license"

type ValidateRequest struct {
	LicenseKey string `json:"license_key"`
	OrgName    string `json:"org_name,omitempty"`
}

type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`

	Plan            models.Plan            `json:"plan,omitempty"`
	OrgName         string                 `json:"org_name,omitempty"`
	BillingInterval models.BillingInterval `json:"billing_interval,omitempty"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
}

func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LicenseKey == "" {
		writeErrorResponse(w, http.StatusBadRequest, "license_key required")
		return
	}

	rec, err := s.Engine.Validate(r.Context(), req.LicenseKey, req.OrgName)
	if err != nil {
		if errors.Is(err, license.ErrStoreUnavailable) {
			logger.Error("license validation unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			writeErrorResponse(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}

		logger.Info("license rejected", map[string]interface{}{
			"reason": err.Error(),
		})
		// 200 on purpose: the request worked, the key just isn't valid.
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Message: rejectMessage})
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:           true,
		Message:         "license valid",
		Plan:            rec.Plan,
		OrgName:         rec.OrgName,
		BillingInterval: rec.BillingInterval,
		ExpiresAt:       &rec.ExpiresAt,
	})
}

// GetLicenses is an admin lookup: the active license for an email, or
// the full issuance history with history=true. Authentication happens
// upstream at the sign-in service.
func (s *Server) GetLicenses(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeErrorResponse(w, http.StatusBadRequest, "email query parameter required")
		return
	}

	if r.URL.Query().Get("history") == "true" {
		records, err := s.Storage.FindByEmail(r.Context(), email)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "Failed to load license history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"licenses": records})
		return
	}

	rec, err := s.Storage.FindActiveByEmail(r.Context(), email)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load license")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"has_license": false,
			"message":     "No active license found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_license": true,
		"license":     rec,
	})
}

type IssueRequest struct {
	Email           string `json:"email"`
	OrgName         string `json:"org_name"`
	Plan            string `json:"plan"`
	BillingInterval string `json:"billing_interval"`
}

// IssueLicense is the manual admin issuance path; billing events use
// the dispatcher instead.
func (s *Server) IssueLicense(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.OrgName == "" {
		writeErrorResponse(w, http.StatusBadRequest, "email and org_name are required")
		return
	}
	plan, err := models.ParsePlan(req.Plan)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := models.ParseBillingInterval(req.BillingInterval)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.Engine.Issue(r.Context(), license.IssueParams{
		Email:           req.Email,
		OrgName:         req.OrgName,
		Plan:            plan,
		BillingInterval: interval,
		IssuedBy:        "admin",
		Metadata:        map[string]string{"issued_via": "admin_api"},
	})
	if err != nil {
		logger.Error("manual license issuance failed", map[string]interface{}{
			"error":    err.Error(),
			"org_name": req.OrgName,
		})
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to issue license: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}
