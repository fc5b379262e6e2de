package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
)

// UpgradeURL is where clients send users who hit a tier cap.
const UpgradeURL = "/account/billing"

// LimitExceeded is the 402 body sent when a create would exceed the caller's tier cap.
type LimitExceeded struct {
	Error      string         `json:"error"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Plan       tiers.Tier     `json:"plan"`
	Resource   tiers.Resource `json:"resource"`
	Limit      int            `json:"limit"`
	Limits     tiers.Limits   `json:"limits"`
	UpgradeURL string         `json:"upgrade_url"`
}

// RespondLimitExceeded writes a 402 Payment Required limit response.
func RespondLimitExceeded(w http.ResponseWriter, body LimitExceeded) {
	body.Error = "subscription_limit_exceeded"
	if body.UpgradeURL == "" {
		body.UpgradeURL = UpgradeURL
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}
