package oauthlink

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenError is an OAuth 2.0 style error body
type TokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ProviderStatus reports one provider's link and credential state for a user
type ProviderStatus struct {
	Provider   Provider   `json:"provider"`
	Linked     bool       `json:"linked"`
	LinkOnly   bool       `json:"link_only"`
	State      string     `json:"state"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ReauthURL  string     `json:"reauth_url,omitempty"`
	ProviderID string     `json:"provider_id,omitempty"`
}

// AccountResponse is returned by the account endpoint
type AccountResponse struct {
	ID          string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Picture     string           `json:"picture,omitempty"`
	Providers   []ProviderStatus `json:"providers"`
}

// HandleToken exchanges the caller's session for a bearer JWT so API clients
// can act as the signed-in user. gRPC services accept it when their
// interceptor config sets VerifyToken to App.VerifyToken.
func (a *App) HandleToken(w http.ResponseWriter, r *http.Request) {
	userId := a.Middleware.GetLoggedInUserId(r)
	if userId == "" {
		a.errorResponse(w, "invalid_client", "not signed in", http.StatusUnauthorized)
		return
	}
	ttl := time.Hour
	accessToken, err := a.IssueToken(userId, ttl)
	if err != nil {
		slog.Error("failed to sign token", "user", userId, "err", err)
		a.errorResponse(w, "server_error", "failed to create access token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	})
}

// HandleAccount lists the user's linked providers and what the guard would
// make of each credential right now. It never refreshes and never returns
// tokens. The user must already be loaded (see Middleware.LoadUser).
func (a *App) HandleAccount(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		a.errorResponse(w, "invalid_client", "not signed in", http.StatusUnauthorized)
		return
	}
	now := a.Guard.Now()
	resp := AccountResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Picture:     user.Picture,
		Providers:   []ProviderStatus{},
	}
	for _, p := range a.Registry.Providers() {
		s, _ := a.Registry.Lookup(p)
		cred := user.Credential(p)
		state := Evaluate(cred, now)
		status := ProviderStatus{
			Provider:   p,
			Linked:     cred != nil,
			LinkOnly:   s.LinkOnly(),
			State:      state.String(),
			ProviderID: user.ProviderID(p),
		}
		if cred != nil {
			status.ExpiresAt = cred.AccessTokenExpiresAt
		}
		if state != Valid && state != ExpiredRefreshable {
			status.ReauthURL = a.Guard.ReauthURL(p)
		}
		resp.Providers = append(resp.Providers, status)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// errorResponse sends an OAuth 2.0 compliant error response
func (a *App) errorResponse(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(TokenError{
		Error:            errorCode,
		ErrorDescription: description,
	})
}
