package oauth2

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	ol "github.com/panyam/oauthlink"
)

type GoogleOAuth2 struct {
	*BaseOAuth2
}

func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string) *GoogleOAuth2 {
	out := GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(ol.Google, clientId, clientSecret, callbackUrl, google.Endpoint,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		),
	}
	out.UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	out.ParseProfile = parseGoogleProfile
	// Google only returns a refresh token for offline access with consent
	out.AuthCodeOptions = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	return &out
}

func parseGoogleProfile(userInfo map[string]any) (ol.Profile, error) {
	return ol.Profile{
		ID:            stringField(userInfo, "id"),
		Email:         stringField(userInfo, "email"),
		EmailVerified: boolField(userInfo, "verified_email"),
		DisplayName:   stringField(userInfo, "name"),
		Picture:       stringField(userInfo, "picture"),
	}, nil
}
