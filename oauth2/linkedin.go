package oauth2

import (
	"golang.org/x/oauth2/linkedin"

	ol "github.com/panyam/oauthlink"
)

type LinkedInOAuth2 struct {
	*BaseOAuth2
}

func NewLinkedInOAuth2(clientId string, clientSecret string, callbackUrl string) *LinkedInOAuth2 {
	out := LinkedInOAuth2{
		BaseOAuth2: NewBaseOAuth2(ol.LinkedIn, clientId, clientSecret, callbackUrl, linkedin.Endpoint,
			"openid", "profile", "email",
		),
	}
	// OpenID Connect userinfo
	out.UserInfoURL = "https://api.linkedin.com/v2/userinfo"
	out.ParseProfile = parseLinkedInProfile
	return &out
}

func parseLinkedInProfile(userInfo map[string]any) (ol.Profile, error) {
	return ol.Profile{
		ID:            stringField(userInfo, "sub"),
		Email:         stringField(userInfo, "email"),
		EmailVerified: boolField(userInfo, "email_verified"),
		DisplayName:   stringField(userInfo, "name"),
		Picture:       stringField(userInfo, "picture"),
	}, nil
}
