package oauth2

import (
	"golang.org/x/oauth2/github"

	ol "github.com/panyam/oauthlink"
)

type GithubOAuth2 struct {
	*BaseOAuth2
}

func NewGithubOAuth2(clientId string, clientSecret string, callbackUrl string) *GithubOAuth2 {
	out := GithubOAuth2{
		BaseOAuth2: NewBaseOAuth2(ol.GitHub, clientId, clientSecret, callbackUrl, github.Endpoint,
			"read:user", "user:email",
		),
	}
	out.UserInfoURL = "https://api.github.com/user"
	// the profile email is whatever the user made public and is not verified
	out.EmailsURL = "https://api.github.com/user/emails"
	out.ParseProfile = parseGithubProfile
	return &out
}

func parseGithubProfile(userInfo map[string]any) (ol.Profile, error) {
	name := stringField(userInfo, "name")
	if name == "" {
		name = stringField(userInfo, "login")
	}
	return ol.Profile{
		ID:          stringField(userInfo, "id"),
		Email:       stringField(userInfo, "email"),
		DisplayName: name,
		Picture:     stringField(userInfo, "avatar_url"),
	}, nil
}
