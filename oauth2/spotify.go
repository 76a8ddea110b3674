package oauth2

import (
	"golang.org/x/oauth2/spotify"

	ol "github.com/panyam/oauthlink"
)

// SpotifyOAuth2 signs in with Spotify. Spotify access tokens last an hour
// and come with a refresh token, so guarded API calls refresh regularly.
type SpotifyOAuth2 struct {
	*BaseOAuth2
}

func NewSpotifyOAuth2(clientId string, clientSecret string, callbackUrl string) *SpotifyOAuth2 {
	out := SpotifyOAuth2{
		BaseOAuth2: NewBaseOAuth2(ol.Spotify, clientId, clientSecret, callbackUrl, spotify.Endpoint,
			"user-read-email", "user-read-private",
		),
	}
	out.UserInfoURL = "https://api.spotify.com/v1/me"
	out.ParseProfile = parseSpotifyProfile
	return &out
}

// Spotify does not verify account emails, so the profile email is never
// marked verified
func parseSpotifyProfile(userInfo map[string]any) (ol.Profile, error) {
	p := ol.Profile{
		ID:          stringField(userInfo, "id"),
		Email:       stringField(userInfo, "email"),
		DisplayName: stringField(userInfo, "display_name"),
	}
	if images, ok := userInfo["images"].([]any); ok && len(images) > 0 {
		if img, ok := images[0].(map[string]any); ok {
			p.Picture = stringField(img, "url")
		}
	}
	return p, nil
}
