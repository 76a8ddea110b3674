//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	oa "github.com/panyam/oauthlink"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Email       string    `gorm:"size:320;index"`
	DisplayName string    `gorm:"size:255"`
	Picture     string    `gorm:"size:1024"`
	Version     int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// ProviderIDModel maps a provider account onto the user that owns it
type ProviderIDModel struct {
	Provider   string `gorm:"primaryKey;size:32"`
	ProviderID string `gorm:"primaryKey;size:255"`
	UserID     string `gorm:"size:64;index"`
}

func (ProviderIDModel) TableName() string {
	return "provider_ids"
}

// CredentialModel holds one provider's tokens for a user. Token columns hold
// sealed values when the store has a sealer.
type CredentialModel struct {
	UserID                string `gorm:"primaryKey;size:64"`
	Provider              string `gorm:"primaryKey;size:32"`
	AccessToken           string `gorm:"type:text"`
	RefreshToken          string `gorm:"type:text"`
	TokenSecret           string `gorm:"type:text"`
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
}

func (CredentialModel) TableName() string {
	return "credentials"
}

func (m *CredentialModel) ToCredential() oa.Credential {
	return oa.Credential{
		Provider:              oa.Provider(m.Provider),
		AccessToken:           m.AccessToken,
		RefreshToken:          m.RefreshToken,
		TokenSecret:           m.TokenSecret,
		AccessTokenExpiresAt:  utcPtr(m.AccessTokenExpiresAt),
		RefreshTokenExpiresAt: utcPtr(m.RefreshTokenExpiresAt),
	}
}

func CredentialToModel(userId string, c oa.Credential) CredentialModel {
	return CredentialModel{
		UserID:                userId,
		Provider:              string(c.Provider),
		AccessToken:           c.AccessToken,
		RefreshToken:          c.RefreshToken,
		TokenSecret:           c.TokenSecret,
		AccessTokenExpiresAt:  c.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: c.RefreshTokenExpiresAt,
	}
}

func UserToModel(u *oa.User) *UserModel {
	return &UserModel{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Picture:     u.Picture,
		Version:     u.Version,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (m *UserModel) ToUser() *oa.User {
	return &oa.User{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		Picture:     m.Picture,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
