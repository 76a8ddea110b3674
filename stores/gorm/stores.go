//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	oa "github.com/panyam/oauthlink"
)

// AutoMigrate runs database migrations for all oauthlink tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ProviderIDModel{},
		&CredentialModel{},
	)
}

// UserStore implements oa.UserStore using GORM
type UserStore struct {
	db *gorm.DB

	// Sealer encrypts token columns when set
	Sealer oa.TokenSealer
}

// NewUserStore wraps db in a session that translates driver constraint
// errors, so duplicate provider ids surface as gorm.ErrDuplicatedKey
func NewUserStore(db *gorm.DB) *UserStore {
	session := db.Session(&gorm.Session{NewDB: true})
	session.Config.TranslateError = true
	return &UserStore{db: session}
}

func (s *UserStore) FindUserById(ctx context.Context, id string) (*oa.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, oa.ErrUserNotFound
	}
	return s.findOne(ctx, "LOWER(email) = ?", email)
}

func (s *UserStore) FindUserByProviderId(ctx context.Context, provider oa.Provider, providerId string) (*oa.User, error) {
	var link ProviderIDModel
	err := s.db.WithContext(ctx).First(&link, "provider = ? AND provider_id = ?", string(provider), providerId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oa.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindUserById(ctx, link.UserID)
}

func (s *UserStore) findOne(ctx context.Context, query string, args ...any) (*oa.User, error) {
	db := s.db.WithContext(ctx)
	var model UserModel
	if err := db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrUserNotFound
		}
		return nil, err
	}
	user := model.ToUser()

	var links []ProviderIDModel
	if err := db.Where("user_id = ?", model.ID).Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		user.SetProviderID(oa.Provider(l.Provider), l.ProviderID)
	}

	var creds []CredentialModel
	if err := db.Where("user_id = ?", model.ID).Order("provider").Find(&creds).Error; err != nil {
		return nil, err
	}
	for i := range creds {
		user.Credentials = append(user.Credentials, creds[i].ToCredential())
	}
	opened, err := oa.OpenCredentials(s.Sealer, user.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials for user %s: %w", user.ID, err)
	}
	user.Credentials = opened
	return user, nil
}

// SaveUser writes the user, its provider ids and credentials in one
// transaction. Updates are guarded by the version column.
func (s *UserStore) SaveUser(ctx context.Context, u *oa.User) error {
	if u.Version == 0 && u.ID == "" {
		id, err := oa.NewUserID()
		if err != nil {
			return err
		}
		u.ID = id
	}
	sealed, err := oa.SealCredentials(s.Sealer, u.Credentials)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	model := UserToModel(u)
	model.Email = strings.ToLower(model.Email)
	model.UpdatedAt = now
	model.Version = u.Version + 1
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if u.Version == 0 {
			var count int64
			if err := tx.Model(&UserModel{}).Where("id = ?", u.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("user %s already exists: %w", u.ID, oa.ErrVersionConflict)
			}
			if err := tx.Create(model).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&UserModel{}).
				Where("id = ? AND version = ?", u.ID, u.Version).
				Updates(map[string]any{
					"email":        model.Email,
					"display_name": model.DisplayName,
					"picture":      model.Picture,
					"version":      model.Version,
					"updated_at":   model.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return oa.ErrVersionConflict
			}
		}

		if err := s.saveProviderIds(tx, u); err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", u.ID).Delete(&CredentialModel{}).Error; err != nil {
			return err
		}
		if len(sealed) > 0 {
			rows := make([]CredentialModel, 0, len(sealed))
			for _, c := range sealed {
				rows = append(rows, CredentialToModel(u.ID, c))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.Version = model.Version
	u.UpdatedAt = model.UpdatedAt
	u.CreatedAt = model.CreatedAt
	return nil
}

func (s *UserStore) saveProviderIds(tx *gorm.DB, u *oa.User) error {
	for p, pid := range u.ProviderIDs {
		var owner ProviderIDModel
		err := tx.First(&owner, "provider = ? AND provider_id = ?", string(p), pid).Error
		if err == nil && owner.UserID != u.ID {
			return oa.ErrProviderIdCollision
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	if err := tx.Where("user_id = ?", u.ID).Delete(&ProviderIDModel{}).Error; err != nil {
		return err
	}
	if len(u.ProviderIDs) == 0 {
		return nil
	}
	rows := make([]ProviderIDModel, 0, len(u.ProviderIDs))
	for p, pid := range u.ProviderIDs {
		rows = append(rows, ProviderIDModel{Provider: string(p), ProviderID: pid, UserID: u.ID})
	}
	// a concurrent save can claim an id after the check above
	if err := tx.Create(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return oa.ErrProviderIdCollision
		}
		return err
	}
	return nil
}
