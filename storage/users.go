package storage

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"

	"mind-ease/domain"
)

// GetUserInfo returns nil when the user has no profile row.
func (s *Tables) GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error) {
	resp, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	info, err := decodeUserEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateUserInfo inserts a profile. A concurrent insert of the same user
// is not an error.
func (s *Tables) CreateUserInfo(ctx context.Context, info domain.UserInfo) error {
	ent, err := newUserEntity(info)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.userTable.AddEntity(ctx, payload, nil)
	if statusCode(err) == http.StatusConflict {
		logger(ctx).WithField("user", info.ID).Debug("profile already exists")
		return nil
	}
	return err
}

func (s *Tables) UpdateCognitivePreferences(ctx context.Context, userID string, patch domain.PreferencesPatch) error {
	return s.mergeUser(ctx, newPreferencesUpdate(userID, patch))
}

func (s *Tables) SetNavigationProfile(ctx context.Context, userID string, p domain.NavigationProfile) error {
	v := string(p)
	return s.mergeUser(ctx, userUpdate{
		entity:            entity{PartitionKey: userID, RowKey: userID},
		NavigationProfile: &v,
	})
}

func (s *Tables) SetSpecificNeeds(ctx context.Context, userID string, needs []string) error {
	v, err := encodeList(nonNil(needs))
	if err != nil {
		return err
	}
	return s.mergeUser(ctx, userUpdate{
		entity:        entity{PartitionKey: userID, RowKey: userID},
		SpecificNeeds: &v,
	})
}

func (s *Tables) mergeUser(ctx context.Context, upd userUpdate) error {
	payload, err := sonic.Marshal(upd)
	if err != nil {
		return err
	}
	return mapErr(merge(ctx, s.userTable, payload, azcore.ETagAny), nil)
}
