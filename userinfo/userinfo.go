// Package userinfo holds the signed-in user's profile and cognitive
// preferences and keeps them in sync with the remote profile store.
package userinfo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/optimistic"
	"mind-ease/profile"
)

// Persistence is the remote profile store. GetUserInfo returns nil when the
// user has no profile yet.
type Persistence interface {
	GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error)
	CreateUserInfo(ctx context.Context, info domain.UserInfo) error
	UpdateCognitivePreferences(ctx context.Context, userID string, patch domain.PreferencesPatch) error
	SetNavigationProfile(ctx context.Context, userID string, p domain.NavigationProfile) error
	SetSpecificNeeds(ctx context.Context, userID string, needs []string) error
}

// Identity is what the auth layer knows about a user seen for the first time.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Holder is the local copy of one user's profile.
type Holder struct {
	backend  Persistence
	identity Identity
	log      *log.Entry
	onChange func(domain.UserInfo)

	mu      sync.Mutex
	info    domain.UserInfo
	loaded  bool
	loadErr error
}

// New returns a holder for id. onChange, when set, runs after every local
// change including rollbacks.
func New(backend Persistence, id Identity, onChange func(domain.UserInfo), logger *log.Entry) *Holder {
	if logger == nil {
		logger = log.WithField("component", "userinfo")
	}
	return &Holder{
		backend:  backend,
		identity: id,
		log:      logger.WithField("user", id.ID),
		onChange: onChange,
		info:     domain.NewUserInfo(id.ID, id.Name, id.Email),
	}
}

// Load fetches the profile, creating a default one when the user has none.
// A failure is kept as the holder's error state until the next successful
// load.
func (h *Holder) Load(ctx context.Context) error {
	if h.identity.ID == "" {
		return nil
	}
	info, err := h.backend.GetUserInfo(ctx, h.identity.ID)
	if err == nil && info == nil {
		fresh := domain.NewUserInfo(h.identity.ID, h.identity.Name, h.identity.Email)
		if err = h.backend.CreateUserInfo(ctx, fresh); err == nil {
			h.log.Info("created default profile")
			info = &fresh
		}
	}
	h.mu.Lock()
	if err != nil {
		h.loadErr = fmt.Errorf("%w: %w", domain.ErrLoadProfile, err)
		h.mu.Unlock()
		h.log.WithError(err).Error("load profile")
		return h.loadErr
	}
	if info.SpecificNeeds == nil {
		info.SpecificNeeds = []string{}
	}
	h.info = *info
	h.loaded = true
	h.loadErr = nil
	snapshot := h.cloneLocked()
	h.mu.Unlock()
	h.changed(snapshot)
	return nil
}

func (h *Holder) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadErr
}

// Info returns a copy of the profile.
func (h *Holder) Info() domain.UserInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cloneLocked()
}

func (h *Holder) Preferences() domain.CognitivePreferences {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info.CognitivePreferences
}

// Config returns the limits for the user's navigation profile.
func (h *Holder) Config() profile.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return profile.For(h.info.NavigationProfile)
}

// UpdatePreferences applies patch locally and persists it. On failure the
// previous preferences are restored and ErrUpdatePreferences is reported.
func (h *Holder) UpdatePreferences(ctx context.Context, patch domain.PreferencesPatch) optimistic.Result[domain.CognitivePreferences] {
	if h.identity.ID == "" {
		return optimistic.Fail[domain.CognitivePreferences](domain.ErrNoUser)
	}
	if err := patch.Validate(); err != nil {
		return optimistic.Fail[domain.CognitivePreferences](err)
	}
	res := optimistic.Run(optimistic.Mutation[domain.CognitivePreferences, domain.CognitivePreferences]{
		Snapshot: h.Preferences,
		Local: func() (domain.CognitivePreferences, error) {
			if patch.Empty() {
				return domain.CognitivePreferences{}, optimistic.ErrNoop
			}
			h.mu.Lock()
			h.info.CognitivePreferences = patch.Apply(h.info.CognitivePreferences)
			prefs := h.info.CognitivePreferences
			snapshot := h.cloneLocked()
			h.mu.Unlock()
			h.changed(snapshot)
			return prefs, nil
		},
		Remote: func(prefs domain.CognitivePreferences) (domain.CognitivePreferences, error) {
			return prefs, h.backend.UpdateCognitivePreferences(ctx, h.identity.ID, patch)
		},
		Restore: func(prev domain.CognitivePreferences) {
			h.mu.Lock()
			h.info.CognitivePreferences = prev
			snapshot := h.cloneLocked()
			h.mu.Unlock()
			h.changed(snapshot)
		},
		Wrap: func(err error) error { return fmt.Errorf("%w: %w", domain.ErrUpdatePreferences, err) },
	})
	if res.Err != nil {
		h.log.WithError(res.Err).WithField("outcome", res.Outcome.String()).Warn("update preferences")
	}
	return res
}

func (h *Holder) ToggleFocusMode(ctx context.Context) optimistic.Result[domain.CognitivePreferences] {
	v := !h.Preferences().FocusMode
	return h.UpdatePreferences(ctx, domain.PreferencesPatch{FocusMode: &v})
}

func (h *Holder) ToggleSummaryMode(ctx context.Context) optimistic.Result[domain.CognitivePreferences] {
	v := !h.Preferences().SummaryMode
	return h.UpdatePreferences(ctx, domain.PreferencesPatch{SummaryMode: &v})
}

func (h *Holder) ToggleCognitiveAlerts(ctx context.Context) optimistic.Result[domain.CognitivePreferences] {
	v := !h.Preferences().CognitiveAlerts
	return h.UpdatePreferences(ctx, domain.PreferencesPatch{CognitiveAlerts: &v})
}

func (h *Holder) ToggleAnimations(ctx context.Context) optimistic.Result[domain.CognitivePreferences] {
	v := !h.Preferences().AnimationsEnabled
	return h.UpdatePreferences(ctx, domain.PreferencesPatch{AnimationsEnabled: &v})
}

// SetNavigationProfile switches the user's profile. Unknown values are
// stored as intermediate.
func (h *Holder) SetNavigationProfile(ctx context.Context, p domain.NavigationProfile) optimistic.Result[domain.UserInfo] {
	p = profile.Normalize(p)
	return h.mutateInfo(ctx, "set navigation profile",
		func(info *domain.UserInfo) bool {
			if info.NavigationProfile == p {
				return false
			}
			info.NavigationProfile = p
			return true
		},
		func(ctx context.Context, info domain.UserInfo) error {
			return h.backend.SetNavigationProfile(ctx, h.identity.ID, p)
		})
}

// AddSpecificNeed records a need once, ignoring case and surrounding space.
func (h *Holder) AddSpecificNeed(ctx context.Context, need string) optimistic.Result[domain.UserInfo] {
	need = strings.TrimSpace(need)
	return h.mutateInfo(ctx, "add specific need",
		func(info *domain.UserInfo) bool {
			if need == "" || slices.ContainsFunc(info.SpecificNeeds, func(n string) bool { return strings.EqualFold(n, need) }) {
				return false
			}
			info.SpecificNeeds = append(slices.Clone(info.SpecificNeeds), need)
			return true
		},
		func(ctx context.Context, info domain.UserInfo) error {
			return h.backend.SetSpecificNeeds(ctx, h.identity.ID, info.SpecificNeeds)
		})
}

func (h *Holder) RemoveSpecificNeed(ctx context.Context, need string) optimistic.Result[domain.UserInfo] {
	need = strings.TrimSpace(need)
	return h.mutateInfo(ctx, "remove specific need",
		func(info *domain.UserInfo) bool {
			out := slices.DeleteFunc(slices.Clone(info.SpecificNeeds), func(n string) bool { return strings.EqualFold(n, need) })
			if len(out) == len(info.SpecificNeeds) {
				return false
			}
			info.SpecificNeeds = out
			return true
		},
		func(ctx context.Context, info domain.UserInfo) error {
			return h.backend.SetSpecificNeeds(ctx, h.identity.ID, info.SpecificNeeds)
		})
}

func (h *Holder) mutateInfo(ctx context.Context, op string, apply func(*domain.UserInfo) bool, persist func(context.Context, domain.UserInfo) error) optimistic.Result[domain.UserInfo] {
	if h.identity.ID == "" {
		return optimistic.Fail[domain.UserInfo](domain.ErrNoUser)
	}
	var prev domain.UserInfo
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.UserInfo]{
		Local: func() (domain.UserInfo, error) {
			h.mu.Lock()
			prev = h.cloneLocked()
			next := h.cloneLocked()
			if !apply(&next) {
				h.mu.Unlock()
				return domain.UserInfo{}, optimistic.ErrNoop
			}
			h.info = next
			snapshot := h.cloneLocked()
			h.mu.Unlock()
			h.changed(snapshot)
			return snapshot, nil
		},
		Remote: func(info domain.UserInfo) (domain.UserInfo, error) {
			return info, persist(ctx, info)
		},
		Restore: func(struct{}) {
			h.mu.Lock()
			h.info = prev
			snapshot := h.cloneLocked()
			h.mu.Unlock()
			h.changed(snapshot)
		},
		Wrap: func(err error) error { return fmt.Errorf("%w: %w", domain.ErrUpdatePreferences, err) },
	})
	if res.Err != nil {
		h.log.WithError(res.Err).WithField("op", op).Warn("update profile")
	}
	return res
}

func (h *Holder) changed(info domain.UserInfo) {
	if h.onChange != nil {
		h.onChange(info)
	}
}

func (h *Holder) cloneLocked() domain.UserInfo {
	c := h.info
	c.SpecificNeeds = slices.Clone(h.info.SpecificNeeds)
	if c.SpecificNeeds == nil {
		c.SpecificNeeds = []string{}
	}
	return c
}
