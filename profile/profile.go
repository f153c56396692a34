// Package profile maps a navigation profile to its board and UI limits.
package profile

import "mind-ease/domain"

// Config is the limits and visibility bundle for a navigation profile.
type Config struct {
	MaxTasksInDoing   int  `json:"maxTasksInDoing"`
	SimplifiedKanban  bool `json:"simplifiedKanban"`
	ShowLimits        bool `json:"showLimits"`
	ShowTooltips      bool `json:"showTooltips"`
	ShowOnboarding    bool `json:"showOnboarding"`
	ShowWelcomeBanner bool `json:"showWelcomeBanner"`
	ShowAnalytics     bool `json:"showAnalytics"`
}

var configs = map[domain.NavigationProfile]Config{
	domain.ProfileBeginner: {
		MaxTasksInDoing:   1,
		SimplifiedKanban:  true,
		ShowLimits:        true,
		ShowTooltips:      true,
		ShowOnboarding:    true,
		ShowWelcomeBanner: true,
	},
	domain.ProfileIntermediate: {
		MaxTasksInDoing: 3,
		ShowLimits:      true,
	},
	domain.ProfileAdvanced: {
		MaxTasksInDoing: 5,
		ShowAnalytics:   true,
	},
}

// For returns the configuration for p. Unknown or empty profiles get the
// intermediate configuration.
func For(p domain.NavigationProfile) Config {
	if cfg, ok := configs[p]; ok {
		return cfg
	}
	return configs[domain.ProfileIntermediate]
}

// Normalize returns p if it is a known profile and intermediate otherwise.
func Normalize(p domain.NavigationProfile) domain.NavigationProfile {
	if _, ok := configs[p]; ok {
		return p
	}
	return domain.ProfileIntermediate
}
