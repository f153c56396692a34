package domain

import "fmt"

// NavigationProfile is the user experience tier selected by the user.
type NavigationProfile string

const (
	ProfileBeginner     NavigationProfile = "beginner"
	ProfileIntermediate NavigationProfile = "intermediate"
	ProfileAdvanced     NavigationProfile = "advanced"
)

type ComplexityLevel string

const (
	ComplexitySimple ComplexityLevel = "simple"
	ComplexityFull   ComplexityLevel = "full"
)

type SpacingLevel string

const (
	SpacingCompact SpacingLevel = "compact"
	SpacingNormal  SpacingLevel = "normal"
	SpacingRelaxed SpacingLevel = "relaxed"
)

type FontSize string

const (
	FontSmall  FontSize = "small"
	FontMedium FontSize = "medium"
	FontLarge  FontSize = "large"
)

// DefaultAlertIntervalMinutes is the first cognitive alert threshold.
const DefaultAlertIntervalMinutes = 25

// CognitivePreferences holds the per-user accessibility settings.
type CognitivePreferences struct {
	ComplexityLevel      ComplexityLevel `json:"complexityLevel"`
	FocusMode            bool            `json:"focusMode"`
	SummaryMode          bool            `json:"summaryMode"`
	SpacingLevel         SpacingLevel    `json:"spacingLevel"`
	FontSize             FontSize        `json:"fontSize"`
	CognitiveAlerts      bool            `json:"cognitiveAlerts"`
	AnimationsEnabled    bool            `json:"animationsEnabled"`
	AlertIntervalMinutes int             `json:"alertIntervalMinutes"`
}

// DefaultCognitivePreferences returns the preferences of a fresh profile.
func DefaultCognitivePreferences() CognitivePreferences {
	return CognitivePreferences{
		ComplexityLevel:      ComplexityFull,
		SpacingLevel:         SpacingNormal,
		FontSize:             FontMedium,
		CognitiveAlerts:      true,
		AnimationsEnabled:    true,
		AlertIntervalMinutes: DefaultAlertIntervalMinutes,
	}
}

// AlertInterval returns the configured interval, falling back to the default
// when the stored value is not positive.
func (p CognitivePreferences) AlertInterval() int {
	if p.AlertIntervalMinutes <= 0 {
		return DefaultAlertIntervalMinutes
	}
	return p.AlertIntervalMinutes
}

// PreferencesPatch carries a partial preferences update.
type PreferencesPatch struct {
	ComplexityLevel      *ComplexityLevel `json:"complexityLevel,omitempty"`
	FocusMode            *bool            `json:"focusMode,omitempty"`
	SummaryMode          *bool            `json:"summaryMode,omitempty"`
	SpacingLevel         *SpacingLevel    `json:"spacingLevel,omitempty"`
	FontSize             *FontSize        `json:"fontSize,omitempty"`
	CognitiveAlerts      *bool            `json:"cognitiveAlerts,omitempty"`
	AnimationsEnabled    *bool            `json:"animationsEnabled,omitempty"`
	AlertIntervalMinutes *int             `json:"alertIntervalMinutes,omitempty"`
}

func (p PreferencesPatch) Empty() bool {
	return p.ComplexityLevel == nil && p.FocusMode == nil && p.SummaryMode == nil &&
		p.SpacingLevel == nil && p.FontSize == nil && p.CognitiveAlerts == nil &&
		p.AnimationsEnabled == nil && p.AlertIntervalMinutes == nil
}

func (p PreferencesPatch) Validate() error {
	if p.AlertIntervalMinutes != nil && *p.AlertIntervalMinutes <= 0 {
		return fmt.Errorf("%w: alert interval must be positive", ErrInvalidPreferences)
	}
	if p.ComplexityLevel != nil && *p.ComplexityLevel != ComplexitySimple && *p.ComplexityLevel != ComplexityFull {
		return fmt.Errorf("%w: unknown complexity level %q", ErrInvalidPreferences, *p.ComplexityLevel)
	}
	if p.SpacingLevel != nil {
		switch *p.SpacingLevel {
		case SpacingCompact, SpacingNormal, SpacingRelaxed:
		default:
			return fmt.Errorf("%w: unknown spacing level %q", ErrInvalidPreferences, *p.SpacingLevel)
		}
	}
	if p.FontSize != nil {
		switch *p.FontSize {
		case FontSmall, FontMedium, FontLarge:
		default:
			return fmt.Errorf("%w: unknown font size %q", ErrInvalidPreferences, *p.FontSize)
		}
	}
	return nil
}

// Apply merges the patch into prefs.
func (p PreferencesPatch) Apply(prefs CognitivePreferences) CognitivePreferences {
	if p.ComplexityLevel != nil {
		prefs.ComplexityLevel = *p.ComplexityLevel
	}
	if p.FocusMode != nil {
		prefs.FocusMode = *p.FocusMode
	}
	if p.SummaryMode != nil {
		prefs.SummaryMode = *p.SummaryMode
	}
	if p.SpacingLevel != nil {
		prefs.SpacingLevel = *p.SpacingLevel
	}
	if p.FontSize != nil {
		prefs.FontSize = *p.FontSize
	}
	if p.CognitiveAlerts != nil {
		prefs.CognitiveAlerts = *p.CognitiveAlerts
	}
	if p.AnimationsEnabled != nil {
		prefs.AnimationsEnabled = *p.AnimationsEnabled
	}
	if p.AlertIntervalMinutes != nil {
		prefs.AlertIntervalMinutes = *p.AlertIntervalMinutes
	}
	return prefs
}

// UserInfo is the user profile document.
type UserInfo struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Email                string               `json:"email"`
	AvatarURL            string               `json:"avatarUrl,omitempty"`
	NavigationProfile    NavigationProfile    `json:"navigationProfile"`
	SpecificNeeds        []string             `json:"specificNeeds"`
	StudyRoutine         string               `json:"studyRoutine,omitempty"`
	WorkRoutine          string               `json:"workRoutine,omitempty"`
	CognitivePreferences CognitivePreferences `json:"cognitivePreferences"`
}

// NewUserInfo returns the profile created for a user seen for the first time.
func NewUserInfo(id, name, email string) UserInfo {
	if name == "" {
		name = "User"
	}
	return UserInfo{
		ID:                   id,
		Name:                 name,
		Email:                email,
		NavigationProfile:    ProfileBeginner,
		SpecificNeeds:        []string{},
		CognitivePreferences: DefaultCognitivePreferences(),
	}
}
