package storage

import (
	"time"

	"github.com/bytedance/sonic"

	"mind-ease/domain"
)

// entity holds the table keys every row carries.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const edmInt64 = "Edm.Int64"

// Lists are stored as JSON strings since table rows only hold scalars.

type taskEntity struct {
	entity
	Title              string `json:"Title"`
	Description        string `json:"Description"`
	Status             string `json:"Status"`
	CognitiveLoad      string `json:"CognitiveLoad"`
	Tags               string `json:"Tags"`
	EstimatedPomodoros int    `json:"EstimatedPomodoros"`
	CompletedPomodoros int    `json:"CompletedPomodoros"`
	Subtasks           string `json:"Subtasks"`
	Order              int    `json:"Order"`
	CreatedAt          int64  `json:"CreatedAt,string"`
	CreatedAtType      string `json:"CreatedAt@odata.type"`
	DueDate            *int64 `json:"DueDate,omitempty,string"`
	DueDateType        string `json:"DueDate@odata.type,omitempty"`
}

// taskUpdate is merged into an existing row; nil fields are left alone.
type taskUpdate struct {
	entity
	Title              *string `json:"Title,omitempty"`
	Description        *string `json:"Description,omitempty"`
	Status             *string `json:"Status,omitempty"`
	CognitiveLoad      *string `json:"CognitiveLoad,omitempty"`
	Tags               *string `json:"Tags,omitempty"`
	EstimatedPomodoros *int    `json:"EstimatedPomodoros,omitempty"`
	CompletedPomodoros *int    `json:"CompletedPomodoros,omitempty"`
	Subtasks           *string `json:"Subtasks,omitempty"`
	Order              *int    `json:"Order,omitempty"`
	DueDate            *int64  `json:"DueDate,omitempty,string"`
	DueDateType        *string `json:"DueDate@odata.type,omitempty"`
}

type sessionEntity struct {
	entity
	TaskID        string `json:"TaskId"`
	Type          string `json:"Type"`
	StartTime     int64  `json:"StartTime,string"`
	StartTimeType string `json:"StartTime@odata.type"`
	EndTime       *int64 `json:"EndTime,omitempty,string"`
	EndTimeType   string `json:"EndTime@odata.type,omitempty"`
	Duration      int    `json:"Duration"`
	Completed     bool   `json:"Completed"`
}

type userEntity struct {
	entity
	Name                 string `json:"Name"`
	Email                string `json:"Email"`
	AvatarURL            string `json:"AvatarUrl,omitempty"`
	NavigationProfile    string `json:"NavigationProfile"`
	SpecificNeeds        string `json:"SpecificNeeds"`
	StudyRoutine         string `json:"StudyRoutine,omitempty"`
	WorkRoutine          string `json:"WorkRoutine,omitempty"`
	ComplexityLevel      string `json:"ComplexityLevel"`
	FocusMode            bool   `json:"FocusMode"`
	SummaryMode          bool   `json:"SummaryMode"`
	SpacingLevel         string `json:"SpacingLevel"`
	FontSize             string `json:"FontSize"`
	CognitiveAlerts      bool   `json:"CognitiveAlerts"`
	AnimationsEnabled    bool   `json:"AnimationsEnabled"`
	AlertIntervalMinutes int    `json:"AlertIntervalMinutes"`
}

type userUpdate struct {
	entity
	NavigationProfile    *string `json:"NavigationProfile,omitempty"`
	SpecificNeeds        *string `json:"SpecificNeeds,omitempty"`
	ComplexityLevel      *string `json:"ComplexityLevel,omitempty"`
	FocusMode            *bool   `json:"FocusMode,omitempty"`
	SummaryMode          *bool   `json:"SummaryMode,omitempty"`
	SpacingLevel         *string `json:"SpacingLevel,omitempty"`
	FontSize             *string `json:"FontSize,omitempty"`
	CognitiveAlerts      *bool   `json:"CognitiveAlerts,omitempty"`
	AnimationsEnabled    *bool   `json:"AnimationsEnabled,omitempty"`
	AlertIntervalMinutes *int    `json:"AlertIntervalMinutes,omitempty"`
}

func encodeList(v any) (string, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList[T any](s string) ([]T, error) {
	out := []T{}
	if s == "" {
		return out, nil
	}
	if err := sonic.UnmarshalString(s, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func newTaskEntity(t domain.Task) (taskEntity, error) {
	tags, err := encodeList(nonNil(t.Tags))
	if err != nil {
		return taskEntity{}, err
	}
	subtasks, err := encodeList(nonNil(t.Subtasks))
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		entity:             entity{PartitionKey: t.UserID, RowKey: t.ID},
		Title:              t.Title,
		Description:        t.Description,
		Status:             string(t.Status),
		CognitiveLoad:      string(t.CognitiveLoad),
		Tags:               tags,
		EstimatedPomodoros: t.EstimatedPomodoros,
		CompletedPomodoros: t.CompletedPomodoros,
		Subtasks:           subtasks,
		Order:              t.Order,
		CreatedAt:          t.CreatedAt.UnixMilli(),
		CreatedAtType:      edmInt64,
	}
	if t.DueDate != nil {
		due := t.DueDate.UnixMilli()
		ent.DueDate = &due
		ent.DueDateType = edmInt64
	}
	return ent, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	tags, err := decodeList[string](ent.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	subtasks, err := decodeList[domain.Subtask](ent.Subtasks)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:                 ent.RowKey,
		UserID:             ent.PartitionKey,
		Title:              ent.Title,
		Description:        ent.Description,
		Status:             domain.Status(ent.Status),
		CognitiveLoad:      domain.CognitiveLoad(ent.CognitiveLoad),
		Tags:               tags,
		EstimatedPomodoros: ent.EstimatedPomodoros,
		CompletedPomodoros: ent.CompletedPomodoros,
		Subtasks:           subtasks,
		Order:              ent.Order,
		CreatedAt:          time.UnixMilli(ent.CreatedAt).UTC(),
	}
	if ent.DueDate != nil {
		due := time.UnixMilli(*ent.DueDate).UTC()
		t.DueDate = &due
	}
	return t, nil
}

func newTaskUpdate(userID, taskID string, p domain.TaskPatch) (taskUpdate, error) {
	upd := taskUpdate{
		entity:             entity{PartitionKey: userID, RowKey: taskID},
		Title:              p.Title,
		Description:        p.Description,
		EstimatedPomodoros: p.EstimatedPomodoros,
		CompletedPomodoros: p.CompletedPomodoros,
		Order:              p.Order,
	}
	if p.Status != nil {
		s := string(*p.Status)
		upd.Status = &s
	}
	if p.CognitiveLoad != nil {
		l := string(*p.CognitiveLoad)
		upd.CognitiveLoad = &l
	}
	if p.Tags != nil {
		tags, err := encodeList(nonNil(*p.Tags))
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Tags = &tags
	}
	if p.Subtasks != nil {
		subtasks, err := encodeList(nonNil(*p.Subtasks))
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Subtasks = &subtasks
	}
	if p.DueDate != nil {
		due := p.DueDate.UnixMilli()
		typ := edmInt64
		upd.DueDate = &due
		upd.DueDateType = &typ
	}
	return upd, nil
}

func newSessionEntity(s domain.PomodoroSession) sessionEntity {
	ent := sessionEntity{
		entity:        entity{PartitionKey: s.UserID, RowKey: s.ID},
		TaskID:        s.TaskID,
		Type:          string(s.Type),
		StartTime:     s.StartTime.UnixMilli(),
		StartTimeType: edmInt64,
		Duration:      s.Duration,
		Completed:     s.Completed,
	}
	if s.EndTime != nil {
		end := s.EndTime.UnixMilli()
		ent.EndTime = &end
		ent.EndTimeType = edmInt64
	}
	return ent
}

func decodeSessionEntity(data []byte) (domain.PomodoroSession, error) {
	var ent sessionEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.PomodoroSession{}, err
	}
	s := domain.PomodoroSession{
		ID:        ent.RowKey,
		UserID:    ent.PartitionKey,
		TaskID:    ent.TaskID,
		Type:      domain.Phase(ent.Type),
		StartTime: time.UnixMilli(ent.StartTime).UTC(),
		Duration:  ent.Duration,
		Completed: ent.Completed,
	}
	if ent.EndTime != nil {
		end := time.UnixMilli(*ent.EndTime).UTC()
		s.EndTime = &end
	}
	return s, nil
}

func newUserEntity(info domain.UserInfo) (userEntity, error) {
	needs, err := encodeList(nonNil(info.SpecificNeeds))
	if err != nil {
		return userEntity{}, err
	}
	p := info.CognitivePreferences
	return userEntity{
		entity:               entity{PartitionKey: info.ID, RowKey: info.ID},
		Name:                 info.Name,
		Email:                info.Email,
		AvatarURL:            info.AvatarURL,
		NavigationProfile:    string(info.NavigationProfile),
		SpecificNeeds:        needs,
		StudyRoutine:         info.StudyRoutine,
		WorkRoutine:          info.WorkRoutine,
		ComplexityLevel:      string(p.ComplexityLevel),
		FocusMode:            p.FocusMode,
		SummaryMode:          p.SummaryMode,
		SpacingLevel:         string(p.SpacingLevel),
		FontSize:             string(p.FontSize),
		CognitiveAlerts:      p.CognitiveAlerts,
		AnimationsEnabled:    p.AnimationsEnabled,
		AlertIntervalMinutes: p.AlertIntervalMinutes,
	}, nil
}

func decodeUserEntity(data []byte) (domain.UserInfo, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.UserInfo{}, err
	}
	needs, err := decodeList[string](ent.SpecificNeeds)
	if err != nil {
		return domain.UserInfo{}, err
	}
	info := domain.UserInfo{
		ID:                ent.RowKey,
		Name:              ent.Name,
		Email:             ent.Email,
		AvatarURL:         ent.AvatarURL,
		NavigationProfile: domain.NavigationProfile(ent.NavigationProfile),
		SpecificNeeds:     needs,
		StudyRoutine:      ent.StudyRoutine,
		WorkRoutine:       ent.WorkRoutine,
		CognitivePreferences: domain.CognitivePreferences{
			ComplexityLevel:      domain.ComplexityLevel(ent.ComplexityLevel),
			FocusMode:            ent.FocusMode,
			SummaryMode:          ent.SummaryMode,
			SpacingLevel:         domain.SpacingLevel(ent.SpacingLevel),
			FontSize:             domain.FontSize(ent.FontSize),
			CognitiveAlerts:      ent.CognitiveAlerts,
			AnimationsEnabled:    ent.AnimationsEnabled,
			AlertIntervalMinutes: ent.AlertIntervalMinutes,
		},
	}
	if info.CognitivePreferences.AlertIntervalMinutes <= 0 {
		info.CognitivePreferences.AlertIntervalMinutes = domain.DefaultAlertIntervalMinutes
	}
	return info, nil
}

func newPreferencesUpdate(userID string, p domain.PreferencesPatch) userUpdate {
	upd := userUpdate{
		entity:               entity{PartitionKey: userID, RowKey: userID},
		FocusMode:            p.FocusMode,
		SummaryMode:          p.SummaryMode,
		CognitiveAlerts:      p.CognitiveAlerts,
		AnimationsEnabled:    p.AnimationsEnabled,
		AlertIntervalMinutes: p.AlertIntervalMinutes,
	}
	if p.ComplexityLevel != nil {
		v := string(*p.ComplexityLevel)
		upd.ComplexityLevel = &v
	}
	if p.SpacingLevel != nil {
		v := string(*p.SpacingLevel)
		upd.SpacingLevel = &v
	}
	if p.FontSize != nil {
		v := string(*p.FontSize)
		upd.FontSize = &v
	}
	return upd
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
