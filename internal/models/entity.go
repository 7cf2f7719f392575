package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the fields shared by every persistent record.
// IsDeleted is zero for live rows and the deletion epoch otherwise;
// readers filter on it instead of removing rows.
type BaseEntity struct {
	ID        string `json:"id" badgerhold:"key"`
	UserID    string `json:"user_id"`
	GroupID   string `json:"group_id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	IsDeleted int64  `json:"is_deleted"`
}

// NewBaseEntity returns an envelope with a fresh id and current timestamps
func NewBaseEntity(userID, groupID string) BaseEntity {
	now := time.Now().Unix()
	return BaseEntity{
		ID:        uuid.New().String(),
		UserID:    userID,
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch refreshes UpdatedAt
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now().Unix()
}

// SoftDelete stamps the deletion time and refreshes UpdatedAt
func (e *BaseEntity) SoftDelete() {
	now := time.Now().Unix()
	e.IsDeleted = now
	e.UpdatedAt = now
}

// IsLive reports whether the row has not been soft-deleted
func (e *BaseEntity) IsLive() bool {
	return e.IsDeleted == 0
}
