package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OperationLog is an append-only audit record.
type OperationLog struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Kind        enums.OperationKind `gorm:"column:kind;not null"`
	Description string              `gorm:"column:description;not null"`
	ActorID     uuid.UUID           `gorm:"column:actor_id;type:uuid;not null"`
	SubjectID   uuid.UUID           `gorm:"column:subject_id;type:uuid;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}
