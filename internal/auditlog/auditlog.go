// Package auditlog appends operation records inside the caller's transaction.
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const savepointName = "audit_log"

// ErrTxAborted marks an audit failure that could not be isolated. The caller's
// transaction is unusable and must be rolled back.
var ErrTxAborted = errors.New("audit write left the transaction aborted")

// Entry describes one audited operation.
type Entry struct {
	Description string
	Kind        enums.OperationKind
	ActorID     uuid.UUID
	SubjectID   uuid.UUID
}

// Recorder is the audit surface consumed by services.
type Recorder interface {
	RecordOperation(ctx context.Context, tx *gorm.DB, entry Entry) error
}

type Log struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Log {
	return &Log{db: db}
}

// RecordOperation writes entry with tx when provided, otherwise on the base connection.
func (l *Log) RecordOperation(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if strings.TrimSpace(entry.Description) == "" {
		return errors.New("audit description required")
	}
	if entry.Kind == "" {
		return errors.New("audit kind required")
	}
	conn := l.db
	if tx != nil {
		conn = tx
	}
	record := models.OperationLog{
		Kind:        entry.Kind,
		Description: entry.Description,
		ActorID:     entry.ActorID,
		SubjectID:   entry.SubjectID,
	}
	return conn.WithContext(ctx).Create(&record).Error
}

// RecordIsolated writes entry behind a savepoint so a failed insert can be discarded
// without aborting tx. The returned error is the audit failure, if any; it wraps
// ErrTxAborted when the savepoint could not be set or rolled back.
func RecordIsolated(ctx context.Context, rec Recorder, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return rec.RecordOperation(ctx, nil, entry)
	}
	if err := tx.SavePoint(savepointName).Error; err != nil {
		return fmt.Errorf("%w: savepoint: %w", ErrTxAborted, err)
	}
	err := rec.RecordOperation(ctx, tx, entry)
	if err == nil {
		return nil
	}
	if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
		return fmt.Errorf("%w: %w", ErrTxAborted, multierr.Append(err, rbErr))
	}
	return err
}
