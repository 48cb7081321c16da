package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew      = "activity.store.new"
	opRecordMessage = "activity.record_message"
)

// ServiceError carries a dotted operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig describes the dependencies required by the activity store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store accumulates per-user, per-channel message counters. It is the single
// source of truth between snapshots.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the activity store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// RecordMessage counts one qualifying message. The merge policy is explicit:
// message_count accumulates, while username, roles, channel_name and
// last_message are overwritten with the supplied values (last writer wins).
// The upsert is a single ON CONFLICT statement, so concurrent calls for the
// same (user, channel) cannot lose an increment.
func (s *Store) RecordMessage(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return newServiceError(opRecordMessage, "invalid_message", err)
	}

	now := s.clock().UTC()
	record := Record{
		UserID:       msg.UserID,
		ChannelID:    msg.ChannelID,
		Username:     msg.Username,
		Roles:        joinRoles(msg.Roles),
		ChannelName:  msg.ChannelName,
		MessageCount: 1,
		LastMessage:  now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "channel_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"username":      record.Username,
			"roles":         record.Roles,
			"channel_name":  record.ChannelName,
			"last_message":  now,
		}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Error("activity store error",
			zap.String("operation", opRecordMessage),
			zap.String("reason", "upsert_failed"),
			zap.Error(err),
			zap.String("user_id", msg.UserID),
			zap.String("channel_id", msg.ChannelID))
		return newServiceError(opRecordMessage, "upsert_failed", err)
	}

	return nil
}
