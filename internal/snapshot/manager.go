package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/tally/internal/activity"
	"github.com/MarcoPoloResearchLab/tally/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// insertBatchSize bounds one bulk insert so a large activity store cannot
// exceed the sqlite statement parameter limit.
const insertBatchSize = 1000

var (
	// ErrSnapshotNotFound indicates the referenced snapshot id does not exist.
	ErrSnapshotNotFound = errors.New("snapshot: not found")

	errMissingDatabase = errors.New("database handle is required")
	errEmptyStore      = errors.New("activity store is empty")
	noOpLogger         = zap.NewNop()
)

const (
	opManagerNew = "snapshot.manager.new"
	opCreate     = "snapshot.create"
	opList       = "snapshot.list"
	opGet        = "snapshot.get"
	opDelete     = "snapshot.delete"
	opLatest     = "snapshot.latest"
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

// EventPublisher receives snapshot lifecycle events after commit.
type EventPublisher interface {
	Publish(events.Event)
}

// ManagerConfig describes the dependencies required by the snapshot manager.
type ManagerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Events   EventPublisher
}

// Manager materializes the activity store into immutable snapshots and owns
// their whole lifecycle: creation, listing, detailed retrieval and deletion.
type Manager struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	events EventPublisher
}

// NewManager constructs the snapshot manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opManagerNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Manager{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
		events: cfg.Events,
	}, nil
}

// snapshotName derives a unique, lexicographically time-ordered name from the
// creation instant.
func snapshotName(now time.Time) string {
	return "activity-" + now.UTC().Format("20060102T150405.000000000")
}

// Create freezes the current activity store into a new snapshot inside one
// transaction. An empty store is a defined no-op: nothing is persisted and
// (nil, nil) is returned, so history never accumulates empty snapshots.
func (m *Manager) Create(ctx context.Context) (*Created, error) {
	now := m.clock().UTC()
	snap := Snapshot{Name: snapshotName(now), CreatedAt: now}
	var frozen []Record

	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&snap).Error; err != nil {
			return newServiceError(opCreate, "snapshot_insert_failed", err)
		}

		var live []activity.Record
		if err := tx.Order("user_id ASC, message_count DESC").Find(&live).Error; err != nil {
			return newServiceError(opCreate, "activity_read_failed", err)
		}
		if len(live) == 0 {
			return errEmptyStore
		}

		frozen = make([]Record, 0, len(live))
		for _, row := range live {
			frozen = append(frozen, Record{
				SnapshotID:   snap.ID,
				UserID:       row.UserID,
				ChannelID:    row.ChannelID,
				Username:     row.Username,
				Roles:        row.Roles,
				ChannelName:  row.ChannelName,
				MessageCount: row.MessageCount,
				LastMessage:  row.LastMessage,
			})
		}

		if err := tx.CreateInBatches(&frozen, insertBatchSize).Error; err != nil {
			return newServiceError(opCreate, "record_insert_failed", err)
		}
		return nil
	})

	if errors.Is(txErr, errEmptyStore) {
		m.logger.Debug("snapshot skipped, activity store empty")
		return nil, nil
	}
	if txErr != nil {
		m.logError(opCreate, "transaction_failed", txErr)
		return nil, txErr
	}

	created := &Created{ID: snap.ID, Name: snap.Name, RecordCount: len(frozen)}
	m.logger.Info("snapshot created",
		zap.Int64("snapshot_id", created.ID),
		zap.String("name", created.Name),
		zap.Int("record_count", created.RecordCount))
	m.publish(events.Event{
		Type:        events.TypeSnapshotCreated,
		SnapshotID:  created.ID,
		Name:        created.Name,
		RecordCount: created.RecordCount,
		Timestamp:   now,
	})
	return created, nil
}

// List returns every snapshot newest first, each annotated with its frozen
// row count in a single aggregate query.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	err := m.db.WithContext(ctx).
		Model(&Snapshot{}).
		Select("snapshots.id, snapshots.name, snapshots.created_at, COUNT(snapshot_records.snapshot_id) AS record_count").
		Joins("LEFT JOIN snapshot_records ON snapshot_records.snapshot_id = snapshots.id").
		Group("snapshots.id").
		Order("snapshots.created_at DESC").
		Scan(&summaries).Error
	if err != nil {
		m.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	return summaries, nil
}

// Get returns one snapshot's metadata with per-user totals and nested
// per-channel breakdowns. ErrSnapshotNotFound is returned when the id is
// unknown.
func (m *Manager) Get(ctx context.Context, id int64) (*Detail, error) {
	var snap Snapshot
	err := m.db.WithContext(ctx).Take(&snap, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		m.logError(opGet, "snapshot_select_failed", err, zap.Int64("snapshot_id", id))
		return nil, newServiceError(opGet, "snapshot_select_failed", err)
	}

	var rows []Record
	if err := m.db.WithContext(ctx).
		Where("snapshot_id = ?", id).
		Order("user_id ASC, message_count DESC").
		Find(&rows).Error; err != nil {
		m.logError(opGet, "record_select_failed", err, zap.Int64("snapshot_id", id))
		return nil, newServiceError(opGet, "record_select_failed", err)
	}

	detail := &Detail{
		Snapshot: Summary{
			ID:          snap.ID,
			Name:        snap.Name,
			CreatedAt:   snap.CreatedAt,
			RecordCount: int64(len(rows)),
		},
		Users: projectUsers(rows),
	}
	return detail, nil
}

// projectUsers folds ordered snapshot rows into the per-user read projection.
// Rows arrive grouped by user with channels already sorted by message count.
func projectUsers(rows []Record) []UserActivity {
	users := make([]UserActivity, 0)
	indexByUser := make(map[string]int)
	for _, row := range rows {
		idx, seen := indexByUser[row.UserID]
		if !seen {
			users = append(users, UserActivity{
				UserID:   row.UserID,
				Username: row.Username,
				Roles:    row.Roles,
				Channels: make([]ChannelActivity, 0, 1),
			})
			idx = len(users) - 1
			indexByUser[row.UserID] = idx
		}
		users[idx].TotalMessages += row.MessageCount
		users[idx].Channels = append(users[idx].Channels, ChannelActivity{
			ChannelID:    row.ChannelID,
			ChannelName:  row.ChannelName,
			MessageCount: row.MessageCount,
		})
	}
	return users
}

// Delete removes one snapshot and its rows in a single transaction. When the
// deleted id is the current maximum, the autoincrement sequence is rewound to
// the highest remaining id (or zero) so the freed tail of the id space is
// reused; deleting any older snapshot leaves the sequence alone to avoid
// colliding with still-live higher ids.
func (m *Manager) Delete(ctx context.Context, id int64) (*Deleted, error) {
	sequenceReset := false
	var deletedName string

	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var snap Snapshot
		err := tx.Take(&snap, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return newServiceError(opDelete, "snapshot_select_failed", err)
		}
		deletedName = snap.Name

		var maxID int64
		if err := tx.Model(&Snapshot{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
			return newServiceError(opDelete, "max_id_select_failed", err)
		}

		if err := tx.Where("snapshot_id = ?", id).Delete(&Record{}).Error; err != nil {
			return newServiceError(opDelete, "record_delete_failed", err)
		}
		if err := tx.Delete(&Snapshot{}, "id = ?", id).Error; err != nil {
			return newServiceError(opDelete, "snapshot_delete_failed", err)
		}

		if id == maxID {
			reset := tx.Exec(
				"UPDATE sqlite_sequence SET seq = (SELECT COALESCE(MAX(id), 0) FROM snapshots) WHERE name = ?",
				Snapshot{}.TableName(),
			)
			if reset.Error != nil {
				return newServiceError(opDelete, "sequence_reset_failed", reset.Error)
			}
			sequenceReset = true
		}
		return nil
	})

	if errors.Is(txErr, ErrSnapshotNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if txErr != nil {
		m.logError(opDelete, "transaction_failed", txErr, zap.Int64("snapshot_id", id))
		return nil, txErr
	}

	m.logger.Info("snapshot deleted",
		zap.Int64("snapshot_id", id),
		zap.Bool("sequence_reset", sequenceReset))
	m.publish(events.Event{
		Type:       events.TypeSnapshotDeleted,
		SnapshotID: id,
		Name:       deletedName,
		Timestamp:  m.clock().UTC(),
	})
	return &Deleted{ID: id, SequenceReset: sequenceReset}, nil
}

// Latest returns the most recently created snapshot, or nil when none exist.
func (m *Manager) Latest(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := m.db.WithContext(ctx).Order("created_at DESC").Take(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		m.logError(opLatest, "query_failed", err)
		return nil, newServiceError(opLatest, "query_failed", err)
	}
	return &snap, nil
}

func (m *Manager) publish(event events.Event) {
	if m.events == nil {
		return
	}
	m.events.Publish(event)
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	m.logger.Error("snapshot manager error", attrs...)
}
