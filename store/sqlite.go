package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type historyRow struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:64;not null;uniqueIndex:idx_history_key,priority:1"`
	Day       int    `gorm:"not null;uniqueIndex:idx_history_key,priority:2"`
	Kind      string `gorm:"size:16;not null;uniqueIndex:idx_history_key,priority:3"`
	ActorID   string `gorm:"size:64;not null;uniqueIndex:idx_history_key,priority:4"`
	Payload   []byte
	CreatedAt time.Time
}

func (historyRow) TableName() string { return "action_history" }

type outcomeRow struct {
	SessionID  string `gorm:"primaryKey;size:64"`
	ChannelID  string `gorm:"size:64;index"`
	Winner     string `gorm:"size:16"`
	Day        int
	Void       bool
	Roles      []byte
	FinishedAt time.Time
}

func (outcomeRow) TableName() string { return "outcomes" }

// SQLiteStore 基于 gorm 的 SQLite 历史存储
type SQLiteStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ services.HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore 打开数据库并建表，dsn 为空时使用内存数据库
func NewSQLiteStore(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, logger: logger.With("component", "store")}
	for _, model := range []any{&historyRow{}, &outcomeRow{}} {
		s.logger.Debug("creating table", "model", fmt.Sprintf("%T", model))
		if err := db.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) Append(ctx context.Context, record models.HistoryRecord) error {
	row := historyRow{
		SessionID: record.SessionID,
		Day:       record.Day,
		Kind:      string(record.Kind),
		ActorID:   record.ActorID,
		Payload:   record.Payload,
		CreatedAt: record.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s/%d/%s/%s", ErrDuplicateRecord, record.SessionID, record.Day, record.Kind, record.ActorID)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]models.HistoryRecord, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("day, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]models.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.HistoryRecord{
			SessionID: r.SessionID,
			Day:       r.Day,
			Kind:      models.ActionKind(r.Kind),
			ActorID:   r.ActorID,
			Payload:   r.Payload,
			CreatedAt: r.CreatedAt,
		})
	}
	return records, nil
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome models.Outcome) error {
	roles, err := json.Marshal(outcome.Roles)
	if err != nil {
		return err
	}
	row := outcomeRow{
		SessionID:  outcome.SessionID,
		ChannelID:  outcome.ChannelID,
		Winner:     string(outcome.Winner),
		Day:        outcome.Day,
		Void:       outcome.Void,
		Roles:      roles,
		FinishedAt: outcome.FinishedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: outcome %s", ErrDuplicateRecord, outcome.SessionID)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) Outcome(ctx context.Context, sessionID string) (*models.Outcome, error) {
	var row outcomeRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: outcome %s", services.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	outcome := &models.Outcome{
		SessionID:  row.SessionID,
		ChannelID:  row.ChannelID,
		Winner:     models.Team(row.Winner),
		Day:        row.Day,
		Void:       row.Void,
		FinishedAt: row.FinishedAt,
	}
	if len(row.Roles) > 0 {
		if err := json.Unmarshal(row.Roles, &outcome.Roles); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
