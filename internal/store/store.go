// Package store is the durable persistence boundary: draft configurations,
// per-draft engine state, completed decks, and the followers listing.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cubeforge/cube-draft-backend/internal/draft"
)

var ErrNotFound = errors.New("not found")

type draftRow struct {
	ID        string `gorm:"primaryKey"`
	CubeID    string `gorm:"index"`
	Payload   []byte
	CreatedAt time.Time
}

func (draftRow) TableName() string { return "drafts" }

type draftStateRow struct {
	DraftID   string `gorm:"primaryKey"`
	State     []byte
	Mainboard []byte
	Sideboard []byte
	UpdatedAt time.Time
}

func (draftStateRow) TableName() string { return "draft_states" }

type completedDeckRow struct {
	DraftID   string `gorm:"primaryKey"`
	State     []byte
	Mainboard []byte
	Sideboard []byte
	CreatedAt time.Time
}

func (completedDeckRow) TableName() string { return "completed_decks" }

type followerRow struct {
	UserID     string `gorm:"primaryKey"`
	FollowerID string `gorm:"primaryKey"`
	CreatedAt  time.Time
}

func (followerRow) TableName() string { return "followers" }

// Store wraps the relational database.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to postgres and migrates the schema.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewWithDB(db, log)
}

// NewWithDB wraps an existing gorm handle; used by tests.
func NewWithDB(db *gorm.DB, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&draftRow{}, &draftStateRow{}, &completedDeckRow{}, &followerRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveDraft stores a static draft configuration.
func (s *Store) SaveDraft(ctx context.Context, d *draft.Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	row := draftRow{ID: d.ID, CubeID: d.CubeID, Payload: payload}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetDraft loads a static draft configuration by id.
func (s *Store) GetDraft(ctx context.Context, id string) (*draft.Draft, error) {
	var row draftRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var d draft.Draft
	if err := json.Unmarshal(row.Payload, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &d, nil
}

// SaveDraftState atomically replaces the persisted state for a draft.
// Last writer wins; the engine guarantees a single writer at a time.
func (s *Store) SaveDraftState(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error {
	st, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	main, err := json.Marshal(mainboard)
	if err != nil {
		return fmt.Errorf("encode mainboard: %w", err)
	}
	side, err := json.Marshal(sideboard)
	if err != nil {
		return fmt.Errorf("encode sideboard: %w", err)
	}
	row := draftStateRow{DraftID: draftID, State: st, Mainboard: main, Sideboard: side}
	return s.db.WithContext(ctx).Save(&row).Error
}

// LoadDraftState reads the persisted state for a draft; the boolean reports
// whether one existed.
func (s *Store) LoadDraftState(ctx context.Context, draftID string) (draft.State, draft.Board, draft.Board, bool, error) {
	var row draftStateRow
	err := s.db.WithContext(ctx).First(&row, "draft_id = ?", draftID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return draft.State{}, nil, nil, false, nil
	}
	if err != nil {
		return draft.State{}, nil, nil, false, err
	}

	var state draft.State
	var main, side draft.Board
	if err := json.Unmarshal(row.State, &state); err != nil {
		return draft.State{}, nil, nil, false, fmt.Errorf("decode state %s: %w", draftID, err)
	}
	if err := json.Unmarshal(row.Mainboard, &main); err != nil {
		return draft.State{}, nil, nil, false, fmt.Errorf("decode mainboard %s: %w", draftID, err)
	}
	if err := json.Unmarshal(row.Sideboard, &side); err != nil {
		return draft.State{}, nil, nil, false, fmt.Errorf("decode sideboard %s: %w", draftID, err)
	}
	return state, main, side, true, nil
}

// SaveCompletedDeck records the terminal state once a draft finishes.
func (s *Store) SaveCompletedDeck(ctx context.Context, draftID string, state draft.State, mainboard, sideboard draft.Board) error {
	st, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	main, err := json.Marshal(mainboard)
	if err != nil {
		return fmt.Errorf("encode mainboard: %w", err)
	}
	side, err := json.Marshal(sideboard)
	if err != nil {
		return fmt.Errorf("encode sideboard: %w", err)
	}
	row := completedDeckRow{DraftID: draftID, State: st, Mainboard: main, Sideboard: side}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Follow records follower following userID. Following twice is a no-op.
func (s *Store) Follow(ctx context.Context, userID, followerID string) error {
	row := followerRow{UserID: userID, FollowerID: followerID}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// Unfollow removes a follower edge if present.
func (s *Store) Unfollow(ctx context.Context, userID, followerID string) error {
	return s.db.WithContext(ctx).
		Delete(&followerRow{}, "user_id = ? AND follower_id = ?", userID, followerID).Error
}

// ListFollowers returns the follower ids for a user, most recent first.
func (s *Store) ListFollowers(ctx context.Context, userID string) ([]string, error) {
	var rows []followerRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.FollowerID
	}
	return out, nil
}
