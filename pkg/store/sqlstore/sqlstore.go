// Package sqlstore implements store.Store on gorm, backed by SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getmockd/chatd/internal/id"
	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/store"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Interface compliance check
var _ store.Store = (*Store)(nil)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// participant is the conversation membership join row.
type participant struct {
	ConversationID string    `gorm:"primaryKey;size:36"`
	UserID         string    `gorm:"primaryKey;size:36;index"`
	JoinedAt       time.Time `gorm:"not null"`
}

func (participant) TableName() string { return "conversation_participants" }

// Store is a gorm-backed store.Store.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	logQuery bool
}

// WithLogger sets the logger used for store lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithQueryLog enables gorm's SQL statement log.
func WithQueryLog(enabled bool) Option {
	return func(o *options) { o.logQuery = enabled }
}

// Open connects to the database identified by driver and dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	logMode := gormlogger.Silent
	if o.logQuery {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(logMode),
		NowFunc:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite permits a single writer; serialising connections avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s := &Store{db: db, driver: driver, logger: logging.OrNop(o.logger)}
	s.logger.Debug("store connected", "driver", driver)
	return s, nil
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&store.User{}, &store.Conversation{}, &participant{}, &store.Message{}); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	s.logger.Info("schema migration complete", "driver", s.driver)
	return nil
}

// Truncate deletes every row from the chat tables.
func (s *Store) Truncate(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&store.Message{}, &participant{}, &store.Conversation{}, &store.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("sqlstore: truncate: %w", err)
			}
		}
		return nil
	})
}

// now truncates to microseconds so values round-trip through PostgreSQL unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func whereLookup(db *gorm.DB, by store.UserLookup) *gorm.DB {
	if by.ID != "" {
		return db.Where("id = ?", by.ID)
	}
	return db.Where("nickname = ?", by.Nickname)
}

// exists reports whether a users or conversations row has idValue as key.
// Those keys are UUIDs, so anything else is absent without a query.
func (s *Store) exists(ctx context.Context, model interface{}, idValue string) (bool, error) {
	if !id.IsValidUUID(idValue) {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", idValue).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserExists reports whether a matching user exists.
func (s *Store) UserExists(ctx context.Context, by store.UserLookup) (bool, error) {
	if by.ID != "" && !id.IsValidUUID(by.ID) {
		return false, nil
	}
	var count int64
	if err := whereLookup(s.db.WithContext(ctx).Model(&store.User{}), by).Count(&count).Error; err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return count > 0, nil
}

// GetUser fetches a user.
func (s *Store) GetUser(ctx context.Context, by store.UserLookup) (*store.User, error) {
	if by.ID != "" && !id.IsValidUUID(by.ID) {
		return nil, store.ErrNotFound
	}
	var u store.User
	if err := whereLookup(s.db.WithContext(ctx), by).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser registers a nickname.
func (s *Store) CreateUser(ctx context.Context, nickname string) (*store.User, error) {
	if err := store.ValidateNickname(nickname); err != nil {
		return nil, err
	}
	u := &store.User{ID: id.UUID(), Nickname: nickname, CreatedAt: now()}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// DeleteUser removes a user and their memberships.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&participant{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res := tx.Where("id = ?", userID).Delete(&store.User{})
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// CreateConversation creates a conversation with its creator as first participant.
func (s *Store) CreateConversation(ctx context.Context, name, creatorID string) (*store.Conversation, error) {
	if err := store.ValidateConversationName(name); err != nil {
		return nil, err
	}
	c := &store.Conversation{ID: id.UUID(), Name: name, CreatedAt: now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !id.IsValidUUID(creatorID) {
			return store.ErrNotFound
		}
		var count int64
		if err := tx.Model(&store.User{}).Where("id = ?", creatorID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return tx.Create(&participant{ConversationID: c.ID, UserID: creatorID, JoinedAt: c.CreatedAt}).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation fetches a conversation.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	if !id.IsValidUUID(conversationID) {
		return nil, store.ErrNotFound
	}
	var c store.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetConversationParticipants returns participants in join order.
func (s *Store) GetConversationParticipants(ctx context.Context, conversationID string) ([]store.User, error) {
	ok, err := s.exists(ctx, &store.Conversation{}, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	users := make([]store.User, 0)
	err = s.db.WithContext(ctx).
		Model(&store.User{}).
		Select("users.*").
		Joins("JOIN conversation_participants cp ON cp.user_id = users.id").
		Where("cp.conversation_id = ?", conversationID).
		Order("cp.joined_at, users.id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	return users, nil
}

// AddParticipant connects a user to a conversation; an existing membership is left untouched.
func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string) error {
	for _, check := range []struct {
		model interface{}
		id    string
	}{{&store.Conversation{}, conversationID}, {&store.User{}, userID}} {
		ok, err := s.exists(ctx, check.model, check.id)
		if err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		if !ok {
			return store.ErrNotFound
		}
	}

	row := &participant{ConversationID: conversationID, UserID: userID, JoinedAt: now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations ordered by creation time.
func (s *Store) ListConversations(ctx context.Context, participantID string) ([]store.Conversation, error) {
	convs := make([]store.Conversation, 0)
	err := s.db.WithContext(ctx).
		Model(&store.Conversation{}).
		Select("conversations.*").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", participantID).
		Order("conversations.created_at, conversations.id").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// CreateMessage persists a message.
func (s *Store) CreateMessage(ctx context.Context, authorID, conversationID, body string) (*store.Message, error) {
	if err := store.ValidateBody(body); err != nil {
		return nil, err
	}
	for _, check := range []struct {
		model interface{}
		id    string
	}{{&store.User{}, authorID}, {&store.Conversation{}, conversationID}} {
		ok, err := s.exists(ctx, check.model, check.id)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		if !ok {
			return nil, store.ErrNotFound
		}
	}

	at := now()
	m := &store.Message{
		ID:             id.ULIDAt(at),
		Body:           body,
		AuthorID:       authorID,
		ConversationID: conversationID,
		CreatedAt:      at,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// ListMessages returns the author's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, authorID string) ([]store.Message, error) {
	msgs := make([]store.Message, 0)
	if err := s.db.WithContext(ctx).Where("author_id = ?", authorID).Order("id").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ListConversationMessages returns a conversation's messages since the given time, oldest first.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, since time.Time) ([]store.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	msgs := make([]store.Message, 0)
	if err := q.Order("id").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return msgs, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
