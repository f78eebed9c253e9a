package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketplace-chat-api/internal/config"
	"marketplace-chat-api/internal/domain"
)

var (
	globalDB *gorm.DB
	dbMutex  sync.RWMutex
)

// GetDB returns the current database connection
func GetDB() *gorm.DB {
	dbMutex.RLock()
	defer dbMutex.RUnlock()
	return globalDB
}

// SetDB sets the global database connection
func SetDB(db *gorm.DB) {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	globalDB = db
}

// IsConnected returns true if database is connected
func IsConnected() bool {
	db := GetDB()
	if db == nil {
		return false
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// New opens the database connection, configures the pool and runs migrations.
// Connection is attempted with a timeout so the caller can fall back to
// NewAsync and keep the pod alive.
func New(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	logLevel := logger.Silent
	if cfg.Server.Env == "dev" || cfg.Server.Env == "development" {
		logLevel = logger.Info
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		conn *gorm.DB
		err  error
	)
	done := make(chan struct{})
	go func() {
		conn, err = gorm.Open(postgres.Open(cfg.Database.URL), gormConfig)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("database connection timeout")
	case <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	SetDB(conn)
	return conn, nil
}

// NewAsync retries the connection in the background without blocking startup
func NewAsync(cfg *config.Config, retryInterval time.Duration) {
	go func() {
		for {
			if IsConnected() {
				return
			}
			if _, err := New(cfg); err != nil {
				log.Printf("DB connection failed, retrying in %v: %v\n", retryInterval, err)
				time.Sleep(retryInterval)
				continue
			}
			return
		}
	}()
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Conversation{},
		&domain.ConversationParticipant{},
		&domain.Message{},
	); err != nil {
		return err
	}
	createIndexes(db)
	return nil
}

func createIndexes(db *gorm.DB) {
	// One active membership row per user per conversation
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_participant_unique
		ON conversation_participants (conversation_id, user_id) WHERE is_active = true`)

	// Message history reads are always conversation + time ordered
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages (conversation_id, created_at DESC)`)

	db.Exec(`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity
		ON conversations (last_activity DESC)`)
}
