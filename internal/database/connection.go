package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mroshb/trivia_bot/internal/config"
	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.GetDSN(), cfg.AppEnv == "development")
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Every answer holds a lock row and a round row update, so keep the pool wide
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	logger.Info("Database connected successfully")
	return db, nil
}

// Open opens a gorm handle on dsn without touching pool settings.
func Open(dsn string, verbose bool) (*gorm.DB, error) {
	logLevel := gormlogger.Error
	if verbose {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// ConnectPool opens the pgx pool the job queue runs on.
func ConnectPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.GetPgURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// OpenRoundIndex allows at most one round per chat with a pending timeout.
const OpenRoundIndex = "idx_question_rounds_open_per_chat"

func AutoMigrate(db *gorm.DB) error {
	logger.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.Question{},
		&models.QuestionRound{},
		&models.GameSession{},
		&models.ChatScore{},
		&models.GlobalScore{},
		&models.CallbackToken{},
		&models.Lock{},
		&models.QuizRun{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + OpenRoundIndex +
			" ON question_rounds (chat_id) WHERE timeout_handle IS NOT NULL",
	).Error; err != nil {
		return fmt.Errorf("failed to create open round index: %w", err)
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

func SeedQuestions(db *gorm.DB) error {
	logger.Info("Checking for seed questions...")

	var count int64
	if err := db.Model(&models.Question{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count questions: %w", err)
	}
	if count > 0 {
		return nil
	}

	logger.Info("Seeding built-in questions...")
	questions := []models.Question{
		{ID: "mcq_0", Type: models.QuestionTypeMCQ, Text: "Which planet is known as the Red Planet?", CorrectAnswer: "mars", OtherAnswers: []string{"venus", "jupiter", "mercury"}},
		{ID: "mcq_1", Type: models.QuestionTypeMCQ, Text: "What is the largest ocean on Earth?", CorrectAnswer: "pacific", OtherAnswers: []string{"atlantic", "indian", "arctic"}},
		{ID: "mcq_2", Type: models.QuestionTypeMCQ, Text: "Who is credited with inventing the telephone?", CorrectAnswer: "alexander graham bell", OtherAnswers: []string{"thomas edison", "nikola tesla"}},
		{ID: "mcq_3", Type: models.QuestionTypeMCQ, Text: "What is the currency of Japan?", CorrectAnswer: "yen", OtherAnswers: []string{"yuan", "won", "ringgit"}},
		{ID: "open_0", Type: models.QuestionTypeOpen, Text: "What is the capital of France?", CorrectAnswer: "paris"},
		{ID: "open_1", Type: models.QuestionTypeOpen, Text: "How many continents are there?", CorrectAnswer: "7"},
		{ID: "open_2", Type: models.QuestionTypeOpen, Text: "What gas do plants absorb from the air?", CorrectAnswer: "carbon dioxide"},
		{ID: "open_3", Type: models.QuestionTypeOpen, Text: "Which animal is known as the king of the jungle?", CorrectAnswer: "lion"},
	}

	return db.Create(&questions).Error
}
