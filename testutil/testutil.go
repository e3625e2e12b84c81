package testutil

import (
	"net/url"
	"os"
	"strings"
	"testing"

	"eventquiz/database"
	"eventquiz/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB migrates a throwaway schema in TEST_DATABASE_URL and returns a
// handle bound to it. Tests are skipped when the variable is unset.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	base := os.Getenv("TEST_DATABASE_URL")
	if base == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	admin, err := gorm.Open(postgres.Open(base), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	adminSQL, err := admin.DB()
	if err != nil {
		t.Fatalf("Failed to get admin handle: %v", err)
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if err := admin.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	dsn, err := withSearchPath(base, schema)
	if err != nil {
		t.Fatalf("Failed to build schema DSN: %v", err)
	}
	if err := database.RunMigrations(dsn); err != nil {
		t.Fatalf("Failed to migrate test schema: %v", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("Failed to open test schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get test handle: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
		admin.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE")
		adminSQL.Close()
	})
	return db
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CreateEvent inserts an active event.
func CreateEvent(t *testing.T, db *gorm.DB, slug string) models.Event {
	t.Helper()

	event := models.Event{Slug: slug, Name: slug, IsActive: true}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("Failed to create event: %v", err)
	}
	return event
}

// CreateUser inserts a user with the given external id.
func CreateUser(t *testing.T, db *gorm.DB, tgID int64, name string) models.User {
	t.Helper()

	user := models.User{TgID: tgID, Username: &name, DisplayName: &name}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

// CreateParticipant enrolls user in event with a starting score.
func CreateParticipant(t *testing.T, db *gorm.DB, eventID, userID uint, name string, score int) models.Participant {
	t.Helper()

	p := models.Participant{EventID: eventID, UserID: userID, DisplayName: &name}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("Failed to create participant: %v", err)
	}
	if score != 0 {
		if err := db.Model(&p).Update("score", score).Error; err != nil {
			t.Fatalf("Failed to set participant score: %v", err)
		}
		p.Score = score
	}
	return p
}

// Enroll creates a user and its participant in one step.
func Enroll(t *testing.T, db *gorm.DB, eventID uint, tgID int64, name string, score int) (models.User, models.Participant) {
	t.Helper()

	user := CreateUser(t, db, tgID, name)
	return user, CreateParticipant(t, db, eventID, user.ID, name, score)
}

// QuestionSpec is a compact question fixture.
type QuestionSpec struct {
	Text    string
	Options []string
	Correct int
}

// CreateRound inserts a closed round with questions at q_index 0..n-1.
func CreateRound(t *testing.T, db *gorm.DB, eventID uint, title string, bank bool, questions ...QuestionSpec) models.Round {
	t.Helper()

	round := models.Round{EventID: eventID, Title: title, IsBank: bank}
	if err := db.Create(&round).Error; err != nil {
		t.Fatalf("Failed to create round: %v", err)
	}
	for i, q := range questions {
		question := models.Question{
			RoundID:      round.ID,
			QIndex:       i,
			Text:         q.Text,
			Options:      datatypes.JSONSlice[string](q.Options),
			CorrectIndex: q.Correct,
		}
		if err := db.Create(&question).Error; err != nil {
			t.Fatalf("Failed to create question: %v", err)
		}
		round.Questions = append(round.Questions, question)
	}
	return round
}

// LoadRound reloads a round row.
func LoadRound(t *testing.T, db *gorm.DB, id uint) models.Round {
	t.Helper()

	var round models.Round
	if err := db.First(&round, id).Error; err != nil {
		t.Fatalf("Failed to load round %d: %v", id, err)
	}
	return round
}

// Score reads a participant's stored score.
func Score(t *testing.T, db *gorm.DB, participantID uint) int {
	t.Helper()

	var p models.Participant
	if err := db.First(&p, participantID).Error; err != nil {
		t.Fatalf("Failed to load participant %d: %v", participantID, err)
	}
	return p.Score
}
