package catalog

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/alexbotov/prizewheel/internal/database"
	"github.com/alexbotov/prizewheel/internal/domain"
	"go.uber.org/zap"
)

func TestSanitize(t *testing.T) {
	s := New(nil, zap.NewNop())

	prizes := []domain.PrizeDefinition{
		{ID: "p1", Name: "Latte", Weight: 10},
		{ID: "", Name: "No id", Weight: 10},
		{ID: "p2", Name: "Negative", Weight: -1},
		{ID: "p3", Name: "", Weight: 5},
		{ID: "p4", Name: "NaN", Weight: math.NaN()},
		{ID: "p1", Name: "Duplicate", Weight: 3},
		{ID: "p5", Name: "Bad image", Weight: 1, ImageURL: "not a url"},
		{ID: "p6", Name: "Muffin", Weight: 0, ImageURL: "https://cdn.example.com/muffin.png"},
	}

	got := s.Sanitize("m1", prizes)
	if len(got) != 2 {
		t.Fatalf("Expected 2 valid prizes, got %d: %+v", len(got), got)
	}
	if got[0].ID != "p1" || got[0].Name != "Latte" || got[1].ID != "p6" {
		t.Errorf("Unexpected prizes kept: %+v", got)
	}
}

func TestStoreLoad(t *testing.T) {
	dsn := os.Getenv("WHEEL_TEST_DSN")
	if dsn == "" {
		t.Skip("WHEEL_TEST_DSN not set")
	}
	db, err := database.New("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	db.CleanData()

	ctx := context.Background()
	s := New(db.DB, nil)

	t.Run("UnknownMerchant", func(t *testing.T) {
		if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrMerchantNotFound) {
			t.Errorf("Expected ErrMerchantNotFound, got %v", err)
		}
	})

	t.Run("LoadsPrizesInOrder", func(t *testing.T) {
		mustExec(t, db, `INSERT INTO merchants (id, name) VALUES ('m1', 'Joe''s Coffee')`)
		mustExec(t, db, `INSERT INTO wheel_settings (merchant_id, unlucky_probability, retry_probability) VALUES ('m1', 12.5, 7.5)`)
		mustExec(t, db, `INSERT INTO prizes (id, merchant_id, name, probability, position) VALUES
			('p2', 'm1', 'Muffin', 20, 2),
			('p1', 'm1', 'Latte', 40.25, 1),
			('p3', 'm1', 'Old', 10, 3)`)
		mustExec(t, db, `UPDATE prizes SET active = FALSE WHERE id = 'p3'`)

		c, err := s.Load(ctx, "m1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !c.Enabled || c.MerchantName != "Joe's Coffee" {
			t.Errorf("Unexpected merchant fields: %+v", c)
		}
		if len(c.Prizes) != 2 || c.Prizes[0].ID != "p1" || c.Prizes[0].Weight != 40.25 {
			t.Errorf("Unexpected prizes: %+v", c.Prizes)
		}
		if c.Unlucky.Weight != 12.5 || c.Retry.Weight != 7.5 {
			t.Errorf("Unexpected special weights: %+v %+v", c.Unlucky, c.Retry)
		}
	})
}

func mustExec(t *testing.T, db *database.DB, query string) {
	t.Helper()
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}
