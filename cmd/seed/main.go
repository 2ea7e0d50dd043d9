package main

import (
	"fmt"
	"log"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/shared/config"
	"classbook/internal/shared/database"
	"classbook/internal/studios"

	"github.com/google/uuid"
)

// Fixed member ids so seeded entitlements line up with test tokens.
var (
	memberAlice  = uuid.MustParse("11111111-1111-1111-1111-111111111111") // comp credits
	memberBianca = uuid.MustParse("22222222-2222-2222-2222-222222222222") // class pack
	memberChen   = uuid.MustParse("33333333-3333-3333-3333-333333333333") // subscription
	memberDev    = uuid.MustParse("44444444-4444-4444-4444-444444444444") // drop-in only
)

type Seeder struct {
	db *database.DB
}

func main() {
	fmt.Println("🌱 Starting Classbook Database Seeder...")

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{db: db}

	// Clean database
	fmt.Println("\n🧹 Cleaning database...")
	if err := seeder.CleanDatabase(); err != nil {
		log.Fatalf("Failed to clean database: %v", err)
	}
	fmt.Println("✅ Database cleaned successfully")

	// Seed data
	fmt.Println("\n🌱 Seeding database...")
	if err := seeder.SeedAll(); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}
	fmt.Println("✅ Database seeded successfully")

	fmt.Println("\n🎉 Seeding completed! Database is ready for testing.")
}

// CleanDatabase truncates all tables in the correct order (respecting foreign key constraints)
func (s *Seeder) CleanDatabase() error {
	// Delete in reverse dependency order
	tables := []string{
		"attendance_records",
		"fee_charges",
		"idempotency_keys",
		"reservations",
		"class_instances",
		"comp_credit_balances",
		"class_pack_balances",
		"subscriptions",
		"studios",
	}

	pg := s.db.GetPostgreSQL()
	for _, table := range tables {
		if err := pg.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// SeedAll seeds studios, class instances and member entitlements
func (s *Seeder) SeedAll() error {
	studioIDs, err := s.seedStudios()
	if err != nil {
		return err
	}
	fmt.Printf("  • %d studios\n", len(studioIDs))

	instances, err := s.seedClassInstances(studioIDs)
	if err != nil {
		return err
	}
	fmt.Printf("  • %d class instances\n", instances)

	if err := s.seedEntitlements(); err != nil {
		return err
	}
	fmt.Println("  • member entitlements (comp credits, class pack, subscription)")

	return nil
}

func (s *Seeder) seedStudios() ([]uuid.UUID, error) {
	pg := s.db.GetPostgreSQL()

	rows := []studios.Studio{
		{
			Name:                     "Riverside Yoga",
			Timezone:                 "America/New_York",
			CancellationWindow:       12 * time.Hour,
			ConfirmationWindow:       24 * time.Hour,
			PromotionDeadline:        2 * time.Hour,
			LateFeeCents:             1500,
			WaitlistEnabled:          true,
			WalkInsEnabled:           true,
			RequeueExpiredPromotions: false,
		},
		{
			// No waitlist: a full class rejects instead of queueing
			Name:                     "Ironworks Strength",
			Timezone:                 "America/Chicago",
			CancellationWindow:       6 * time.Hour,
			ConfirmationWindow:       12 * time.Hour,
			PromotionDeadline:        time.Hour,
			LateFeeCents:             2000,
			WaitlistEnabled:          false,
			WalkInsEnabled:           true,
			RequeueExpiredPromotions: false,
		},
		{
			// Tight deadlines with requeue, for exercising the sweep
			Name:                     "Lakeview Pilates",
			Timezone:                 "America/Los_Angeles",
			CancellationWindow:       24 * time.Hour,
			ConfirmationWindow:       48 * time.Hour,
			PromotionDeadline:        30 * time.Minute,
			LateFeeCents:             1000,
			WaitlistEnabled:          true,
			WalkInsEnabled:           false,
			RequeueExpiredPromotions: true,
		},
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		if err := pg.Create(&rows[i]).Error; err != nil {
			return nil, fmt.Errorf("failed to seed studio %s: %w", rows[i].Name, err)
		}
		ids = append(ids, rows[i].ID)
	}
	return ids, nil
}

func (s *Seeder) seedClassInstances(studioIDs []uuid.UUID) (int, error) {
	pg := s.db.GetPostgreSQL()
	now := time.Now().UTC()

	type template struct {
		title      string
		instructor string
		startIn    time.Duration
		length     time.Duration
		capacity   int
	}

	perStudio := map[int][]template{
		0: {
			{"Vinyasa Flow", "Maya R.", 26 * time.Hour, time.Hour, 20},
			{"Restorative Evening", "Maya R.", 50 * time.Hour, 75 * time.Minute, 12},
			// Tiny class to fill quickly and exercise the waitlist
			{"Aerial Intro", "Tom K.", 30 * time.Hour, time.Hour, 2},
			// Already started; open for check-ins right away
			{"Sunrise Hatha", "Priya S.", -30 * time.Minute, time.Hour, 15},
		},
		1: {
			{"Barbell Fundamentals", "Coach Ed", 20 * time.Hour, 90 * time.Minute, 10},
			{"Conditioning Circuit", "Coach Ed", 44 * time.Hour, time.Hour, 16},
		},
		2: {
			{"Reformer Level 1", "Anna L.", 28 * time.Hour, 55 * time.Minute, 8},
			{"Mat Pilates", "Anna L.", 52 * time.Hour, 55 * time.Minute, 14},
			// Ended yesterday; the completion sweep picks it up
			{"Reformer Level 2", "Anna L.", -25 * time.Hour, 55 * time.Minute, 8},
		},
	}

	count := 0
	for idx, templates := range perStudio {
		for _, t := range templates {
			instance := classes.ClassInstance{
				StudioID:    studioIDs[idx],
				Title:       t.title,
				Instructor:  t.instructor,
				StartsAt:    now.Add(t.startIn),
				EndsAt:      now.Add(t.startIn + t.length),
				MaxCapacity: t.capacity,
				Status:      classes.InstanceStatusScheduled,
			}
			if err := pg.Create(&instance).Error; err != nil {
				return count, fmt.Errorf("failed to seed class %q: %w", t.title, err)
			}
			count++
		}
	}
	return count, nil
}

func (s *Seeder) seedEntitlements() error {
	pg := s.db.GetPostgreSQL()
	now := time.Now().UTC()

	credits := entitlements.CompCreditBalance{
		MemberID: memberAlice,
		Balance:  3,
	}
	if err := pg.Create(&credits).Error; err != nil {
		return fmt.Errorf("failed to seed comp credits: %w", err)
	}

	pack := entitlements.ClassPackBalance{
		MemberID:  memberBianca,
		Remaining: 10,
		ExpiresAt: now.Add(90 * 24 * time.Hour),
	}
	if err := pg.Create(&pack).Error; err != nil {
		return fmt.Errorf("failed to seed class pack: %w", err)
	}

	sub := entitlements.Subscription{
		MemberID:   memberChen,
		Active:     true,
		ValidUntil: now.Add(30 * 24 * time.Hour),
	}
	if err := pg.Create(&sub).Error; err != nil {
		return fmt.Errorf("failed to seed subscription: %w", err)
	}

	// memberDev gets no stored entitlements; reserve falls through to the
	// drop-in payment provider.
	_ = memberDev

	return nil
}
