package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/auth"
	"github.com/noah-isme/vaayugo-api/internal/obs"
)

var seededTables = []string{
	"shop_notifications", "domain_events", "order_items", "orders",
	"delivery_fee_rules", "discount_rules", "shops", "users", "locations",
}

func main() {
	reset := flag.Bool("reset", false, "truncate seeded tables before inserting")
	tokens := flag.Bool("tokens", false, "print access tokens for the seeded users")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if *reset {
		if err := truncate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("reset tables")
		}
		logger.Info().Strs("tables", seededTables).Msg("tables truncated")
	}

	s := seeder{db: db, logger: logger}
	users, err := s.run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().Int("users", len(users)).Msg("seeding completed")

	if *tokens {
		if err := printTokens(users); err != nil {
			logger.Fatal().Err(err).Msg("sign tokens")
		}
	}
}

func truncate(ctx context.Context, db *sql.DB) error {
	quoted := make([]string, len(seededTables))
	for i, t := range seededTables {
		quoted[i] = pq.QuoteIdentifier(t)
	}
	_, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(quoted, ", ")+" RESTART IDENTITY CASCADE")
	return err
}

type seededUser struct {
	ID   int64
	Name string
	Role string
}

type seeder struct {
	db     *sql.DB
	logger zerolog.Logger
}

func (s seeder) run(ctx context.Context) ([]seededUser, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	locations := map[string]int64{}
	for _, name := range []string{"Koramangala", "Indiranagar", "Whitefield"} {
		var id int64
		err := tx.QueryRowContext(ctx, `INSERT INTO locations (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, name).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert location %s: %w", name, err)
		}
		locations[name] = id
	}
	s.logger.Info().Int("count", len(locations)).Msg("locations seeded")

	userSeeds := []struct {
		Name     string
		Role     string
		Location string
	}{
		{"Platform Admin", "admin", ""},
		{"Asha Stationers", "shop_owner", "Koramangala"},
		{"Ravi Prints", "shop_owner", "Indiranagar"},
		{"Meera Customer", "customer", "Koramangala"},
		{"Kabir Customer", "customer", "Whitefield"},
	}
	users := make([]seededUser, 0, len(userSeeds))
	for _, u := range userSeeds {
		var loc sql.NullInt64
		if u.Location != "" {
			loc = sql.NullInt64{Int64: locations[u.Location], Valid: true}
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `INSERT INTO users (name, role, location_id) VALUES ($1, $2, $3) RETURNING id`,
			u.Name, u.Role, loc).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert user %s: %w", u.Name, err)
		}
		users = append(users, seededUser{ID: id, Name: u.Name, Role: u.Role})
	}
	s.logger.Info().Int("count", len(users)).Msg("users seeded")

	shopSeeds := []struct {
		Name     string
		Category string
		Location string
		Owner    int
	}{
		{"Asha Stationery Mart", "stationery", "Koramangala", 1},
		{"Ravi Xerox Centre", "xerox", "Indiranagar", 2},
	}
	shopIDs := make([]int64, 0, len(shopSeeds))
	for _, sh := range shopSeeds {
		var id int64
		if err := tx.QueryRowContext(ctx, `INSERT INTO shops (name, category, location_id, owner_user_id) VALUES ($1, $2, $3, $4) RETURNING id`,
			sh.Name, sh.Category, locations[sh.Location], users[sh.Owner].ID).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert shop %s: %w", sh.Name, err)
		}
		shopIDs = append(shopIDs, id)
	}
	s.logger.Info().Int("count", len(shopIDs)).Msg("shops seeded")

	discounts := []struct {
		Name        string
		Type        string
		Value       string
		MaxDiscount sql.NullString
		MinOrder    sql.NullString
		Creator     string
		CreatorID   sql.NullInt64
		Target      string
		TargetID    sql.NullString
	}{
		{"Welcome 10%", "PERCENTAGE", "10", nullString("50"), nullString("100"), "ADMIN", sql.NullInt64{}, "GLOBAL", sql.NullString{}},
		{"Koramangala flat 20", "FLAT", "20", sql.NullString{}, nullString("200"), "ADMIN", sql.NullInt64{}, "LOCATION", nullString(fmt.Sprint(locations["Koramangala"]))},
		{"Asha 5% off", "PERCENTAGE", "5", sql.NullString{}, sql.NullString{}, "SHOP", sql.NullInt64{Int64: shopIDs[0], Valid: true}, "SHOP", nullString(fmt.Sprint(shopIDs[0]))},
		{"Xerox flat 3", "FLAT", "3", sql.NullString{}, nullString("30"), "ADMIN", sql.NullInt64{}, "CATEGORY", nullString("xerox")},
	}
	for _, d := range discounts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO discount_rules
  (name, type, value, max_discount_amount, min_order_value, creator_type, creator_id, target_type, target_id)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9)`,
			d.Name, d.Type, d.Value, d.MaxDiscount, d.MinOrder, d.Creator, d.CreatorID, d.Target, d.TargetID); err != nil {
			return nil, fmt.Errorf("insert discount rule %s: %w", d.Name, err)
		}
	}
	s.logger.Info().Int("count", len(discounts)).Msg("discount rules seeded")

	fees := []struct {
		Target     string
		TargetID   sql.NullString
		Fee        string
		ShopShare  string
		PlatShare  string
		Commission string
		MinOrder   string
		SmallFee   sql.NullString
	}{
		{"GLOBAL", sql.NullString{}, "40", "20", "20", "10", "99", nullString("60")},
		{"LOCATION", nullString(fmt.Sprint(locations["Indiranagar"])), "30", "10", "20", "8", "149", nullString("50")},
		{"CATEGORY", nullString("xerox"), "25", "5", "20", "5", "0", sql.NullString{}},
	}
	for _, f := range fees {
		if _, err := tx.ExecContext(ctx, `INSERT INTO delivery_fee_rules
  (target_type, target_id, delivery_fee, shop_delivery_share, vaayugo_delivery_share, commission_percent, min_order_value, small_order_delivery_fee)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric)`,
			f.Target, f.TargetID, f.Fee, f.ShopShare, f.PlatShare, f.Commission, f.MinOrder, f.SmallFee); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "check_violation" {
				return nil, fmt.Errorf("delivery rule %s/%s violates %s: %w", f.Target, f.TargetID.String, pqErr.Constraint, err)
			}
			return nil, fmt.Errorf("insert delivery rule %s: %w", f.Target, err)
		}
	}
	s.logger.Info().Int("count", len(fees)).Msg("delivery fee rules seeded")

	return users, tx.Commit()
}

func printTokens(users []seededUser) error {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	svc, err := auth.NewService(auth.Config{
		Secret:         secret,
		AccessTokenTTL: 24 * time.Hour,
		Issuer:         os.Getenv("JWT_ISSUER"),
		Audience:       os.Getenv("JWT_AUDIENCE"),
	})
	if err != nil {
		return err
	}
	for _, u := range users {
		token, exp, err := svc.SignAccessToken(fmt.Sprint(u.ID))
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %-10s id=%d expires=%s\n  %s\n", u.Name, u.Role, u.ID, exp.Format(time.RFC3339), token)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}
