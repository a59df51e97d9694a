package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	ledgerPostgres "github.com/frahmantamala/league-payments/internal/ledger/postgres"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample cities, divisions, players and one installment plan for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			for _, table := range []string{"payment_methods", "players", "divisions", "cities"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing league data")
		}

		cities := []struct {
			Name   string
			Region string
		}{
			{"Calgary", "AB"},
			{"Toronto", "ON"},
			{"Vancouver", "British Columbia"},
		}
		cityIDs := map[string]int64{}
		for _, c := range cities {
			id, err := ensureRow(db, "SELECT id FROM cities WHERE name = ?", []any{c.Name},
				"INSERT INTO cities (name, region, created_at, updated_at) VALUES (?, ?, now(), now()) RETURNING id", []any{c.Name, c.Region})
			if err != nil {
				log.Fatalf("failed to seed city %s: %v", c.Name, err)
			}
			cityIDs[c.Name] = id
			fmt.Printf("Seeded city: %s (%s)\n", c.Name, c.Region)
		}

		deadline := time.Now().UTC().AddDate(0, 2, 0).Truncate(24 * time.Hour)
		divisions := []struct {
			Name      string
			City      string
			EarlyBird string
			Regular   string
			EarlyInst string
			RegInst   string
			Count     int
		}{
			{"Calgary Co-ed A", "Calgary", "85.71", "95.24", "22.86", "25.00", 4},
			{"Toronto Men's B", "Toronto", "88.50", "100.00", "23.45", "26.55", 4},
			{"Vancouver Women's A", "Vancouver", "89.29", "98.21", "23.66", "26.02", 4},
		}
		divisionIDs := map[string]int64{}
		for _, d := range divisions {
			id, err := ensureRow(db, "SELECT id FROM divisions WHERE name = ?", []any{d.Name},
				`INSERT INTO divisions (name, city_id, early_bird_price, regular_price, early_bird_installment_price,
					regular_installment_price, installment_count, payment_deadline, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, now(), now()) RETURNING id`,
				[]any{d.Name, cityIDs[d.City], d.EarlyBird, d.Regular, d.EarlyInst, d.RegInst, d.Count, deadline})
			if err != nil {
				log.Fatalf("failed to seed division %s: %v", d.Name, err)
			}
			divisionIDs[d.Name] = id
			fmt.Printf("Seeded division: %s\n", d.Name)
		}

		players := []struct {
			First, Last, Division string
		}{
			{"Ari", "Lindqvist", "Calgary Co-ed A"},
			{"Bea", "Okafor", "Calgary Co-ed A"},
			{"Cole", "Tremblay", "Toronto Men's B"},
			{"Dana", "Singh", "Vancouver Women's A"},
		}
		playerIDs := make([]int64, 0, len(players))
		for _, p := range players {
			id, err := ensureRow(db, "SELECT id FROM players WHERE first_name = ? AND last_name = ?", []any{p.First, p.Last},
				"INSERT INTO players (first_name, last_name, division_id, created_at, updated_at) VALUES (?, ?, ?, now(), now()) RETURNING id",
				[]any{p.First, p.Last, divisionIDs[p.Division]})
			if err != nil {
				log.Fatalf("failed to seed player %s %s: %v", p.First, p.Last, err)
			}
			playerIDs = append(playerIDs, id)
			fmt.Printf("Seeded player: %s %s\n", p.First, p.Last)
		}

		// Bea pays in installments; the second charge failed and is waiting
		// for an operator to retry it on a reader.
		ledgers := ledgerService.NewService(ledgerPostgres.NewLedgerRepository(db), logger.LoggerWrapper())
		ctx := context.Background()
		if _, err := ledgers.GetByPlayerAndType(ctx, playerIDs[1], ledger.PaymentTypeInstallments); err == nil {
			fmt.Println("Sample installment plan already exists")
			return
		}

		due := func(months int) *time.Time {
			t := time.Now().UTC().AddDate(0, months, 0).Truncate(24 * time.Hour)
			return &t
		}
		amount := decimal.RequireFromString("26.25")
		schedule := make([]ledgerService.ScheduledInstallment, 4)
		for i := range schedule {
			schedule[i] = ledgerService.ScheduledInstallment{
				InvoiceID: fmt.Sprintf("in_seed_%d_%d", playerIDs[1], i+1),
				AmountDue: amount,
				DueDate:   due(i - 1),
			}
		}
		pm, err := ledgers.CreateInstallmentPlan(ctx, ledgerService.PlanParams{
			PlayerID:       playerIDs[1],
			DivisionID:     divisionIDs["Calgary Co-ed A"],
			PricingTier:    ledger.TierRegular,
			SubscriptionID: fmt.Sprintf("sub_seed_%d", playerIDs[1]),
			Schedule:       schedule,
		})
		if err != nil {
			log.Fatalf("failed to seed installment plan: %v", err)
		}

		now := time.Now().UTC()
		_, _, err = ledgers.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
			if err := ledgerService.SettleInstallment(pm, schedule[0].InvoiceID, amount, now, ""); err != nil {
				return err
			}
			return ledgerService.FailInstallment(pm, schedule[1].InvoiceID, now)
		})
		if err != nil {
			log.Fatalf("failed to mark sample installments: %v", err)
		}
		fmt.Println("Seeded installment plan with one failed installment for player", playerIDs[1])
	},
}

// ensureRow returns the id found by lookup, inserting the row when missing.
func ensureRow(db *gorm.DB, lookup string, lookupArgs []any, insert string, insertArgs []any) (int64, error) {
	var id int64
	if err := db.Raw(lookup, lookupArgs...).Row().Scan(&id); err == nil {
		return id, nil
	}
	if err := db.Raw(insert, insertArgs...).Row().Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
