package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/payee"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo payees and approved commissions",
	Long:  `Insert demo payees and approved commissions for local development and testing.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSeeder()
	},
}

func runSeeder() {
	cfg, err := loadConfig(".")
	if err != nil {
		log.Fatal(err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.LoggerWrapper()

	db, err := gorm.Open(gormpostgres.Open(cfg.Database.Source), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	if clearData {
		lg.Warn("clearing existing seed data")
		for _, table := range []string{"audit_logs", "webhook_events", "disbursement_transactions", "payment_batches", "commissions", "payees"} {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				lg.Error("failed to clear table", "table", table, "error", err)
				os.Exit(1)
			}
		}
	}

	payees := []*payee.Payee{
		{Name: "Ava Martin", Email: "ava.martin@example.com", ProviderAccountID: "acct_ava_001", Active: true},
		{Name: "Noah Chen", Email: "noah.chen@example.com", ProviderAccountID: "acct_noah_002", Active: true},
		{Name: "Mia Osei", Email: "mia.osei@example.com", ProviderAccountID: "acct_mia_003", Active: true},
		{Name: "Leo Haddad", Email: "leo.haddad@example.com", ProviderAccountID: "", Active: true},
		{Name: "Zoe Brandt", Email: "zoe.brandt@example.com", ProviderAccountID: "acct_zoe_005", Active: false},
	}
	for _, p := range payees {
		if err := db.Where(payee.Payee{Email: p.Email}).FirstOrCreate(p).Error; err != nil {
			lg.Error("failed to seed payee", "email", p.Email, "error", err)
			os.Exit(1)
		}
	}
	lg.Info("seeded payees", "count", len(payees))

	// Ava clears the threshold across several commissions, Noah with one
	// large sale, Mia stays below it to exercise the threshold branch.
	commissions := []*commission.Commission{
		{PayeeID: payees[0].ID, AmountCents: 2500, Status: commission.StatusApproved, Description: "July referrals"},
		{PayeeID: payees[0].ID, AmountCents: 3200, Status: commission.StatusApproved, Description: "August referrals"},
		{PayeeID: payees[0].ID, AmountCents: 1800, Status: commission.StatusPending, Description: "September referrals (pending review)"},
		{PayeeID: payees[1].ID, AmountCents: 7500, Status: commission.StatusApproved, Description: "Enterprise signup"},
		{PayeeID: payees[2].ID, AmountCents: 1200, Status: commission.StatusApproved, Description: "Starter plan referral"},
		{PayeeID: payees[2].ID, AmountCents: 900, Status: commission.StatusApproved, Description: "Starter plan referral"},
		{PayeeID: payees[3].ID, AmountCents: 6100, Status: commission.StatusApproved, Description: "Annual plan referral"},
	}
	for _, c := range commissions {
		if err := db.Create(c).Error; err != nil {
			lg.Error("failed to seed commission", "payee_id", c.PayeeID, "error", err)
			os.Exit(1)
		}
	}
	lg.Info("seeded commissions", "count", len(commissions))
}
