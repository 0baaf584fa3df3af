package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"stock-ledger/src/config"
	"stock-ledger/src/models"
	"stock-ledger/src/repositories"
	"stock-ledger/src/services"
)

// ledger-reconcile compares every cached quantity with its ledger sum and exits
// non-zero when any differ. It never repairs anything.
func main() {
	businessID := flag.String("business-id", "", "Optional: check only one business (uuid). If empty, checks every business with stock.")
	flag.Parse()

	cfg := config.Load()
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()

	db, err := config.InitDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not available: %v\n", err)
		os.Exit(1)
	}

	var businesses []uuid.UUID
	if raw := strings.TrimSpace(*businessID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -business-id: %v\n", err)
			os.Exit(2)
		}
		businesses = append(businesses, id)
	} else if err := db.Model(&models.VariationLocationDetail{}).
		Distinct("business_id").
		Pluck("business_id", &businesses).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list businesses: %v\n", err)
		os.Exit(1)
	}

	svc := &services.LedgerService{
		DB:     db,
		Repo:   &repositories.LedgerRepository{DB: db},
		Logger: logger,
	}

	ctx := context.Background()
	drifted := 0
	for _, bid := range businesses {
		mismatches, err := svc.Reconcile(ctx, bid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: reconcile failed: %v\n", bid, err)
			os.Exit(1)
		}
		for _, m := range mismatches {
			fmt.Printf("%s\tvariation=%s\tlocation=%s\tcache=%d\tledger=%d\n",
				bid, m.VariationID, m.LocationID, m.QtyAvailable, m.LedgerSum)
		}
		drifted += len(mismatches)
	}

	fmt.Printf("checked %d businesses, %d mismatches\n", len(businesses), drifted)
	if drifted > 0 {
		os.Exit(3)
	}
}
