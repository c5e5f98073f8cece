// cmd/seed appends realistic service histories to a development ledger
// through its HTTP API.
//
// The ledger is append-only, so every run adds a fresh set of blocks. To
// start over, point ledgerd at an empty database (or storage.driver=memory).
//
// Usage:
//
//	go run ./cmd/seed
//	LEDGER_URL=http://localhost:8080 LEDGER_OPERATOR=seed LEDGER_SECRET=... go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmerrifield20/serviceledger/pkg/client"
)

const defaultLedger = "http://localhost:8080"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ledgerURL := os.Getenv("LEDGER_URL")
	if ledgerURL == "" {
		ledgerURL = defaultLedger
	}

	var opts []client.Option
	switch {
	case os.Getenv("LEDGER_TOKEN") != "":
		opts = append(opts, client.WithBearerToken(os.Getenv("LEDGER_TOKEN")))
	case os.Getenv("LEDGER_SECRET") != "":
		operator := os.Getenv("LEDGER_OPERATOR")
		if operator == "" {
			operator = "seed"
		}
		opts = append(opts, client.WithOperatorCredentials(operator, os.Getenv("LEDGER_SECRET")))
	}

	c, err := client.New(ledgerURL, opts...)
	if err != nil {
		return err
	}

	ov, err := c.Overview(ctx)
	if err != nil {
		return fmt.Errorf("reach ledger at %s: %w", ledgerURL, err)
	}
	fmt.Printf("connected to ledger (%d blocks)\n", ov.Blocks)

	n, err := seed(ctx, c, vehicles)
	if err != nil {
		return err
	}

	report, err := c.Audit(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	fmt.Printf("\nseed complete: %d record(s) appended, chain valid=%t over %d block(s)\n",
		n, report.IsValid, report.TotalBlocks)
	return nil
}

// appender is the part of *client.Client used by seed.
type appender interface {
	Append(ctx context.Context, req client.AppendRequest) (*client.Record, error)
	Verify(ctx context.Context, id uuid.UUID) (*client.VerificationResult, error)
}

// seed appends every vehicle's history in service-date order and verifies
// every other record so the stats show a mix of verified and pending.
func seed(ctx context.Context, c appender, fleet []seedVehicle) (int, error) {
	appended := 0
	for _, v := range fleet {
		fmt.Printf("  vehicle %s  %s\n", v.ID, v.Label)
		for _, ev := range v.History {
			parts := make([]client.Part, len(ev.Parts))
			copy(parts, ev.Parts)
			rec, err := c.Append(ctx, client.AppendRequest{
				OwnerID:    v.OwnerID,
				VehicleID:  v.ID,
				RecordType: ev.Type,
				Payload: &client.Payload{
					ServiceDate: ev.Date,
					Description: ev.Description,
					ServiceKind: ev.Kind,
					Parts:       parts,
					LaborHours:  ev.LaborHours,
					TotalCost:   totalCost(ev),
					Technician:  ev.Technician,
					Facility:    v.Facility,
					Odometer:    ev.Odometer,
				},
			})
			if err != nil {
				return appended, fmt.Errorf("append %s for %s: %w", ev.Kind, v.Label, err)
			}
			appended++
			fmt.Printf("    block %-4d %-15s %s  %s\n", rec.BlockNumber, ev.Type, ev.Date.Format("2006-01-02"), ev.Description)

			if appended%2 == 0 {
				if _, err := c.Verify(ctx, rec.ID); err != nil {
					return appended, fmt.Errorf("verify block %d: %w", rec.BlockNumber, err)
				}
			}
		}
	}
	return appended, nil
}

// totalCost is parts plus labour at the shop rate.
func totalCost(ev seedEvent) decimal.Decimal {
	const shopRate = "120.00"
	total := decimal.RequireFromString(shopRate).Mul(decimal.NewFromFloat(ev.LaborHours))
	for _, p := range ev.Parts {
		total = total.Add(p.UnitCost.Mul(decimal.NewFromInt(int64(p.Quantity))))
	}
	return total.Round(2)
}

// ── Fleet ────────────────────────────────────────────────────────────────────

type seedEvent struct {
	Type        client.RecordType
	Date        time.Time
	Kind        string
	Description string
	Parts       []client.Part
	LaborHours  float64
	Technician  string
	Odometer    int64
}

type seedVehicle struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Label    string
	Facility string
	History  []seedEvent
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func part(name, number string, qty int, cost string) client.Part {
	return client.Part{Name: name, PartNumber: number, Quantity: qty, UnitCost: decimal.RequireFromString(cost)}
}

var vehicles = []seedVehicle{
	{
		ID:       uuid.MustParse("10000000-0000-0000-0000-000000000001"),
		OwnerID:  uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Label:    "2019 Civic (Alice)",
		Facility: "Downtown Garage",
		History: []seedEvent{
			{Type: client.RecordTypeInspection, Date: day("2025-01-12"), Kind: "pre-purchase inspection",
				Description: "Pre-purchase inspection, no faults found", LaborHours: 1, Technician: "R. Chen", Odometer: 38120},
			{Type: client.RecordTypeMaintenance, Date: day("2025-04-03"), Kind: "oil change",
				Description: "Oil and filter change, 0W-20 synthetic",
				Parts:       []client.Part{part("Oil filter", "OF-2210", 1, "9.50"), part("0W-20 oil, 1 qt", "OIL-020", 4, "8.25")},
				LaborHours:  0.5, Technician: "R. Chen", Odometer: 41960},
			{Type: client.RecordTypeRepair, Date: day("2025-09-18"), Kind: "brakes",
				Description: "Replace front brake pads and resurface rotors",
				Parts:       []client.Part{part("Front brake pad set", "BP-100", 1, "64.00")},
				LaborHours:  1.5, Technician: "M. Ortiz", Odometer: 47310},
		},
	},
	{
		ID:       uuid.MustParse("10000000-0000-0000-0000-000000000002"),
		OwnerID:  uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Label:    "2021 F-150 (Bob)",
		Facility: "Northside Service",
		History: []seedEvent{
			{Type: client.RecordTypeWarranty, Date: day("2025-02-20"), Kind: "recall",
				Description: "Warranty recall: rear axle bolt replacement",
				Parts:       []client.Part{part("Axle hub bolt", "AX-77", 6, "0.00")},
				LaborHours:  0, Technician: "J. Park", Odometer: 22400},
			{Type: client.RecordTypeMaintenance, Date: day("2025-06-11"), Kind: "tire rotation",
				Description: "Tire rotation and balance", LaborHours: 0.75, Technician: "J. Park", Odometer: 28950},
		},
	},
	{
		ID:       uuid.MustParse("10000000-0000-0000-0000-000000000003"),
		OwnerID:  uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		Label:    "2016 Outback (Carol)",
		Facility: "Eastside Auto",
		History: []seedEvent{
			{Type: client.RecordTypeServiceHistory, Date: day("2024-11-02"), Kind: "imported history",
				Description: "Imported dealer service history through 96,000 mi", Technician: "import", Odometer: 96000},
			{Type: client.RecordTypeRepair, Date: day("2025-03-27"), Kind: "timing belt",
				Description: "Timing belt, idlers and water pump",
				Parts: []client.Part{
					part("Timing belt kit", "TB-KIT-25", 1, "289.00"),
					part("Water pump", "WP-25", 1, "112.40"),
				},
				LaborHours: 4.5, Technician: "S. Ahmed", Odometer: 104880},
		},
	},
}
