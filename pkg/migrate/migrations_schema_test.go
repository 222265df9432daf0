package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keyhaven/keyhaven-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestInitSchemaContainsSettlementConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_init_schema.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no init schema migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX ux_orders_checkout_session_key",
		"CREATE UNIQUE INDEX ux_orders_external_payment_ref",
		"CONSTRAINT ck_orders_fee_split CHECK (platform_fee_cents + seller_cents = total_cents)",
		"version BIGINT NOT NULL DEFAULT 1",
		"CREATE UNIQUE INDEX ux_disputes_order_open",
		"CREATE UNIQUE INDEX ux_outbox_events_event_aggregate",
		"WHERE event_type IN ('order_paid', 'order_completed', 'order_refunded', 'payout_completed', 'payout_failed')",
		"WHERE status = 'awaiting_confirmation'",
		"DROP TABLE IF EXISTS orders",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
