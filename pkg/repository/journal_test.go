package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"proMessenger/config"
	"proMessenger/pkg/api"
)

// newTestJournal connects to TEST_DATABASE_URL and starts from an empty
// journal. The database is shared, so point it at a throwaway instance.
func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := config.SetupDatabase(ctx, url)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(db.Close)

	journal := NewJournal(db)
	if err := journal.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE order_actions"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return journal
}

func TestJournalKeepsFirstDecision(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if done, err := journal.Processed(ctx, "m1"); err != nil || done {
		t.Fatalf("Processed() before record = %v, %v", done, err)
	}

	accepted := api.OrderAction{
		MessageId: "m1",
		Action:    api.OrderActionAccept,
		Product:   "Tapis Yoga",
		Size:      "M",
		Quantity:  2,
		Total:     decimal.RequireFromString("1500.50"),
		Currency:  "MAD",
		ClientId:  "client",
		CreatedAt: at,
	}
	if err := journal.Record(ctx, accepted); err != nil {
		t.Fatalf("record: %v", err)
	}
	rejected := accepted
	rejected.Action = api.OrderActionReject
	rejected.CreatedAt = at.Add(time.Minute)
	if err := journal.Record(ctx, rejected); err != nil {
		t.Fatalf("second record: %v", err)
	}

	if done, err := journal.Processed(ctx, "m1"); err != nil || !done {
		t.Fatalf("Processed() = %v, %v", done, err)
	}

	history, err := journal.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	decimalComparer := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	timeComparer := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	if diff := cmp.Diff([]api.OrderAction{accepted}, history, decimalComparer, timeComparer); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
}

func TestJournalHistoryNewestFirst(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3"} {
		err := journal.Record(ctx, api.OrderAction{
			MessageId: id,
			Action:    api.OrderActionAccept,
			Product:   "Gourde",
			Size:      api.SizeNotApplicable,
			Quantity:  1,
			Total:     decimal.NewFromInt(20),
			Currency:  "MAD",
			ClientId:  "client",
			CreatedAt: at.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	history, err := journal.History(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, action := range history {
		ids = append(ids, action.MessageId)
	}
	if diff := cmp.Diff([]string{"m3", "m2"}, ids); diff != "" {
		t.Errorf("history ids (-want +got):\n%s", diff)
	}
}
