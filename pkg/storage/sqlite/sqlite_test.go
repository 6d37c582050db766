package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func nextDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

func TestCounterRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	adm, err := storage.CompareAndIncrement(ctx, db, "instagram_reels", 50, now, nextDay)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if !adm.Allowed || adm.Count != 1 {
		t.Fatalf("unexpected admission %+v", adm)
	}

	c, ok, err := db.GetCounter(ctx, "instagram_reels")
	if err != nil || !ok {
		t.Fatalf("get counter: ok=%v err=%v", ok, err)
	}
	if c.Count != 1 {
		t.Fatalf("expected count 1, got %d", c.Count)
	}
	if !c.ResetAt.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset %v", c.ResetAt)
	}
	if !c.LastUpdate.Equal(now) {
		t.Fatalf("unexpected last update %v", c.LastUpdate)
	}
}

func TestCountersSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quota.db")
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	db, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := storage.CompareAndIncrement(ctx, db, "facebook", 200, now, nextDay); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	c, ok, err := db.GetCounter(ctx, "facebook")
	if err != nil || !ok || c.Count != 3 {
		t.Fatalf("expected persisted count 3, got %+v ok=%v err=%v", c, ok, err)
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.CompareAndIncrement(ctx, db, "x_free_daily", 1000, now, nextDay); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	c, _, err := db.GetCounter(ctx, "x_free_daily")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Count != 20 {
		t.Fatalf("expected 20 increments, got %d", c.Count)
	}
}

func TestListAndDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	for _, key := range []string{"x_free_daily", "x_free_monthly", "x_pro_daily", "tiktok_daily"} {
		if _, err := storage.Refresh(ctx, db, key, now, nextDay); err != nil {
			t.Fatalf("refresh %s: %v", key, err)
		}
	}

	got, err := db.ListCounters(ctx, "x_free_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Key != "x_free_daily" || got[1].Key != "x_free_monthly" {
		t.Fatalf("unexpected counters %+v", got)
	}

	// "_" is a LIKE wildcard and must be matched literally.
	if err := db.DeleteCounters(ctx, "x_"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, _ := db.ListCounters(ctx, "")
	if len(all) != 1 || all[0].Key != "tiktok_daily" {
		t.Fatalf("unexpected remaining counters %+v", all)
	}
}

func TestPublishHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	recs := []storage.PublishRecord{
		{ID: "a", SourceID: "yt-1", Target: "instagram_reels", MediaID: "m1", PostID: "p1", PublishedAt: base},
		{ID: "b", SourceID: "yt-1", Target: "tiktok", PostID: "pub-1", PublishedAt: base.Add(time.Minute)},
		{ID: "c", SourceID: "yt-2", Target: "tiktok", PostID: "pub-2", PublishedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		if err := db.RecordPublish(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	exists, err := db.PublishExists(ctx, "yt-1", "tiktok")
	if err != nil || !exists {
		t.Fatalf("expected yt-1 on tiktok, exists=%v err=%v", exists, err)
	}
	exists, _ = db.PublishExists(ctx, "yt-2", "instagram_reels")
	if exists {
		t.Fatalf("did not expect yt-2 on instagram_reels")
	}

	got, err := db.ListPublishes(ctx, storage.HistoryFilter{Target: "tiktok"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected history %+v", got)
	}

	got, _ = db.ListPublishes(ctx, storage.HistoryFilter{SourceID: "yt-1", Limit: 1})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected filtered history %+v", got)
	}
}

func TestReservationsAreSharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quota.db")
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	first, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if adm, err := storage.Reserve(ctx, first, "tiktok_hourly", 1, now, nextDay, 15*time.Minute); err != nil || !adm.Allowed {
		t.Fatalf("first reserve: %+v %v", adm, err)
	}
	adm, err := storage.Reserve(ctx, second, "tiktok_hourly", 1, now, nextDay, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if adm.Allowed || adm.Held != 1 {
		t.Fatalf("second handle should see the hold, got %+v", adm)
	}

	c, _, err := second.GetCounter(ctx, "tiktok_hourly")
	if err != nil || len(c.Holds) != 1 || !c.Holds[0].Equal(now.Add(15*time.Minute)) {
		t.Fatalf("holds not persisted: %+v %v", c, err)
	}
}

func TestOldSchemaGetsHoldsColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`CREATE TABLE quota_counters (
		key TEXT PRIMARY KEY, count INTEGER NOT NULL DEFAULT 0,
		reset_at INTEGER NOT NULL DEFAULT 0, last_update INTEGER NOT NULL DEFAULT 0);
		INSERT INTO quota_counters (key, count, reset_at, last_update) VALUES ('facebook', 4, 1777680000000, 0);`)
	if err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	db, err := New(path)
	if err != nil {
		t.Fatalf("open old database: %v", err)
	}
	defer db.Close()
	c, ok, err := db.GetCounter(ctx, "facebook")
	if err != nil || !ok || c.Count != 4 || c.Holds != nil {
		t.Fatalf("unexpected migrated counter %+v ok=%v err=%v", c, ok, err)
	}
}
