package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestIsDuplicateKey(t *testing.T) {
	if !IsDuplicateKey(&pq.Error{Code: "23505"}) {
		t.Error("23505 should be a duplicate key")
	}
	if IsDuplicateKey(&pq.Error{Code: "42703"}) {
		t.Error("42703 is not a duplicate key")
	}
	if IsDuplicateKey(sql.ErrNoRows) {
		t.Error("ErrNoRows is not a duplicate key")
	}
}

func TestBumpProxyStatsColumns(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE proxies SET success_count = success_count \+ 1`).
		WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.BumpProxyStats(context.Background(), 7, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mock.ExpectExec(`UPDATE proxies SET error_count = error_count \+ 1`).
		WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.BumpProxyStats(context.Background(), 7, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertSubredditsPreservesCuration(t *testing.T) {
	s, mock := newMockStore(t)
	// The upsert statement must let existing curated values win.
	mock.ExpectExec(`review=COALESCE\(reddit_subreddits\.review, EXCLUDED\.review\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := s.UpsertSubreddits(context.Background(), []Subreddit{{Name: "foo"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertSubredditsEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	if err := s.UpsertSubreddits(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListNamesPagedStopsOnShortPage(t *testing.T) {
	s, mock := newMockStore(t)

	first := sqlmock.NewRows([]string{"name"})
	for _, n := range []string{"a", "b", "c"} {
		first.AddRow(n)
	}
	second := sqlmock.NewRows([]string{"name"}).AddRow("d")

	mock.ExpectQuery(`SELECT name FROM reddit_subreddits\s+ORDER BY name LIMIT 10000 OFFSET 0`).
		WillReturnRows(first)
	// First page had 3 rows, so the discovered page size is 3; a short page ends the scan.
	mock.ExpectQuery(`SELECT name FROM reddit_subreddits\s+ORDER BY name LIMIT 10000 OFFSET 3`).
		WillReturnRows(second)

	names, err := s.ListAllSubredditNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 names, got %v", names)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListNamesPagedEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT name FROM reddit_subreddits`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	names, err := s.ListAllSubredditNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no names, got %v", names)
	}
}

func TestLatestLogTimeNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT timestamp FROM system_logs`).
		WithArgs("reddit_scraper").WillReturnError(sql.ErrNoRows)
	ts, err := s.LatestLogTime(context.Background(), "reddit_scraper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("expected zero time, got %v", ts)
	}
}

func TestInsertLogsBindsContext(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO system_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := s.InsertLogs(context.Background(), []LogEntry{{
		Timestamp:  time.Now(),
		Source:     "reddit_scraper",
		ScriptName: "reddit_harvester",
		Level:      "info",
		Message:    "cycle complete",
		Context:    map[string]any{"subreddits": 12},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
