package workqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseSnapshotDate(s)
	require.NoError(t, err)
	return d
}

func TestBuildDSN(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: filepath.Join(tmp, "q", "queue.db")}, want: "file:" + filepath.Join(tmp, "q", "queue.db")},
		{name: "url with token", cfg: Config{URL: "libsql://queue.example.io", AuthToken: "tok"}, want: "libsql://queue.example.io?authToken=tok"},
		{name: "url keeps existing token", cfg: Config{URL: "libsql://queue.example.io?authToken=a", AuthToken: "b"}, want: "libsql://queue.example.io?authToken=a"},
		{name: "url wins over path", cfg: Config{URL: "libsql://queue.example.io", Path: "/srv/queue.db"}, want: "libsql://queue.example.io"},
		{name: "empty", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.dsn()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoStore)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := os.Stat(filepath.Join(tmp, "q"))
	assert.NoError(t, err, "parent directory should be created")
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	key := Key{Kind: "dumps", Subject: "enwiki", Date: mustDate(t, "20150703")}
	inserted, err := s.Insert(ctx, NewItem(key, ProgressInProgress))
	require.NoError(t, err)
	assert.True(t, inserted)

	again, err := s.Insert(ctx, NewItem(key, ProgressDone))
	require.NoError(t, err)
	assert.False(t, again, "duplicate key must not insert")

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key.String(), got.Key.String())
	assert.Equal(t, ProgressInProgress, got.Progress)
	assert.False(t, got.CanArchive)
	assert.Equal(t, StateNone, got.IsArchived)
	assert.Equal(t, StateNone, got.IsChecked)
	assert.False(t, got.Claimed())

	_, err = s.Get(ctx, Key{Kind: "dumps", Subject: "dewiki", Date: key.Date})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertRejectsInvalidProgress(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), NewItem(Key{Kind: "dumps", Date: time.Now()}, "bogus"))
	require.Error(t, err)
}

func TestCountAndSelectRandom(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, subject := range []string{"enwiki", "dewiki", "frwiki"} {
		item := NewItem(Key{Kind: "dumps", Subject: subject, Date: mustDate(t, "20150703")}, ProgressDone)
		item.CanArchive = true
		_, err := s.Insert(ctx, item)
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, NewItem(Key{Kind: "dumps", Subject: "eswiki", Date: mustDate(t, "20150703")}, ProgressInProgress))
	require.NoError(t, err)

	n, err := s.Count(ctx, ArchiveCandidates("dumps"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, ArchiveCandidates("cirrussearch"))
	require.NoError(t, err)
	assert.Zero(t, n)

	item, err := s.SelectRandom(ctx, ArchiveCandidates("dumps"))
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Contains(t, []string{"enwiki", "dewiki", "frwiki"}, item.Subject)

	none, err := s.SelectRandom(ctx, ArchiveCandidates("mediacounts"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestConditionsRejectUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Count(context.Background(), Conditions{"wiki; DROP TABLE work_items": "x"})
	require.Error(t, err)
}

func TestListAndSummarize(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	dates := []string{"20150801", "20150703"}
	for _, d := range dates {
		_, err := s.Insert(ctx, NewItem(Key{Kind: "dumps", Subject: "enwiki", Date: mustDate(t, d)}, ProgressDone))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, NewItem(Key{Kind: "cirrussearch", Date: mustDate(t, "20150706")}, ProgressDone))
	require.NoError(t, err)

	items, err := s.List(ctx, Conditions{ColKind: Kind("dumps")})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "20150703", CompactDate(items[0].Date))
	assert.Equal(t, "20150801", CompactDate(items[1].Date))

	summary, err := s.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, Kind("cirrussearch"), summary[0].Kind)
	assert.Equal(t, 1, summary[0].Total)
	assert.Equal(t, Kind("dumps"), summary[1].Kind)
	assert.Equal(t, 2, summary[1].Total)
}
