package workqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkOperationsReleaseClaim(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		apply func(s *Store, key Key) (bool, error)
		check func(t *testing.T, item *WorkItem)
	}{
		{
			name:  "archived",
			apply: func(s *Store, key Key) (bool, error) { return s.MarkArchived(ctx, key) },
			check: func(t *testing.T, item *WorkItem) { assert.Equal(t, StateDone, item.IsArchived) },
		},
		{
			name:  "failed archive",
			apply: func(s *Store, key Key) (bool, error) { return s.MarkFailedArchive(ctx, key) },
			check: func(t *testing.T, item *WorkItem) { assert.Equal(t, StateFailed, item.IsArchived) },
		},
		{
			name:  "checked",
			apply: func(s *Store, key Key) (bool, error) { return s.MarkChecked(ctx, key) },
			check: func(t *testing.T, item *WorkItem) { assert.Equal(t, StateDone, item.IsChecked) },
		},
		{
			name:  "failed check",
			apply: func(s *Store, key Key) (bool, error) { return s.MarkFailedCheck(ctx, key) },
			check: func(t *testing.T, item *WorkItem) { assert.Equal(t, StateFailed, item.IsChecked) },
		},
		{
			name:  "can archive",
			apply: func(s *Store, key Key) (bool, error) { return s.MarkCanArchive(ctx, key, true) },
			check: func(t *testing.T, item *WorkItem) { assert.True(t, item.CanArchive) },
		},
		{
			name:  "progress",
			apply: func(s *Store, key Key) (bool, error) { return s.UpdateProgress(ctx, key, ProgressError) },
			check: func(t *testing.T, item *WorkItem) { assert.Equal(t, ProgressError, item.Progress) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			key := Key{Kind: "dumps", Subject: "enwiki", Date: mustDate(t, "20150703")}
			_, err := s.Insert(ctx, NewItem(key, ProgressDone))
			require.NoError(t, err)
			ok, err := s.Claim(ctx, key, "runner-a")
			require.NoError(t, err)
			require.True(t, ok)

			changed, err := tt.apply(s, key)
			require.NoError(t, err)
			assert.True(t, changed)

			item, err := s.Get(ctx, key)
			require.NoError(t, err)
			tt.check(t, item)
			assert.Empty(t, item.ClaimedBy)
			assert.Nil(t, item.ClaimedAt)
		})
	}
}

func TestMarkArchivedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	key := Key{Kind: "dumps", Subject: "enwiki", Date: mustDate(t, "20150703")}
	_, err := s.Insert(ctx, NewItem(key, ProgressDone))
	require.NoError(t, err)

	_, err = s.MarkArchived(ctx, key)
	require.NoError(t, err)
	first, err := s.Get(ctx, key)
	require.NoError(t, err)

	_, err = s.MarkArchived(ctx, key)
	require.NoError(t, err)
	second, err := s.Get(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpdateMissingRow(t *testing.T) {
	s := openTestStore(t)
	changed, err := s.MarkArchived(context.Background(), Key{Kind: "dumps", Subject: "xxwiki", Date: mustDate(t, "20150703")})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateProgressRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UpdateProgress(context.Background(), Key{Kind: "dumps", Date: mustDate(t, "20150703")}, "finished")
	require.Error(t, err)
}

func TestValidProgressTransition(t *testing.T) {
	tests := []struct {
		from, to Progress
		want     bool
	}{
		{ProgressInProgress, ProgressDone, true},
		{ProgressInProgress, ProgressError, true},
		{ProgressInProgress, ProgressUnknown, true},
		{ProgressUnknown, ProgressInProgress, true},
		{ProgressError, ProgressDone, true},
		{ProgressError, ProgressInProgress, true},
		{ProgressError, ProgressUnknown, false},
		{ProgressDone, ProgressError, false},
		{ProgressDone, ProgressDone, false},
		{ProgressInProgress, "bogus", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, ValidProgressTransition(tt.from, tt.to))
		})
	}
}
