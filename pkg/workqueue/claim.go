package workqueue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Claim marks the row as owned by host. It only succeeds while the row is
// unclaimed, so two runners that raced to select the same row cannot both
// win. The boolean reports whether this caller obtained the claim.
func (s *Store) Claim(ctx context.Context, key Key, host string) (bool, error) {
	if strings.TrimSpace(host) == "" {
		return false, fmt.Errorf("claim %s: host is required", key)
	}
	now := s.now().UTC()
	conds := keyConditions(key)
	conds[ColClaimedBy] = nil
	ok, err := s.updateWhere(ctx, conds, Fields{
		ColClaimedBy: host,
		ColClaimedAt: &now,
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release clears the claim on key regardless of owner.
func (s *Store) Release(ctx context.Context, key Key) (bool, error) {
	return s.Update(ctx, key, releaseFields(nil))
}

// ClaimFilter narrows which claims are listed or released.
type ClaimFilter struct {
	// Host limits to claims held by this host; empty matches any host.
	Host string
	// Kind limits to one dataset kind; empty matches all kinds.
	Kind Kind
	// OlderThan limits to claims taken at least this long ago. Claims with no
	// recorded timestamp always match.
	OlderThan time.Duration
}

func (f ClaimFilter) query(now time.Time) (string, []any) {
	clauses := []string{"claimed_by IS NOT NULL"}
	var args []any
	if f.Host != "" {
		clauses = append(clauses, "claimed_by = ?")
		args = append(args, f.Host)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.OlderThan > 0 {
		// RFC3339 UTC timestamps sort lexically.
		cutoff := now.Add(-f.OlderThan).UTC().Format(time.RFC3339)
		clauses = append(clauses, "(claimed_at IS NULL OR claimed_at <= ?)")
		args = append(args, cutoff)
	}
	return strings.Join(clauses, " AND "), args
}

// Claims lists claimed rows. Claims are never expired automatically; this is
// how an operator finds rows stranded by a crashed runner.
func (s *Store) Claims(ctx context.Context, filter ClaimFilter) ([]WorkItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	where, args := filter.query(s.now())
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE `+where+` ORDER BY claimed_at, kind, subject, snapshot_date`, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return items, nil
}

// ReleaseClaims clears every claim matching filter and returns how many rows
// were released.
func (s *Store) ReleaseClaims(ctx context.Context, filter ClaimFilter) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	where, args := filter.query(s.now())
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET claimed_by = NULL, claimed_at = NULL WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// releaseFields adds the claim-clearing assignments to f.
func releaseFields(f Fields) Fields {
	if f == nil {
		f = Fields{}
	}
	f[ColClaimedBy] = nil
	f[ColClaimedAt] = nil
	return f
}
