package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column names a work_items column usable in conditions and updates.
type Column string

const (
	ColKind         Column = "kind"
	ColSubject      Column = "subject"
	ColSnapshotDate Column = "snapshot_date"
	ColProgress     Column = "progress"
	ColCanArchive   Column = "can_archive"
	ColIsArchived   Column = "is_archived"
	ColIsChecked    Column = "is_checked"
	ColClaimedBy    Column = "claimed_by"
	ColClaimedAt    Column = "claimed_at"
	ColComments     Column = "comments"
)

var knownColumns = map[Column]bool{
	ColKind: true, ColSubject: true, ColSnapshotDate: true, ColProgress: true,
	ColCanArchive: true, ColIsArchived: true, ColIsChecked: true,
	ColClaimedBy: true, ColClaimedAt: true, ColComments: true,
}

// Conditions is a conjunction of equality filters. A nil value matches NULL.
type Conditions map[Column]any

// Fields is a set of column assignments. A nil value writes NULL.
type Fields map[Column]any

// ErrNotFound is returned by Get when the key has no row.
var ErrNotFound = errors.New("work item not found")

const itemColumns = `kind, subject, snapshot_date, progress, can_archive, is_archived, is_checked, claimed_by, claimed_at, comments`

func sortedColumns[V any](m map[Column]V) ([]Column, error) {
	cols := make([]Column, 0, len(m))
	for c := range m {
		if !knownColumns[c] {
			return nil, fmt.Errorf("unknown column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols, nil
}

// sqlValue normalizes domain types to what the table stores.
func sqlValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Kind:
		return string(val)
	case Progress:
		return string(val)
	case ArchiveState:
		return int(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		return ArchiveDate(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func (c Conditions) where() (string, []any, error) {
	cols, err := sortedColumns(c)
	if err != nil {
		return "", nil, err
	}
	clauses := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		v := sqlValue(c[col])
		if v == nil {
			clauses = append(clauses, string(col)+" IS NULL")
			continue
		}
		clauses = append(clauses, string(col)+" = ?")
		args = append(args, v)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func keyConditions(key Key) Conditions {
	return Conditions{
		ColKind:         key.Kind,
		ColSubject:      key.Subject,
		ColSnapshotDate: key.Date,
	}
}

// Count returns how many unclaimed rows match conds.
func (s *Store) Count(ctx context.Context, conds Conditions) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	where, args, err := conds.where()
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM work_items WHERE claimed_by IS NULL`
	if where != "" {
		query += " AND " + where
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count work items: %w", err)
	}
	return n, nil
}

// SelectRandom returns one unclaimed row matching conds, chosen uniformly at
// random. Random choice keeps concurrent runners from converging on the same
// row. It returns (nil, nil) when nothing matches.
func (s *Store) SelectRandom(ctx context.Context, conds Conditions) (*WorkItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	where, args, err := conds.where()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE claimed_by IS NULL`
	if where != "" {
		query += " AND " + where
	}
	query += ` ORDER BY random() LIMIT 1`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select work item: %w", err)
	}
	return item, nil
}

// Insert adds a newly discovered row. It reports false without error when the
// key already exists, so concurrent catalog updaters do not conflict.
func (s *Store) Insert(ctx context.Context, item WorkItem) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !item.Progress.Valid() {
		return false, fmt.Errorf("insert %s: invalid progress %q", item.Key, item.Progress)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, subject, snapshot_date) DO NOTHING
	`,
		string(item.Kind),
		item.Subject,
		ArchiveDate(item.Date),
		string(item.Progress),
		sqlValue(item.CanArchive),
		int(item.IsArchived),
		int(item.IsChecked),
		nullString(item.ClaimedBy),
		sqlValue(item.ClaimedAt),
		nullString(item.Comments),
	)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", item.Key, err)
	}
	return affected(res)
}

// Update applies fields to the row identified by key. It reports whether a
// row was changed.
func (s *Store) Update(ctx context.Context, key Key, fields Fields) (bool, error) {
	return s.updateWhere(ctx, keyConditions(key), fields)
}

func (s *Store) updateWhere(ctx context.Context, conds Conditions, fields Fields) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(fields) == 0 {
		return false, errors.New("update requires at least one field")
	}
	cols, err := sortedColumns(fields)
	if err != nil {
		return false, err
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+len(conds))
	for _, col := range cols {
		sets = append(sets, string(col)+" = ?")
		args = append(args, sqlValue(fields[col]))
	}

	where, whereArgs, err := conds.where()
	if err != nil {
		return false, err
	}
	query := `UPDATE work_items SET ` + strings.Join(sets, ", ")
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, whereArgs...)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update work items: %w", err)
	}
	return affected(res)
}

// Get returns the row for key, claimed or not.
func (s *Store) Get(ctx context.Context, key Key) (*WorkItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE kind = ? AND subject = ? AND snapshot_date = ?
	`, string(key.Kind), key.Subject, ArchiveDate(key.Date))

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return item, nil
}

// List returns every row (claimed or not) matching conds, ordered by key.
func (s *Store) List(ctx context.Context, conds Conditions) ([]WorkItem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	where, args, err := conds.where()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + itemColumns + ` FROM work_items`
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY kind, subject, snapshot_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

// Summary counts rows per kind and state bucket.
type Summary struct {
	Kind       Kind         `json:"kind" yaml:"kind"`
	Progress   Progress     `json:"progress" yaml:"progress"`
	CanArchive bool         `json:"can_archive" yaml:"can_archive"`
	IsArchived ArchiveState `json:"is_archived" yaml:"is_archived"`
	IsChecked  ArchiveState `json:"is_checked" yaml:"is_checked"`
	Claimed    int          `json:"claimed" yaml:"claimed"`
	Total      int          `json:"total" yaml:"total"`
}

// Summarize groups the table by kind and state.
func (s *Store) Summarize(ctx context.Context) ([]Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, progress, can_archive, is_archived, is_checked,
			SUM(CASE WHEN claimed_by IS NULL THEN 0 ELSE 1 END),
			COUNT(*)
		FROM work_items
		GROUP BY kind, progress, can_archive, is_archived, is_checked
		ORDER BY kind, progress, can_archive, is_archived, is_checked
	`)
	if err != nil {
		return nil, fmt.Errorf("summarize work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum                   Summary
			kind, progress        string
			canArchive            int
			isArchived, isChecked int
		)
		if err := rows.Scan(&kind, &progress, &canArchive, &isArchived, &isChecked, &sum.Claimed, &sum.Total); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Kind = Kind(kind)
		sum.Progress = Progress(progress)
		sum.CanArchive = canArchive != 0
		sum.IsArchived = ArchiveState(isArchived)
		sum.IsChecked = ArchiveState(isChecked)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*WorkItem, error) {
	var (
		kind, subject, date, progress string
		canArchive                    int
		isArchived, isChecked         int
		claimedBy, claimedAt          sql.NullString
		comments                      sql.NullString
	)
	if err := row.Scan(&kind, &subject, &date, &progress, &canArchive, &isArchived, &isChecked, &claimedBy, &claimedAt, &comments); err != nil {
		return nil, err
	}

	d, err := ParseArchiveDate(date)
	if err != nil {
		return nil, err
	}

	item := &WorkItem{
		Key:        Key{Kind: Kind(kind), Subject: subject, Date: d},
		Progress:   Progress(progress),
		CanArchive: canArchive != 0,
		IsArchived: ArchiveState(isArchived),
		IsChecked:  ArchiveState(isChecked),
		ClaimedBy:  claimedBy.String,
		Comments:   comments.String,
	}
	if claimedAt.Valid && claimedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, claimedAt.String); err == nil {
			item.ClaimedAt = &t
		}
	}
	return item, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
