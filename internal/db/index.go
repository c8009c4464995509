package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"typerace/internal/aggregate"
)

// scoreIndex is the score_index table seen as an aggregate.Index. Rows are
// ordered by (score, seq); seq grows on every insert.
type scoreIndex struct {
	t *tx
}

func boundsWhere(b aggregate.Bounds) (string, []any) {
	var conds []string
	var args []any
	add := func(op string, key int) {
		args = append(args, key)
		conds = append(conds, fmt.Sprintf("score %s $%d", op, len(args)))
	}
	if b.Lower != nil {
		if b.Lower.Inclusive {
			add(">=", b.Lower.Key)
		} else {
			add(">", b.Lower.Key)
		}
	}
	if b.Upper != nil {
		if b.Upper.Inclusive {
			add("<=", b.Upper.Key)
		} else {
			add("<", b.Upper.Key)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (ix *scoreIndex) Count(b aggregate.Bounds) (int, error) {
	where, args := boundsWhere(b)
	var n int
	if err := ix.t.queryRow(`SELECT COUNT(*) FROM score_index`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting score index: %w", err)
	}
	return n, nil
}

func (ix *scoreIndex) At(offset int) (aggregate.Entry, error) {
	if offset < 0 {
		return aggregate.Entry{}, aggregate.ErrOutOfRange
	}
	var e aggregate.Entry
	err := ix.t.queryRow(`
		SELECT score, user_id FROM score_index
		ORDER BY score DESC, seq DESC
		OFFSET $1 LIMIT 1
	`, offset).Scan(&e.Key, &e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return aggregate.Entry{}, aggregate.ErrOutOfRange
	}
	if err != nil {
		return aggregate.Entry{}, fmt.Errorf("reading score index: %w", err)
	}
	return e, nil
}

func (ix *scoreIndex) Paginate(b aggregate.Bounds, pageSize int) ([]aggregate.Entry, error) {
	where, args := boundsWhere(b)
	query := `SELECT score, user_id FROM score_index` + where + ` ORDER BY score, seq`
	if pageSize > 0 {
		args = append(args, pageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := ix.t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("paginating score index: %w", err)
	}
	defer rows.Close()

	page := []aggregate.Entry{}
	for rows.Next() {
		var e aggregate.Entry
		if err := rows.Scan(&e.Key, &e.ID); err != nil {
			return nil, err
		}
		page = append(page, e)
	}
	return page, rows.Err()
}

func (ix *scoreIndex) Insert(e aggregate.Entry) error {
	res, err := ix.t.exec(`INSERT INTO score_index (user_id, score) VALUES ($1, $2) ON CONFLICT DO NOTHING`, e.ID, e.Key)
	if err != nil {
		return fmt.Errorf("inserting into score index: %w", err)
	}
	return affected(res, aggregate.ErrDuplicateEntry)
}

func (ix *scoreIndex) Remove(e aggregate.Entry) error {
	res, err := ix.t.exec(`DELETE FROM score_index WHERE user_id = $1 AND score = $2`, e.ID, e.Key)
	if err != nil {
		return fmt.Errorf("removing from score index: %w", err)
	}
	return affected(res, aggregate.ErrStaleEntry)
}

func (ix *scoreIndex) Clear() error {
	if _, err := ix.t.exec(`DELETE FROM score_index`); err != nil {
		return fmt.Errorf("clearing score index: %w", err)
	}
	return nil
}
