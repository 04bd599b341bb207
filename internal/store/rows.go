package store

import (
	"database/sql"
	"time"

	"cohortd/internal/model"
)

func scanCustomers(rows *sql.Rows) ([]model.Customer, error) {
	out := make([]model.Customer, 0)
	for rows.Next() {
		var (
			id       string
			spend    sql.NullFloat64
			userType string
		)
		if err := rows.Scan(&id, &spend, &userType); err != nil {
			return nil, err
		}
		c := model.Customer{ID: id, UserType: model.UserType(userType)}
		if spend.Valid {
			v := spend.Float64
			c.DailySpend = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanCohorts(rows *sql.Rows) ([]model.CohortType, error) {
	out := make([]model.CohortType, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, model.CohortType(v))
	}
	return out, rows.Err()
}

func scanChanges(rows *sql.Rows, cursor model.ShardCursor) ([]model.ChangeRecord, model.ShardCursor, error) {
	records := make([]model.ChangeRecord, 0)
	next := cursor
	for rows.Next() {
		var (
			seq      int64
			shardID  string
			kind     string
			id       string
			spend    sql.NullFloat64
			userType sql.NullString
			ts       any
		)
		if err := rows.Scan(&seq, &shardID, &kind, &id, &spend, &userType, &ts); err != nil {
			return nil, cursor, err
		}
		rec := model.ChangeRecord{
			Seq:       seq,
			ShardID:   shardID,
			Kind:      model.ChangeKind(kind),
			Timestamp: coerceTime(ts),
		}
		if rec.Kind != model.ChangeRemoved {
			c := model.Customer{ID: id, UserType: model.UserType(userType.String)}
			if spend.Valid {
				v := spend.Float64
				c.DailySpend = &v
			}
			rec.PostImage = &c
		}
		records = append(records, rec)
		next.Seq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, err
	}
	return records, next, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func coerceTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	case []byte:
		return coerceTime(string(t))
	}
	return time.Time{}
}
