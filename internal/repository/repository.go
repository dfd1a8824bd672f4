// Package repository persists herald state in SQLite.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// ErrCampaignBusy is returned when a campaign cannot be changed because it is being sent
var ErrCampaignBusy = errors.New("campaign is being sent")

// MessageDispatchInterrupted is the last error of a campaign whose dispatch
// never wrote its result
const MessageDispatchInterrupted = "dispatch interrupted"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// appendPage adds LIMIT/OFFSET clauses
func appendPage(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	return query, args
}
