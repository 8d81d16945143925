package db

import (
	"database/sql"
	"time"
)

// Stats represents database statistics
type Stats struct {
	TotalCases          int
	ScoredCases         int
	TotalUsers          int
	OldestCase          time.Time
	NewestCase          time.Time
	MostActiveUser      string
	MostActiveUserCount int
	BySpecialty         map[string]int
}

// GetStats returns comprehensive database statistics
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{BySpecialty: make(map[string]int)}

	err := db.QueryRow("SELECT COUNT(*), COUNT(score) FROM cases").Scan(&stats.TotalCases, &stats.ScoredCases)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow("SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers)
	if err != nil {
		return nil, err
	}

	if stats.TotalCases == 0 {
		return stats, nil
	}

	var minCreated, maxCreated sql.NullString
	err = db.QueryRow("SELECT MIN(created_at), MAX(created_at) FROM cases").Scan(&minCreated, &maxCreated)
	if err != nil {
		return nil, err
	}
	if minCreated.Valid {
		stats.OldestCase = parseTime(minCreated.String)
	}
	if maxCreated.Valid {
		stats.NewestCase = parseTime(maxCreated.String)
	}

	var mostActiveUser sql.NullString
	err = db.QueryRow(`
		SELECT user_name, COUNT(*) as count
		FROM cases
		GROUP BY user_key
		ORDER BY count DESC
		LIMIT 1
	`).Scan(&mostActiveUser, &stats.MostActiveUserCount)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if mostActiveUser.Valid {
		stats.MostActiveUser = mostActiveUser.String
	}

	rows, err := db.Query(`SELECT specialty, COUNT(*) FROM cases GROUP BY specialty`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sp string
		var n int
		if err := rows.Scan(&sp, &n); err != nil {
			return nil, err
		}
		stats.BySpecialty[sp] = n
	}

	return stats, rows.Err()
}
