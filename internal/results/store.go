// internal/results/store.go
//
// SQLite persistence for finished games.
// Rows live in the results table (see sql/001_init.sql); the leaderboard ranks
// finished games by fewest moves, then shortest time, then earliest finish.

package results

import (
	"context"
	"database/sql"
)

// Result is one finished game.
type Result struct {
	GameID     string `json:"gameId"`
	Round      int    `json:"round"`
	OwnerID    string `json:"ownerId"`
	Moves      int    `json:"moves"`
	ElapsedSec int    `json:"elapsedSec"`
	Score1     int    `json:"score1"`
	Score2     int    `json:"score2"`
	Winner     int    `json:"winner"` // 0 = tie
}

// Store reads and writes finished games.
type Store struct{ db *sql.DB }

// NewStore returns a Store over db, which must already carry the results table.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// InsertResult records r. A second insert for the same board is ignored.
func (s *Store) InsertResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO results(game_id, round, owner_id, moves, elapsed_sec, score1, score2, winner)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.GameID, r.Round, r.OwnerID, r.Moves, r.ElapsedSec, r.Score1, r.Score2, r.Winner,
	)
	return err
}

// LBRow is one leaderboard entry.
type LBRow struct {
	GameID     string `json:"gameId"`
	OwnerID    string `json:"ownerId"`
	Moves      int    `json:"moves"`
	ElapsedSec int    `json:"elapsedSec"`
	Winner     int    `json:"winner"`
}

// Leaderboard returns the best finished games. Default limit is 20.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LBRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, owner_id, moves, elapsed_sec, winner
		 FROM results
		 ORDER BY moves ASC, elapsed_sec ASC, created_at ASC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LBRow, 0, limit)
	for rows.Next() {
		var r LBRow
		if err := rows.Scan(&r.GameID, &r.OwnerID, &r.Moves, &r.ElapsedSec, &r.Winner); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountFor returns how many finished games ownerID has recorded.
func (s *Store) CountFor(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM results WHERE owner_id=?`, ownerID).Scan(&n)
	return n, err
}
