// internal/httpserver/routes_game.go
//
// HTTP routes for playing a memory game.
//   - POST   /game/new     → deal a board (new session, or restart {gameId})
//   - POST   /game/select  → click a card {gameId, index}
//   - GET    /game/{id}    → full snapshot
//   - DELETE /game/{id}    → close the session
//   - GET    /game/{id}/ws → websocket stream of updates (mounted in server.go)
//
// Sessions live in the store; the games table keeps one owner row per session
// (user_id or anonymous_id) for history, and results are written when a board
// is cleared. A restart reuses the session's games row, so /games/mine shows
// the board in play; every cleared board stays in the results table.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
	"github.com/robalobadob/memory/apps/go-server/internal/events"
	"github.com/robalobadob/memory/apps/go-server/internal/game"
	"github.com/robalobadob/memory/apps/go-server/internal/results"
)

// mountGame registers the /game routes except the websocket stream.
func (s *Server) mountGame(r chi.Router) {
	r.Post("/game/new", s.handleNewGame)
	r.Post("/game/select", s.handleSelect)
	r.Get("/game/{id}", s.handleSnapshot)
	r.Delete("/game/{id}", s.handleClose)
}

// newGameReq is the payload for POST /game/new.
type newGameReq struct {
	GameID string `json:"gameId"` // optional: restart this session
}

// newGameRes wraps the opening snapshot.
type newGameRes struct {
	GameID string      `json:"gameId"`
	State  game.Update `json:"state"`
}

// handleNewGame deals a board. With a gameId it restarts that session in place;
// if the board cannot be built the session keeps its previous board.
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.GameID != "" {
		sess, err := s.store.Get(r.Context(), req.GameID)
		if err != nil {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		u, err := sess.NewGame()
		if errors.Is(err, game.ErrClosed) {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			writeDeckError(w, err)
			return
		}
		s.recordStart(w, r, sess.ID, true)
		_ = json.NewEncoder(w).Encode(newGameRes{GameID: sess.ID, State: u})
		return
	}

	sess, err := game.NewSession(s.cfg.Boards, game.Options{
		Delay:    s.cfg.Delay,
		Tick:     s.cfg.Tick,
		OnFinish: s.recordFinish,
	})
	if err != nil {
		writeDeckError(w, err)
		return
	}
	if err := s.store.Save(r.Context(), sess); err != nil {
		sess.Close()
		log.Error().Err(err).Msg("save session")
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}
	s.recordStart(w, r, sess.ID, false)
	_ = json.NewEncoder(w).Encode(newGameRes{GameID: sess.ID, State: sess.Snapshot()})
}

// selectReq is the payload for POST /game/select.
type selectReq struct {
	GameID string `json:"gameId"`
	Index  *int   `json:"index"`
}

// handleSelect forwards a card click. Invalid clicks come back with ignored=true.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, err := s.store.Get(r.Context(), req.GameID)
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(sess.Select(*req.Index))
}

// handleSnapshot returns the full board view for GET /game/{id}.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(sess.Snapshot())
}

// handleClose stops and forgets a session.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	_ = s.store.Delete(r.Context(), id)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleStream upgrades to a websocket and pushes every Update for the session,
// starting with a snapshot. Ticks and delayed flip-backs only reach clients here.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{originHost(clientOrigin())},
	})
	if err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	updates, cancel := sess.Subscribe(32)
	defer cancel()

	// Clients only listen; CloseRead notices when they go away.
	ctx := conn.CloseRead(r.Context())

	if err := writeUpdate(ctx, conn, sess.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "game closed")
				return
			}
			if err := writeUpdate(ctx, conn, u); err != nil {
				log.Debug().Err(err).Str("gameId", sess.ID).Msg("websocket write")
				return
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, u game.Update) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, u)
}

// writeDeckError maps board-building failures to a 422 with the user-facing message.
func writeDeckError(w http.ResponseWriter, err error) {
	code := "board_failed"
	switch {
	case errors.Is(err, deck.ErrInsufficientAssets):
		code = "insufficient_assets"
	case errors.Is(err, deck.ErrMissingCover):
		code = "missing_cover"
	default:
		log.Error().Err(err).Msg("build board")
		http.Error(w, `{"error":"board_failed"}`, http.StatusInternalServerError)
		return
	}
	log.Warn().Err(err).Msg("cannot deal board")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": err.Error()})
}

// recordStart writes or resets the owner row for a dealt board (best effort)
// and publishes memory.game.started.
func (s *Server) recordStart(w http.ResponseWriter, r *http.Request, gameID string, restart bool) {
	now := time.Now().UTC().Format(time.RFC3339)
	me := currentUser(r.Context())
	owner := ""
	countFor := "" // user whose games_played goes up

	tx, err := s.db.Begin()
	if err != nil {
		log.Warn().Err(err).Msg("begin start tx")
		return
	}
	defer func() { _ = tx.Rollback() }()

	switch {
	case restart:
		if _, err := tx.Exec(`UPDATE games SET started_at=?, finished_at=NULL, status='playing', moves=0 WHERE id=?`,
			now, gameID); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Msg("reset game row")
		}
		var rowUser string
		_ = tx.QueryRow(`SELECT COALESCE(user_id,''), COALESCE(user_id, anonymous_id, '') FROM games WHERE id=?`,
			gameID).Scan(&rowUser, &owner)
		// Only the owning account is credited; anyone else holding the id just replays it.
		if me != nil && me.ID == rowUser {
			countFor = me.ID
		}
	case me != nil:
		owner = me.ID
		countFor = me.ID
		if _, err := tx.Exec(`INSERT INTO games (id, user_id, started_at, status, moves) VALUES (?,?,?,?,0)`,
			gameID, me.ID, now, "playing"); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Msg("insert user game row")
		}
	default:
		owner = s.ensureAnonID(w, r)
		if _, err := tx.Exec(`INSERT INTO games (id, anonymous_id, started_at, status, moves) VALUES (?,?,?,?,0)`,
			gameID, owner, now, "playing"); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Msg("insert anon game row")
		}
	}
	if countFor != "" {
		if err := bumpPlayed(tx, countFor); err != nil {
			log.Warn().Err(err).Str("user", countFor).Msg("bump played")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("commit start tx")
	}

	if err := s.cfg.Events.Publish(events.SubjectStarted, events.Started{
		GameID: gameID, OwnerID: owner, At: time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("publish started")
	}
}

// recordFinish is the session's OnFinish hook: it closes the games row, stores the
// result, updates user stats and publishes memory.game.finished. Failures are logged only.
func (s *Server) recordFinish(gameID string, sum game.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var userID, anonID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(user_id,''), COALESCE(anonymous_id,'') FROM games WHERE id=?`, gameID,
	).Scan(&userID, &anonID); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("lookup game owner")
	}
	owner := userID
	if owner == "" {
		owner = anonID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("begin finish tx")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE games SET status='finished', finished_at=?, moves=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), sum.Moves, gameID); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("finish game")
	}
	if userID != "" {
		if err := bumpFinished(tx, userID, sum.Moves); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("bump finished")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("commit finish tx")
	}

	if err := s.results.InsertResult(ctx, results.Result{
		GameID:     gameID,
		Round:      sum.Round,
		OwnerID:    owner,
		Moves:      sum.Moves,
		ElapsedSec: sum.Seconds,
		Score1:     sum.Scores[0],
		Score2:     sum.Scores[1],
		Winner:     sum.Winner,
	}); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("insert result")
	}

	log.Info().Str("gameId", gameID).Int("moves", sum.Moves).Int("winner", sum.Winner).Msg(sum.Message)

	if err := s.cfg.Events.Publish(events.SubjectFinished, events.Finished{
		GameID:  gameID,
		OwnerID: owner,
		Scores:  sum.Scores,
		Winner:  sum.Winner,
		Moves:   sum.Moves,
		Seconds: sum.Seconds,
		At:      time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("publish finished")
	}
}

// originHost strips the scheme from an origin for websocket origin matching.
func originHost(origin string) string {
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
}
