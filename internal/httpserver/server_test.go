package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
	"github.com/robalobadob/memory/apps/go-server/internal/events"
	"github.com/robalobadob/memory/apps/go-server/internal/game"
	"github.com/robalobadob/memory/apps/go-server/internal/results"
	"github.com/robalobadob/memory/apps/go-server/internal/store"
)

// pairedBoards deals a board where slot 2k pairs with slot 2k+1.
type pairedBoards struct{}

func (pairedBoards) Build() ([]deck.Card, error) {
	cards := make([]deck.Card, deck.Size)
	for i := range cards {
		m := fmt.Sprintf("m%d", i/2)
		cards[i] = deck.Card{Slot: i, Motif: m, Front: m + ".png", Back: "cover.png"}
	}
	return cards, nil
}

// testImages holds exactly eight motifs (motif_a..motif_h) and one cover.
func testImages() fstest.MapFS {
	fsys := fstest.MapFS{"cover.png": {Data: []byte("c")}}
	for i := 0; i < deck.Pairs; i++ {
		fsys[fmt.Sprintf("motif_%c.png", 'a'+i)] = &fstest.MapFile{Data: []byte("x")}
	}
	return fsys
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../sql/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	return db
}

// recordingPublisher keeps the subjects and payloads it was asked to publish.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() ([]string, []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...), append([]any(nil), p.payloads...)
}

func newTestServer(t *testing.T, boards game.BoardSource) (*Server, *sql.DB) {
	t.Helper()
	return newTestServerWithEvents(t, boards, nil)
}

func newTestServerWithEvents(t *testing.T, boards game.BoardSource, pub events.Publisher) (*Server, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	mem := store.NewMemoryStore()
	t.Cleanup(mem.CloseAll)
	s := New(mem, db, Config{
		Images: testImages(),
		Boards: boards,
		Delay:  20 * time.Millisecond,
		Tick:   time.Hour,
		Events: pub,
	})
	return s, db
}

// signup creates an account and returns its auth cookie.
func signup(t *testing.T, s *Server, username string) *http.Cookie {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/auth/signup", map[string]string{"username": username, "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "memory_token" {
			return c
		}
	}
	t.Fatalf("Failed to find auth cookie for %s", username)
	return nil
}

func gamesPlayed(t *testing.T, s *Server, token *http.Cookie) int {
	t.Helper()
	rec := do(t, s, http.MethodGet, "/stats/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		GamesPlayed int `json:"gamesPlayed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	return stats.GamesPlayed
}

func do(t *testing.T, s *Server, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func newGame(t *testing.T, s *Server, cookies ...*http.Cookie) newGameRes {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/game/new", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res newGameRes
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.NotEmpty(t, res.GameID)
	return res
}

func selectCard(t *testing.T, s *Server, id string, index int) game.Update {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/game/select", map[string]any{"gameId": id, "index": index})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var u game.Update
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
	return u
}

// clearBoard matches every pair in slot order; player 1 keeps the turn throughout.
func clearBoard(t *testing.T, s *Server, id string) game.Update {
	t.Helper()
	var last game.Update
	for k := 0; k < deck.Pairs; k++ {
		selectCard(t, s, id, 2*k)
		last = selectCard(t, s, id, 2*k+1)
	}
	return last
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestNewGameReturnsCoveredBoard(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	res := newGame(t, s)

	st := res.State
	assert.Len(t, st.Tiles, deck.Size)
	assert.Equal(t, 0, st.Moves)
	assert.Equal(t, "00:00", st.Elapsed)
	assert.Equal(t, 1, st.Player)
	assert.Equal(t, game.PlayerColor(1), st.PlayerColor)
	assert.Equal(t, game.PhaseIdle, st.Phase)
	for _, tile := range st.Tiles {
		assert.Equal(t, "cover.png", tile.Image)
		assert.False(t, tile.Flipped)
	}
}

func TestNewGameInsufficientAssets(t *testing.T) {
	fsys := testImages()
	delete(fsys, "motif_h.png")
	s, _ := newTestServer(t, deck.NewBuilder(fsys, nil))

	rec := do(t, s, http.MethodPost, "/game/new", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "insufficient_assets", body["error"])
	assert.Contains(t, body["message"], "found 7")
}

func TestNewGameMissingCover(t *testing.T) {
	fsys := testImages()
	delete(fsys, "cover.png")
	s, _ := newTestServer(t, deck.NewBuilder(fsys, nil))

	rec := do(t, s, http.MethodPost, "/game/new", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_cover")
}

func TestSelectFlowAndSnapshot(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID

	u := selectCard(t, s, id, 0)
	assert.False(t, u.Ignored)
	assert.Equal(t, game.PhaseOneSelected, u.Phase)
	require.Len(t, u.Tiles, 1)
	assert.Equal(t, "m0.png", u.Tiles[0].Image)

	// Same card again is ignored.
	again := selectCard(t, s, id, 0)
	assert.True(t, again.Ignored)

	u = selectCard(t, s, id, 1)
	assert.Equal(t, 1, u.Moves)
	assert.Equal(t, [2]int{1, 0}, u.Scores)
	assert.Equal(t, game.PhaseIdle, u.Phase)

	rec := do(t, s, http.MethodGet, "/game/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap game.Update
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Len(t, snap.Tiles, deck.Size)
	assert.True(t, snap.Tiles[0].Matched)
	assert.True(t, snap.Tiles[1].Matched)
	assert.Equal(t, 1, snap.Moves)
}

func TestMismatchFlipsBackAfterDelay(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID

	selectCard(t, s, id, 0)
	u := selectCard(t, s, id, 2)
	assert.Equal(t, game.PhaseRoundDelay, u.Phase)

	// Clicks during the delay are ignored.
	assert.True(t, selectCard(t, s, id, 4).Ignored)

	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/game/"+id, nil)
		var snap game.Update
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Phase == game.PhaseIdle && snap.Player == 2 && !snap.Tiles[0].Flipped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSelectValidation(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID

	rec := do(t, s, http.MethodPost, "/game/select", map[string]any{"gameId": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/game/select", map[string]any{"gameId": "nope", "index": 0})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	u := selectCard(t, s, id, 99)
	assert.True(t, u.Ignored)
}

func TestUnknownGameRoutes(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/game/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/game/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": "nope"}).Code)
}

func TestCloseGame(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID

	rec := do(t, s, http.MethodDelete, "/game/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/game/"+id, nil).Code)
}

func TestRestartKeepsSession(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID
	selectCard(t, s, id, 0)
	selectCard(t, s, id, 1)

	rec := do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	var res newGameRes
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, id, res.GameID)
	assert.Equal(t, game.EventNewGame, res.State.Event)
	assert.Equal(t, 0, res.State.Moves)
	assert.Equal(t, [2]int{0, 0}, res.State.Scores)
}

func TestFinishedGameReachesLeaderboard(t *testing.T) {
	s, db := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID

	last := clearBoard(t, s, id)
	require.NotNil(t, last.Summary)
	assert.Equal(t, game.PhaseGameOver, last.Phase)
	assert.Equal(t, [2]int{8, 0}, last.Summary.Scores)
	assert.Equal(t, 1, last.Summary.Winner)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM games WHERE id=?`, id).Scan(&status))
	assert.Equal(t, "finished", status)

	rec := do(t, s, http.MethodGet, "/results/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lb struct {
		Top []results.LBRow `json:"top"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&lb))
	require.Len(t, lb.Top, 1)
	assert.Equal(t, id, lb.Top[0].GameID)
	assert.Equal(t, deck.Pairs, lb.Top[0].Moves)
	assert.Equal(t, 1, lb.Top[0].Winner)
	assert.NotEmpty(t, lb.Top[0].OwnerID)

	// Clicks after game over change nothing.
	assert.True(t, selectCard(t, s, id, 0).Ignored)
}

func TestLeaderboardBadLimit(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/results/leaderboard?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/results/leaderboard?limit=0", nil).Code)
}

func TestSignedInStats(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})

	rec := do(t, s, http.MethodPost, "/auth/signup", map[string]string{"username": "alice_1", "password": "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var token *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "memory_token" {
			token = c
		}
	}
	require.NotNil(t, token)

	id := newGame(t, s, token).GameID
	clearBoard(t, s, id)

	rec = do(t, s, http.MethodGet, "/stats/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		GamesPlayed   int `json:"gamesPlayed"`
		GamesFinished int `json:"gamesFinished"`
		BestMoves     int `json:"bestMoves"`
		BoardsCleared int `json:"boardsCleared"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.GamesPlayed)
	assert.Equal(t, 1, stats.GamesFinished)
	assert.Equal(t, deck.Pairs, stats.BestMoves)
	assert.Equal(t, 1, stats.BoardsCleared)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/stats/me", nil).Code)
}

func TestSignupRejectsDuplicate(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	body := map[string]string{"username": "bob_1", "password": "password123"}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/auth/signup", body).Code)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/auth/signup", body).Code)
}

func TestImagesServed(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	rec := do(t, s, http.MethodGet, "/images/cover.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/debug/images", nil)
	assert.JSONEq(t, `{"motifs":8,"covers":1}`, rec.Body.String())
}

func TestStreamPushesUpdates(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	id := newGame(t, s).GameID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/game/"+id+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer conn.CloseNow()

	var u game.Update
	require.NoError(t, wsjson.Read(ctx, conn, &u))
	assert.Equal(t, "snapshot", u.Event)
	assert.Len(t, u.Tiles, deck.Size)

	// Mismatch: two select pushes, then the delayed reset.
	selectCard(t, s, id, 0)
	selectCard(t, s, id, 2)
	var events []string
	for len(events) < 3 {
		require.NoError(t, wsjson.Read(ctx, conn, &u))
		events = append(events, u.Event)
	}
	assert.Equal(t, []string{game.EventSelect, game.EventSelect, game.EventReset}, events)
	assert.Equal(t, 2, u.Player)

	// Closing the game ends the stream.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/game/"+id, nil).Code)
	err = wsjson.Read(ctx, conn, &u)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestStreamUnknownGame(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	rec := do(t, s, http.MethodGet, "/game/nope/ws", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleEventsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	s, _ := newTestServerWithEvents(t, pairedBoards{}, pub)
	id := newGame(t, s).GameID
	clearBoard(t, s, id)

	subjects, payloads := pub.published()
	require.Equal(t, []string{events.SubjectStarted, events.SubjectFinished}, subjects)
	started, ok := payloads[0].(events.Started)
	require.True(t, ok)
	assert.Equal(t, id, started.GameID)
	assert.NotEmpty(t, started.OwnerID)
	finished, ok := payloads[1].(events.Finished)
	require.True(t, ok)
	assert.Equal(t, id, finished.GameID)
	assert.Equal(t, started.OwnerID, finished.OwnerID)
	assert.Equal(t, [2]int{8, 0}, finished.Scores)
	assert.Equal(t, 1, finished.Winner)
	assert.Equal(t, deck.Pairs, finished.Moves)

	rec := do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	subjects, _ = pub.published()
	assert.Equal(t, []string{events.SubjectStarted, events.SubjectFinished, events.SubjectStarted}, subjects)
}

func TestRestartCreditsOnlyOwner(t *testing.T) {
	s, _ := newTestServer(t, pairedBoards{})
	alice := signup(t, s, "alice_2")
	bob := signup(t, s, "bob_2")

	id := newGame(t, s, alice).GameID
	require.Equal(t, 1, gamesPlayed(t, s, alice))

	rec := do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": id}, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gamesPlayed(t, s, alice))
	assert.Equal(t, 0, gamesPlayed(t, s, bob))

	rec = do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": id}, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, gamesPlayed(t, s, alice))
}

func TestRestartReusesGamesRowButKeepsResults(t *testing.T) {
	s, db := newTestServer(t, pairedBoards{})
	id := newGame(t, s).GameID
	clearBoard(t, s, id)

	rec := do(t, s, http.MethodPost, "/game/new", map[string]string{"gameId": id})
	require.Equal(t, http.StatusOK, rec.Code)

	var status string
	var rows int
	require.NoError(t, db.QueryRow(`SELECT status FROM games WHERE id=?`, id).Scan(&status))
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM games WHERE id=?`, id).Scan(&rows))
	assert.Equal(t, "playing", status)
	assert.Equal(t, 1, rows)

	var results int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM results WHERE game_id=?`, id).Scan(&results))
	assert.Equal(t, 1, results)

	// The restarted board is recorded separately once cleared.
	clearBoard(t, s, id)
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM results WHERE game_id=?`, id).Scan(&results))
	assert.Equal(t, 2, results)
}
