package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"crash/internal/fairness"
	"crash/internal/game"
	"crash/internal/insurance"
	"crash/internal/ledger"
)

type testServer struct {
	srv     *FiberServer
	manager *game.Manager
	ledger  *ledger.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gen := fairness.NewGenerator("player-seed", fairness.DefaultShaping(), 6,
		fairness.WithSeedSource(func() (string, error) { return "abc123", nil }))
	l := ledger.New(ledger.NewMemoryStore(), ledger.DefaultLimits(), nil)
	ins := insurance.New(l, nil, nil)
	hub := game.NewHub(game.DefaultHubConfig(), nil)
	manager := game.NewManager(game.DefaultConfig(), gen, l, ins, game.NewMemoryRoundStore(), nil, game.WithPublisher(hub))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := New(Deps{Manager: manager, Hub: hub, Ledger: l})
	return &testServer{srv: srv, manager: manager, ledger: l}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.srv.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("could not unmarshal response %q: %v", raw, err)
	}
	return resp.StatusCode, result
}

func (ts *testServer) openRound(t *testing.T) {
	t.Helper()
	if _, err := ts.manager.OpenRound(context.Background()); err != nil {
		t.Fatalf("OpenRound() error = %v", err)
	}
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)

	status, result := ts.do(t, "GET", "/health", "")
	if status != http.StatusOK {
		t.Errorf("expected status OK; got %v", status)
	}

	gameHealth, ok := result["game"].(map[string]any)
	if !ok || gameHealth["status"] != "running" || gameHealth["integrity"] != "ok" {
		t.Errorf("game health = %v", result["game"])
	}
	if db, _ := result["database"].(map[string]any); db["status"] != "disabled" {
		t.Errorf("database health = %v", result["database"])
	}
}

func TestCurrentRoundHandler(t *testing.T) {
	ts := newTestServer(t)

	_, result := ts.do(t, "GET", "/api/v1/round", "")
	if result["phase"] != "pending" {
		t.Errorf("phase before first round = %v", result["phase"])
	}

	ts.openRound(t)
	_, result = ts.do(t, "GET", "/api/v1/round", "")
	if result["type"] != "initial_state" || result["phase"] != "betting" || result["round_id"] != float64(7) {
		t.Errorf("current round = %v", result)
	}
	if result["server_seed_hash"] != fairness.HashSeed("abc123") {
		t.Errorf("server_seed_hash = %v", result["server_seed_hash"])
	}
	if _, ok := result["server_seed"]; ok {
		t.Error("server seed exposed while betting")
	}
	if _, ok := result["crash_point"]; ok {
		t.Error("crash point exposed while betting")
	}
	if result["min_bet"] != "1.00" || result["max_bet"] != "10000.00" {
		t.Errorf("bet limits = %v, %v", result["min_bet"], result["max_bet"])
	}
}

func TestActiveBetsHandler(t *testing.T) {
	ts := newTestServer(t)

	_, result := ts.do(t, "GET", "/api/v1/round/bets", "")
	if bets, _ := result["bets"].([]any); len(bets) != 0 {
		t.Errorf("bets before first round = %v", result["bets"])
	}

	ts.openRound(t)
	ts.do(t, "POST", "/api/v1/players/alice/deposit", `{"amount":100}`)
	_, placed := ts.do(t, "POST", "/api/v1/actions", `{"player_id":"alice","action":"bet","amount":"25.50"}`)

	status, result := ts.do(t, "GET", "/api/v1/round/bets", "")
	bets, _ := result["bets"].([]any)
	if status != http.StatusOK || result["round_id"] != float64(7) || len(bets) != 1 {
		t.Fatalf("bets = %d %v", status, result)
	}
	bet, _ := bets[0].(map[string]any)
	if bet["bet_id"] != placed["bet_id"] || bet["player_id"] != "alice" || bet["amount"] != "25.50" {
		t.Errorf("bet = %v", bet)
	}
}

func TestInsuranceTiersHandler(t *testing.T) {
	ts := newTestServer(t)

	status, result := ts.do(t, "GET", "/api/v1/insurance/tiers", "")
	tiers, _ := result["tiers"].([]any)
	if status != http.StatusOK || len(tiers) != 3 {
		t.Fatalf("tiers = %d %v", status, result)
	}
	var names []string
	for _, raw := range tiers {
		tier, _ := raw.(map[string]any)
		name, _ := tier["name"].(string)
		names = append(names, name)
	}
	if strings.Join(names, ",") != "basic,premium,elite" {
		t.Errorf("tier order = %v", names)
	}
}

func TestRoundHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.openRound(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"current", "/api/v1/rounds/7", http.StatusOK},
		{"unknown", "/api/v1/rounds/999", http.StatusNotFound},
		{"malformed", "/api/v1/rounds/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := ts.do(t, "GET", tt.path, "")
			if status != tt.status {
				t.Errorf("status = %d, want %d (%v)", status, tt.status, result)
			}
			if status == http.StatusOK && result["server_seed"] != "" && result["server_seed"] != nil {
				t.Errorf("archived unsettled round leaked its seed: %v", result)
			}
		})
	}
}

func TestHistoryHandler_FallsBackToArchive(t *testing.T) {
	ts := newTestServer(t)
	ts.openRound(t)

	status, result := ts.do(t, "GET", "/api/v1/round/history?limit=5", "")
	if status != http.StatusOK || result["source"] != "archive" {
		t.Fatalf("history = %d %v", status, result)
	}
	if rounds, _ := result["rounds"].([]any); len(rounds) != 1 {
		t.Errorf("rounds = %v", result["rounds"])
	}
}

func TestDepositAndBalance(t *testing.T) {
	ts := newTestServer(t)

	status, result := ts.do(t, "POST", "/api/v1/players/alice/deposit", `{"amount":"100.50"}`)
	if status != http.StatusOK || result["balance"] != "100.50" {
		t.Fatalf("deposit = %d %v", status, result)
	}

	_, result = ts.do(t, "GET", "/api/v1/players/alice/balance", "")
	if result["balance"] != "100.50" {
		t.Errorf("balance = %v", result["balance"])
	}

	status, result = ts.do(t, "POST", "/api/v1/players/alice/deposit", `{"amount":"-5"}`)
	if status != http.StatusBadRequest || result["code"] != "INVALID_AMOUNT" {
		t.Errorf("negative deposit = %d %v", status, result)
	}
}

func TestActionHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.openRound(t)
	ts.do(t, "POST", "/api/v1/players/alice/deposit", `{"amount":100}`)

	status, result := ts.do(t, "POST", "/api/v1/actions", `{"player_id":"alice","action":"bet","amount":"25.50"}`)
	if status != http.StatusOK || result["success"] != true || result["balance"] != "74.50" {
		t.Fatalf("bet = %d %v", status, result)
	}
	betID, _ := result["bet_id"].(string)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"insufficient balance", `{"player_id":"alice","action":"bet","amount":"500"}`, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
		{"below minimum", `{"player_id":"alice","action":"bet","amount":"0.5"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"cashout while betting", `{"player_id":"alice","action":"cashout","bet_id":"` + betID + `"}`, http.StatusConflict, "INVALID_PHASE"},
		{"insure someone else's bet", `{"player_id":"bob","action":"insure","bet_id":"` + betID + `","tier":"basic"}`, http.StatusForbidden, "FORBIDDEN"},
		{"unknown tier", `{"player_id":"alice","action":"insure","bet_id":"` + betID + `","tier":"platinum"}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown action", `{"player_id":"alice","action":"double"}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"wrong round", `{"player_id":"alice","action":"bet","amount":"1","round_id":3}`, http.StatusConflict, "INVALID_PHASE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := ts.do(t, "POST", "/api/v1/actions", tt.body)
			if status != tt.status || result["code"] != tt.code || result["success"] != false {
				t.Errorf("got %d %v, want %d %s", status, result, tt.status, tt.code)
			}
		})
	}

	status, result = ts.do(t, "POST", "/api/v1/actions", `{"player_id":"alice","action":"insure","bet_id":"`+betID+`","tier":"basic"}`)
	if status != http.StatusOK || result["premium"] != "3.82" || result["balance"] != "70.68" {
		t.Errorf("insure = %d %v", status, result)
	}

	status, _ = ts.do(t, "POST", "/api/v1/actions", `{"action":"bet"}`)
	if status != http.StatusBadRequest {
		t.Errorf("missing player id status = %d", status)
	}
}

func TestVerifyHandler(t *testing.T) {
	ts := newTestServer(t)

	status, result := ts.do(t, "GET", "/api/v1/verify?server_seed=abc123&client_seed=player-seed&nonce=7&server_seed_hash="+fairness.HashSeed("abc123"), "")
	if status != http.StatusOK {
		t.Fatalf("verify status = %d %v", status, result)
	}
	if result["crash_point"] != 2.04 || result["hash_matches"] != true {
		t.Errorf("verify = %v", result)
	}

	bad := []string{
		"/api/v1/verify?client_seed=player-seed&nonce=7",
		"/api/v1/verify?server_seed=abc123&client_seed=player-seed&nonce=x",
		"/api/v1/verify?server_seed=abc123&client_seed=player-seed&nonce=7&edge=1.5",
	}
	for _, path := range bad {
		if status, _ := ts.do(t, "GET", path, ""); status != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, status)
		}
	}
}

func TestWebSocket_UpgradeRequired(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest("GET", "/ws", nil)
	resp, err := ts.srv.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("plain GET /ws status = %d", resp.StatusCode)
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	ts.openRound(t)
	if _, err := ts.ledger.Deposit(context.Background(), "p1", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go ts.srv.Listener(ln)
	t.Cleanup(func() { ts.srv.ShutdownWithTimeout(time.Second) })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws?player_id=p1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial game.Event
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if initial.Type != game.EventInitialState || initial.RoundID != 7 || initial.Phase != game.PhaseBetting {
		t.Fatalf("initial state = %+v", initial)
	}

	if err := conn.WriteJSON(map[string]any{"type": "place_bet", "amount": "10"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sawReply, sawBroadcast bool
	for !sawReply || !sawBroadcast {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case msg["type"] == string(game.EventBetPlaced):
			sawBroadcast = msg["player_id"] == "p1" && msg["amount"] == "10.00"
		case msg["success"] == true:
			sawReply = msg["balance"] == "40.00"
		case msg["success"] == false:
			t.Fatalf("bet rejected: %v", msg)
		}
	}

	late, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial late: %v", err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	var lateInitial game.Event
	if err := late.ReadJSON(&lateInitial); err != nil {
		t.Fatalf("read late initial state: %v", err)
	}
	if len(lateInitial.Bets) != 1 || lateInitial.Bets[0].PlayerID != "p1" || lateInitial.Bets[0].Amount != "10.00" {
		t.Errorf("late initial bets = %+v", lateInitial.Bets)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read pong: %v", err)
		}
		if msg["type"] == "pong" {
			break
		}
	}
}
