// Command watch follows a running crash server over its websocket and can
// place one bet per round.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crash/internal/game"
	"crash/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	player := flag.String("player", "", "player id to act as; empty only watches")
	bet := flag.String("bet", "", "stake to place at every round_open, e.g. 10.00")
	auto := flag.String("auto", "", "auto cash-out target for placed bets, e.g. 2.00")
	flag.Parse()

	log, err := logging.New("local")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	if *player != "" {
		u.RawQuery = url.Values{"player_id": {*player}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatal("dial failed", zap.String("url", u.String()), zap.Error(err))
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error("connection lost", zap.Error(err))
			}
			return
		}

		var ev game.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			log.Info("reply", zap.ByteString("body", data))
			continue
		}
		report(log, ev)

		if ev.Type == game.EventRoundOpen && *player != "" && *bet != "" {
			msg := map[string]any{"action": "bet", "round_id": ev.RoundID, "amount": *bet}
			if *auto != "" {
				msg["auto_cashout"] = *auto
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Error("send bet", zap.Error(err))
				return
			}
		}
	}
}

func report(log *zap.Logger, ev game.Event) {
	fields := []zap.Field{
		zap.Int64("round", ev.RoundID),
		zap.String("phase", string(ev.Phase)),
		zap.String("integrity", ev.Integrity),
	}
	switch ev.Type {
	case game.EventMultiplierUpdate:
		log.Debug(fmt.Sprintf("%.2fx", ev.Multiplier), fields...)
	case game.EventRoundOpen, game.EventInitialState:
		log.Info(string(ev.Type), append(fields,
			zap.String("seed_hash", ev.ServerSeedHash),
			zap.Int64("nonce", ev.Nonce),
			zap.Float64("edge", ev.Edge))...)
	case game.EventCrash:
		log.Info(fmt.Sprintf("crashed at %.2fx", ev.CrashPoint), append(fields, zap.String("tag", ev.Tag))...)
	case game.EventRoundSettled:
		log.Info("settled", append(fields, zap.String("server_seed", ev.ServerSeed))...)
	case game.EventCashout:
		log.Info("cashout", append(fields,
			zap.String("player_id", ev.PlayerID),
			zap.Float64("multiplier", ev.Multiplier),
			zap.String("payout", ev.Payout),
			zap.Bool("auto", ev.Auto))...)
	default:
		log.Info(string(ev.Type), append(fields, zap.String("player_id", ev.PlayerID), zap.String("amount", ev.Amount))...)
	}
}
