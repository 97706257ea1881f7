// Command tarotbot plays one seat of a table over the websocket protocol,
// using the same bots as the server's substitutes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tarot/internal/auth"
	"tarot/internal/bots"
	"tarot/internal/engine"
	"tarot/internal/server"
)

func main() {
	addr := flag.String("url", "ws://localhost:8080/ws", "Server websocket URL")
	table := flag.String("table", "", "Table to join; empty opens a new one")
	user := flag.String("user", "", "User id; defaults to a random one")
	name := flag.String("name", "", "Display name")
	difficulty := flag.String("difficulty", "MEDIUM", "EASY, MEDIUM or HARD")
	fill := flag.Int("fill", 0, "Server bots to add before readying up")
	fillDifficulty := flag.String("fill-difficulty", "MEDIUM", "Difficulty of the added server bots")
	secret := flag.String("secret", os.Getenv("TAROT_TOKEN_SECRET"), "Token secret of the server, if it requires tokens")
	seed := flag.Int64("seed", 0, "Bot seed; 0 uses the clock")
	flag.Parse()

	d, err := bots.ParseDifficulty(*difficulty)
	if err != nil {
		log.Fatal(err)
	}
	if *user == "" {
		*user = "tarotbot-" + uuid.NewString()
	}
	if *name == "" {
		*name = fmt.Sprintf("%s tarotbot", d)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	target, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("url: %v", err)
	}
	if *secret != "" {
		token, err := auth.Issue(*secret, *user, time.Hour)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		q := target.Query()
		q.Set("token", token)
		target.RawQuery = q.Encode()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := &player{
		brain: bots.New(d, *seed),
		join:  server.JoinMsg{TableID: *table, UserID: *user, DisplayName: *name},
	}
	for i := 0; i < *fill; i++ {
		p.setup = append(p.setup, server.AddBotMsg{Difficulty: *fillDifficulty})
	}
	p.setup = append(p.setup, server.ReadyMsg{})

	if err := p.run(ctx, target.String()); err != nil {
		log.Fatal(err)
	}
}

type player struct {
	brain bots.Bot
	join  server.JoinMsg
	setup []server.Inbound

	conn   *websocket.Conn
	tricks []engine.Trick
	// acted is the last state the bot answered, so repeated snapshots of
	// the same position do not trigger a second move.
	acted string
}

func (p *player) run(ctx context.Context, addr string) error {
	c, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close(websocket.StatusNormalClosure, "bye")
	p.conn = c

	if err := p.send(ctx, p.join); err != nil {
		return err
	}
	for {
		var env server.Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		done, err := p.handle(ctx, env)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (p *player) handle(ctx context.Context, env server.Envelope) (bool, error) {
	switch env.Type {
	case server.KindTableState:
		var ts server.TableStateMsg
		if err := json.Unmarshal(env.Payload, &ts); err != nil {
			return false, err
		}
		if p.join.TableID == "" {
			p.join.TableID = ts.TableID
			log.Printf("seated at table %s", ts.TableID)
		}
		if len(p.setup) > 0 && !ts.Started {
			setup := p.setup
			p.setup = nil
			for _, m := range setup {
				if err := p.send(ctx, m); err != nil {
					return false, err
				}
			}
		}
	case server.KindRoundStart:
		var rs server.RoundStartMsg
		if err := json.Unmarshal(env.Payload, &rs); err != nil {
			return false, err
		}
		p.tricks = nil
		log.Printf("round %d, dealer %d", rs.Round, rs.Dealer)
	case server.KindTrickComplete:
		var tc server.TrickCompleteMsg
		if err := json.Unmarshal(env.Payload, &tc); err != nil {
			return false, err
		}
		t, err := tc.Trick.Trick()
		if err != nil {
			return false, err
		}
		p.tricks = append(p.tricks, t)
	case server.KindGameState:
		var gs server.GameStateMsg
		if err := json.Unmarshal(env.Payload, &gs); err != nil {
			return false, err
		}
		return false, p.act(ctx, gs.State)
	case server.KindRoundEnd:
		var re server.RoundEndMsg
		if err := json.Unmarshal(env.Payload, &re); err != nil {
			return false, err
		}
		log.Printf("round %d over: %s made=%t, totals %v", re.Round, re.Contract, re.Made, re.Totals)
	case server.KindError:
		var e server.ErrorMsg
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return false, err
		}
		log.Printf("server rejected: %s: %s", e.Code, e.Message)
	case server.KindGameOver:
		var g server.GameOverMsg
		if err := json.Unmarshal(env.Payload, &g); err != nil {
			return false, err
		}
		log.Printf("game over (%s): totals %v, winner seat %d", g.Reason, g.Totals, g.Winner)
		return true, nil
	}
	return false, nil
}

func (p *player) act(ctx context.Context, v server.GameView) error {
	mustDiscard := v.DiscardPending && v.Taker == v.Seat
	if !mustDiscard && len(v.LegalBids) == 0 && (v.ToAct != v.Seat || len(v.LegalCards) == 0) {
		return nil
	}
	key := fmt.Sprintf("%d/%s/%d/%d/%d/%t", v.Round, v.Phase, len(v.Bids), v.TricksPlayed, len(v.Trick), v.DiscardPending)
	if key == p.acted {
		return nil
	}
	sv, err := v.SeatView(p.tricks)
	if err != nil {
		return err
	}
	a, err := p.brain.ChooseAction(sv)
	if err != nil {
		return fmt.Errorf("choose action: %w", err)
	}
	m, err := server.FromAction(a)
	if err != nil {
		return err
	}
	p.acted = key
	return p.send(ctx, m)
}

func (p *player) send(ctx context.Context, m server.Inbound) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, p.conn, server.Envelope{Type: m.Kind(), Payload: payload})
}
