package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockquest/trading-engine/internal/model"
	"github.com/stockquest/trading-engine/internal/pricing"
	"github.com/stockquest/trading-engine/internal/store"
	"github.com/stockquest/trading-engine/internal/trade"
)

func TestWSHub_BroadcastsExecutions(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	slip, _ := pricing.NewSlippage(d(1), d(1), pricing.SlippageMetadata, pricing.FixedRand(0))
	prices := newStubPrices()
	prices.set("STOCK_A", 250)
	svc := trade.NewService(store.NewMemoryStore(), prices, slip, hub, trade.DefaultConfig())

	ctx := context.Background()
	sess, _ := svc.CreateSession(ctx, trade.CreateSessionCommand{UserID: "u1", ChallengeID: "c1", SeedBalance: ptr(d(1000))})
	if _, err := svc.StartSession(ctx, sess.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := svc.PlaceOrder(ctx, trade.PlaceOrderCommand{
		SessionID:     sess.ID,
		InstrumentKey: "STOCK_A",
		Side:          model.SideBuy,
		Quantity:      d(2),
	}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg trade.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "order_executed" || msg.SessionID != sess.ID || msg.InstrumentKey != "STOCK_A" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Price != "250" || msg.Balance != "500" {
		t.Errorf("price %q balance %q; want 250 and 500", msg.Price, msg.Balance)
	}
}

func TestWSHub_SessionFilter(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	mine, _, err := websocket.DefaultDialer.Dial(url+"?session_id=s1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer mine.Close()
	other, _, err := websocket.DefaultDialer.Dial(url+"?session_id=s2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer other.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("clients never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(trade.WSMessage{Type: "session_started", SessionID: "s1"})

	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := mine.ReadMessage(); err != nil {
		t.Fatalf("subscriber read: %v", err)
	} else if !strings.Contains(string(data), `"session_started"`) {
		t.Errorf("unexpected message: %s", data)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := other.ReadMessage(); err == nil {
		t.Errorf("client filtered to s2 received %s", data)
	}
}
