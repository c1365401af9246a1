package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newSession(t *testing.T, s *MemoryStore, id, user, challenge string, active bool) *model.Session {
	t.Helper()
	sess, err := model.NewSession(id, user, challenge, decimal.NewFromInt(1000), t0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if active {
		if err := sess.Start(t0); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestMemoryStore_GetSessionNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	err = s.WithSessionTx(context.Background(), "missing", func(Tx) error { return nil })
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("tx on missing session: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)

	got, _ := s.GetSession(context.Background(), "s1")
	got.CurrentBalance = decimal.Zero

	again, _ := s.GetSession(context.Background(), "s1")
	if !again.CurrentBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("caller mutation leaked into the store: %s", again.CurrentBalance)
	}
}

func TestMemoryStore_TxCommitsAllWrites(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)
	ctx := context.Background()

	err := s.WithSessionTx(ctx, "s1", func(tx Tx) error {
		sess := tx.Session()
		if err := sess.UpdateBalance(decimal.NewFromInt(400)); err != nil {
			return err
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		o, _ := model.NewOrder("o1", "s1", "A", model.SideBuy, decimal.NewFromInt(6), model.CategoryMarket, nil, t0)
		_ = o.Execute(decimal.NewFromInt(100), decimal.NewFromInt(1), t0)
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		p := model.NewPosition("s1", "A", t0)
		_ = p.AddPosition(decimal.NewFromInt(6), decimal.NewFromInt(100))
		if err := tx.SavePosition(ctx, p); err != nil {
			return err
		}

		staged, err := tx.FindPosition(ctx, "A")
		if err != nil || !staged.Quantity.Equal(decimal.NewFromInt(6)) {
			t.Errorf("staged position should be visible inside the tx: %v %v", staged, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSessionTx: %v", err)
	}

	sess, _ := s.GetSession(ctx, "s1")
	if !sess.CurrentBalance.Equal(decimal.NewFromInt(400)) {
		t.Errorf("balance = %s, want 400", sess.CurrentBalance)
	}
	orders, _ := s.ListOrders(ctx, "s1")
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
	positions, _ := s.ListPositions(ctx, "s1")
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(6)) {
		t.Errorf("unexpected positions: %+v", positions)
	}
}

func TestMemoryStore_TxRollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithSessionTx(ctx, "s1", func(tx Tx) error {
		sess := tx.Session()
		_ = sess.UpdateBalance(decimal.Zero)
		_ = tx.SaveSession(ctx, sess)
		_ = tx.SavePosition(ctx, model.NewPosition("s1", "A", t0))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	sess, _ := s.GetSession(ctx, "s1")
	if !sess.CurrentBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("rolled back balance leaked: %s", sess.CurrentBalance)
	}
	err = s.WithSessionTx(ctx, "s1", func(tx Tx) error {
		_, err := tx.FindPosition(ctx, "A")
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("rolled back position should not be found, got %v", err)
	}
	positions, _ := s.ListPositions(ctx, "s1")
	if len(positions) != 0 {
		t.Errorf("rolled back position leaked: %+v", positions)
	}
}

func TestMemoryStore_OneActiveSessionPerChallenge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newSession(t, s, "s1", "u1", "c1", true)
	newSession(t, s, "s2", "u1", "c1", false)
	newSession(t, s, "s3", "u1", "c2", true) // other challenge is fine

	err := s.WithSessionTx(ctx, "s2", func(tx Tx) error {
		sess := tx.Session()
		if err := sess.Start(t0); err != nil {
			return err
		}
		return tx.SaveSession(ctx, sess)
	})
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	s2, _ := s.GetSession(ctx, "s2")
	if s2.Status != model.SessionReady {
		t.Errorf("s2 should still be READY, got %s", s2.Status)
	}

	active, err := s.FindActiveSession(ctx, "u1", "c1")
	if err != nil || active.ID != "s1" {
		t.Errorf("expected s1 active, got %v %v", active, err)
	}
	if _, err := s.FindActiveSession(ctx, "u2", "c1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListOrdersNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)
	ctx := context.Background()

	for _, id := range []string{"o1", "o2", "o3"} {
		err := s.WithSessionTx(ctx, "s1", func(tx Tx) error {
			o, _ := model.NewOrder(id, "s1", "A", model.SideBuy, decimal.NewFromInt(1), model.CategoryMarket, nil, t0)
			return tx.SaveOrder(ctx, o)
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	orders, _ := s.ListOrders(ctx, "s1")
	if len(orders) != 3 || orders[0].ID != "o3" || orders[2].ID != "o1" {
		t.Errorf("unexpected order: %v", orders)
	}
}

func TestMemoryStore_TxSerializesPerSession(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithSessionTx(ctx, "s1", func(tx Tx) error {
				sess := tx.Session()
				next := sess.CurrentBalance.Sub(decimal.NewFromInt(10))
				if err := sess.UpdateBalance(next); err != nil {
					return err
				}
				return tx.SaveSession(ctx, sess)
			})
		}()
	}
	wg.Wait()

	sess, _ := s.GetSession(ctx, "s1")
	if !sess.CurrentBalance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("lost update: balance = %s, want 500", sess.CurrentBalance)
	}
}

func TestMemoryStore_TxScopedToSession(t *testing.T) {
	s := NewMemoryStore()
	newSession(t, s, "s1", "u1", "c1", true)
	other := newSession(t, s, "s2", "u2", "c1", true)
	ctx := context.Background()

	err := s.WithSessionTx(ctx, "s1", func(tx Tx) error {
		return tx.SaveSession(ctx, other)
	})
	if err == nil {
		t.Error("saving another session inside a tx should fail")
	}
}
