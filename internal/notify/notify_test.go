package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexbotov/prizewheel/internal/domain"
	"github.com/alexbotov/prizewheel/internal/metrics"
	"github.com/alexbotov/prizewheel/pkg/msggw"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	name  string
	err   error
	delay time.Duration
	mu    sync.Mutex
	got   []SpinResolved
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, ev *SpinResolved) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, *ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func prizeEvent() SpinResolved {
	expires := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	return SpinResolved{
		SessionID:       "s1",
		MerchantID:      "m1",
		MerchantName:    "Joe's Coffee",
		SpinRecordID:    "r1",
		SpinNumber:      1,
		Outcome:         domain.SegmentPrize,
		PrizeID:         "p1",
		PrizeName:       "Free latte",
		CouponCode:      "JOE-ABCDEFGH",
		CouponExpiresAt: &expires,
		RedeemURL:       "https://wheel.example.com/r/tok",
		ResolvedAt:      expires.Add(-24 * time.Hour),
		CustomerPhone:   "+15551234567",
	}
}

func TestDispatcher(t *testing.T) {
	t.Run("DeliversToEverySink", func(t *testing.T) {
		a := &recordingSink{name: "a"}
		b := &recordingSink{name: "b"}
		d := NewDispatcher(time.Second, nil, a)
		d.Add(b)

		d.Dispatch(prizeEvent())
		d.Wait()

		if a.count() != 1 || b.count() != 1 {
			t.Errorf("Expected one delivery per sink, got %d and %d", a.count(), b.count())
		}
	})

	t.Run("FailuresAreCounted", func(t *testing.T) {
		name := "failing_" + t.Name()
		bad := &recordingSink{name: name, err: errors.New("broker down")}
		good := &recordingSink{name: "good"}
		d := NewDispatcher(time.Second, nil, bad, good)

		before := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(name))
		d.Dispatch(prizeEvent())
		d.Wait()

		if got := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(name)); got != before+1 {
			t.Errorf("Expected failure counted, got %v", got-before)
		}
		if good.count() != 1 {
			t.Error("A failing sink must not block the others")
		}
	})

	t.Run("SkipsAreNotFailures", func(t *testing.T) {
		name := "skipping_" + t.Name()
		d := NewDispatcher(time.Second, nil, &recordingSink{name: name, err: ErrSkipped})
		d.Dispatch(prizeEvent())
		d.Wait()
		if got := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(name)); got != 0 {
			t.Errorf("Skip should not count as failure, got %v", got)
		}
	})

	t.Run("ReturnsBeforeDelivery", func(t *testing.T) {
		slow := &recordingSink{name: "slow", delay: 200 * time.Millisecond}
		d := NewDispatcher(time.Second, nil, slow)

		start := time.Now()
		d.Dispatch(prizeEvent())
		if time.Since(start) > 50*time.Millisecond {
			t.Error("Dispatch should not wait for sinks")
		}
		d.Wait()
		if slow.count() != 1 {
			t.Error("Expected slow sink to finish")
		}
	})

	t.Run("TimesOutSlowSinks", func(t *testing.T) {
		slow := &recordingSink{name: "timeout_" + t.Name(), delay: time.Second}
		d := NewDispatcher(20*time.Millisecond, nil, slow)
		d.Dispatch(prizeEvent())
		d.Wait()
		if slow.count() != 0 {
			t.Error("Expected delivery to be cancelled")
		}
	})
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "wheel.events")
	ev := prizeEvent()

	if err := p.Deliver(context.Background(), &ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if ch.exchange != "wheel.events" || ch.key != "wheel.spin.prize" {
		t.Errorf("Unexpected exchange/key %s %s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" {
		t.Errorf("Unexpected publishing %+v", ch.msg)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if decoded["coupon_code"] != "JOE-ABCDEFGH" {
		t.Errorf("Unexpected body %s", ch.msg.Body)
	}
	if strings.Contains(string(ch.msg.Body), ev.CustomerPhone) {
		t.Error("Customer phone must not be published")
	}

	ch.err = errors.New("channel closed")
	if err := p.Deliver(context.Background(), &ev); err == nil {
		t.Error("Expected publish error")
	}

	p.Close()
	if !ch.closed {
		t.Error("Expected channel closed")
	}
}

type fakeSender struct {
	req *msggw.SendMessageRequest
	err error
}

func (f *fakeSender) SendMessage(_ context.Context, req *msggw.SendMessageRequest) (*msggw.SendMessageResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &msggw.SendMessageResult{MessageID: "m"}, nil
}

func TestCustomerMessenger(t *testing.T) {
	ctx := context.Background()

	t.Run("SendsCoupon", func(t *testing.T) {
		sender := &fakeSender{}
		m := NewCustomerMessenger(sender)
		ev := prizeEvent()
		if err := m.Deliver(ctx, &ev); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		if sender.req.Recipient != ev.CustomerPhone || sender.req.Reference != "r1" {
			t.Errorf("Unexpected request %+v", sender.req)
		}
		if !strings.Contains(sender.req.Text, "JOE-ABCDEFGH") || !strings.Contains(sender.req.Text, ev.RedeemURL) {
			t.Errorf("Message missing coupon details: %s", sender.req.Text)
		}
	})

	t.Run("SkipsWithoutPhone", func(t *testing.T) {
		sender := &fakeSender{}
		ev := prizeEvent()
		ev.CustomerPhone = ""
		if err := NewCustomerMessenger(sender).Deliver(ctx, &ev); !errors.Is(err, ErrSkipped) {
			t.Errorf("Expected ErrSkipped, got %v", err)
		}
		if sender.req != nil {
			t.Error("No message should be sent")
		}
	})

	t.Run("SkipsNonPrize", func(t *testing.T) {
		ev := prizeEvent()
		ev.Outcome, ev.CouponCode = domain.SegmentUnlucky, ""
		if err := NewCustomerMessenger(&fakeSender{}).Deliver(ctx, &ev); !errors.Is(err, ErrSkipped) {
			t.Errorf("Expected ErrSkipped, got %v", err)
		}
	})

	t.Run("SkipsPrizeWithoutCoupon", func(t *testing.T) {
		ev := prizeEvent()
		ev.CouponCode, ev.SaveError = "", true
		if err := NewCustomerMessenger(&fakeSender{}).Deliver(ctx, &ev); !errors.Is(err, ErrSkipped) {
			t.Errorf("Expected ErrSkipped, got %v", err)
		}
	})

	t.Run("GatewayError", func(t *testing.T) {
		ev := prizeEvent()
		sender := &fakeSender{err: &msggw.APIError{Code: msggw.ErrRateLimited, Message: "slow down"}}
		if err := NewCustomerMessenger(sender).Deliver(ctx, &ev); err == nil || errors.Is(err, ErrSkipped) {
			t.Errorf("Expected delivery error, got %v", err)
		}
	})
}

func TestHub(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hub := NewHub(zap.New(core))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, r.URL.Query().Get("merchant")); err != nil {
			t.Errorf("Serve failed: %v", err)
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?merchant=m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello FeedMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" {
		t.Fatalf("Expected connected frame, got %+v %v", hello, err)
	}
	if hub.subscribers("m1") != 1 {
		t.Fatalf("Expected one subscriber, got %d", hub.subscribers("m1"))
	}
	connected := logs.FilterMessage("feed subscriber connected").All()
	if len(connected) != 1 || connected[0].ContextMap()["subscribers"] != int64(1) {
		t.Errorf("Expected connect logged with one subscriber, got %v", connected)
	}

	other := prizeEvent()
	other.MerchantID = "m2"
	if err := hub.Deliver(context.Background(), &other); !errors.Is(err, ErrSkipped) {
		t.Errorf("Expected skip for merchant without feeds, got %v", err)
	}

	ev := prizeEvent()
	if err := hub.Deliver(context.Background(), &ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	var frame FeedMessage
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if frame.Type != "spin_resolved" {
		t.Errorf("Expected spin_resolved, got %s", frame.Type)
	}
	var got SpinResolved
	json.Unmarshal(frame.Payload, &got)
	if got.MerchantID != "m1" || got.CouponCode != "JOE-ABCDEFGH" {
		t.Errorf("Unexpected payload %+v", got)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.subscribers("m1") != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.subscribers("m1") != 0 {
		t.Error("Expected subscriber removed after disconnect")
	}
}
