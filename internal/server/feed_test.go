package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"nhooyr.io/websocket"
)

func TestBrokerPublish(t *testing.T) {
	b := NewBroker()
	pub := b.Subscribe(TopicPublic)
	adm := b.Subscribe(TopicAdmin)

	if n := b.Publish(TopicPublic, []byte("x")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if got := string(<-pub); got != "x" {
		t.Fatalf("payload = %q", got)
	}
	select {
	case <-adm:
		t.Fatal("admin subscriber received a public payload")
	default:
	}

	b.Unsubscribe(TopicPublic, pub)
	if n := b.Subscribers(TopicPublic); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	if n := b.Publish(TopicPublic, []byte("y")); n != 0 {
		t.Fatalf("delivered after unsubscribe = %d", n)
	}
}

func TestFeedPublishesOnlyChanges(t *testing.T) {
	h := newHarness(t)
	ch := h.deps.Broker.Subscribe(TopicPublic)
	ctx := context.Background()

	if err := h.deps.Feed.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	var snap PublicSnapshot
	if err := json.Unmarshal(<-ch, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.Leaderboard) != 2 {
		t.Fatalf("leaderboard = %+v", snap.Leaderboard)
	}

	if err := h.deps.Feed.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	select {
	case data := <-ch:
		t.Fatalf("unchanged snapshot republished: %s", data)
	default:
	}

	h.start(h.admin(), 60, 5)
	if err := h.deps.Feed.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	snap = PublicSnapshot{}
	if err := json.Unmarshal(<-ch, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Competition.StartTime == nil || snap.Competition.RelayDuration != 5 {
		t.Fatalf("competition = %+v", snap.Competition)
	}
	if h.deps.Feed.Latest(TopicAdmin) == nil {
		t.Fatal("no admin snapshot")
	}
}

func TestFeedRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.deps.Feed.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.deps.Feed.Latest(TopicPublic) == nil {
		if time.Now().After(deadline) {
			t.Fatal("feed never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestEventsStreamsLatestSnapshot(t *testing.T) {
	h := newHarness(t)
	if err := h.deps.Feed.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
	if !ok {
		t.Fatalf("event line = %q", line)
	}
	var snap PublicSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if len(snap.Leaderboard) != 2 {
		t.Fatalf("leaderboard = %+v", snap.Leaderboard)
	}
}

func TestAdminLiveStreamsSnapshots(t *testing.T) {
	h := newHarness(t)
	admin := h.admin()
	if err := h.deps.Feed.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/admin/live"

	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("dial without a session succeeded")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{admin.Name + "=" + admin.Value}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var snap AdminSnapshot
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Stats.TotalTeams != 2 {
		t.Fatalf("total teams = %d, want 2", snap.Stats.TotalTeams)
	}

	expectStatus(t, h.do(http.MethodPost, "/api/violations", ViolationRequest{Type: "tab_switch"}, h.member("A1")), http.StatusOK)
	if err := h.deps.Feed.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, data, err = conn.Read(ctx); err != nil {
		t.Fatalf("read update: %v", err)
	}
	snap = AdminSnapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(snap.RecentViolations) != 1 {
		t.Fatalf("recent violations = %d, want 1", len(snap.RecentViolations))
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
