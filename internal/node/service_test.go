package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/commlink/internal/config"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Name = "node-test"
	cfg.Transport.ListenPort = 0
	cfg.Channel.IdleDelay = 0
	return cfg
}

func startService(t *testing.T, cfg config.Config) (*Service, string) {
	t.Helper()
	svc, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	tcp, ok := svc.Transport().Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listen addr %v", svc.Transport().Addr())
	}
	return svc, fmt.Sprintf("127.0.0.1:%d", tcp.Port)
}

func TestServiceAcknowledgesConcurrentCommands(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	_, addr := startService(t, cfg)

	client, err := Dial(context.Background(), addr, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		i := i
		id := byte(i + 1)
		g.Go(func() error {
			resp, err := client.Await(ctx, &demo.LightCommand{LightID: id, On: i%2 == 0}, 2*time.Second)
			if err != nil {
				return err
			}
			if resp.LightID != id || resp.On != (i%2 == 0) {
				return fmt.Errorf("light %d: unexpected ack %s", id, resp)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("await: %v", err)
	}
	if s := client.Stats(); s.Matched != 10 {
		t.Fatalf("expected 10 matches, got %+v", s)
	}
}

func TestServiceTimedCodec(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Timestamp = "preserve"
	_, addr := startService(t, cfg)

	client, err := Dial(context.Background(), addr, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	stamp := time.Unix(1760000000, 0)
	resp, err := client.Await(context.Background(), &demo.LightCommand{LightID: 4, On: true, Stamp: stamp}, 2*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !resp.Stamp.Equal(stamp) {
		t.Fatalf("timestamp not preserved: %v", resp.Stamp)
	}
}

func TestStatusRouterListsChannels(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	svc, addr := startService(t, cfg)

	client, err := Dial(context.Background(), addr, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if _, err := client.Await(context.Background(), &demo.LightCommand{LightID: 1}, 2*time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.HTTPRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels", nil))
	var body struct {
		Transports []struct {
			Open     bool     `json:"open"`
			Channels []string `json:"channels"`
		} `json:"transports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Transports) != 1 || !body.Transports[0].Open || len(body.Transports[0].Channels) != 1 {
		t.Fatalf("unexpected status body: %s", rec.Body.String())
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	svc, err := NewService(testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.Transport().IsOpen() {
		if time.Now().After(deadline) {
			t.Fatalf("service never opened")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}
	if svc.Transport().IsOpen() {
		t.Fatalf("transport still open after serve returned")
	}
}
