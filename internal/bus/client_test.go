package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/natsserver"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startClient(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublishJSON(t *testing.T) {
	client := startClient(t)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}

	received := make(chan protocol.SymbolEvent, 1)
	sub, err := client.Conn().Subscribe(protocol.SubjectGestureSymbol, func(msg *nats.Msg) {
		var evt protocol.SymbolEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			received <- evt
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := client.PublishJSON(protocol.SubjectGestureSymbol, protocol.SymbolEvent{SessionID: "s1", Symbol: "A"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-received:
		if evt.SessionID != "s1" || evt.Symbol != "A" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRequestJSON(t *testing.T) {
	client := startClient(t)

	sub, err := client.Conn().Subscribe(protocol.SubjectCorrectRequest, func(msg *nats.Msg) {
		var req protocol.CorrectionRequest
		_ = json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(protocol.CorrectionResponse{Word: "cat", Score: float64(len(req.Lattice))})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var resp protocol.CorrectionResponse
	req := protocol.CorrectionRequest{Lattice: [][]protocol.Candidate{{{Symbol: "c"}}, {{Symbol: "a"}}, {{Symbol: "t"}}}}
	if err := client.RequestJSON(ctx, protocol.SubjectCorrectRequest, req, &resp); err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Word != "cat" || resp.Score != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
