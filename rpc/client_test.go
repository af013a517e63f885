package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/interactive-rpc/go-sdk/schema"
)

func TestClientEndpointURLParticipant(t *testing.T) {
	c := NewClient(ParticipantRole, ClientOptions{
		Scheme:             "wss",
		Host:               "example.com",
		InteractiveVersion: "v2",
	})
	got, err := c.endpointURL()
	if err != nil {
		t.Fatalf("endpointURL: %v", err)
	}
	if want := "wss://example.com/participant/v2"; got != want {
		t.Errorf("endpointURL() = %q, want %q", got, want)
	}
}

func TestClientEndpointURLGame(t *testing.T) {
	c := NewClient(GameRole, ClientOptions{
		Scheme:             "ws",
		Host:               "example.com",
		InteractiveVersion: "v3",
	})
	got, err := c.endpointURL()
	if err != nil {
		t.Fatalf("endpointURL: %v", err)
	}
	if want := "ws://example.com/game/v3"; got != want {
		t.Errorf("endpointURL() = %q, want %q", got, want)
	}
}

func TestClientOpenAndExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Interactive-Version") != "v1" {
			http.Error(w, "missing version header", http.StatusBadRequest)
			return
		}
		ws := NewWebSocketServer()
		conn, err := ws.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		data, err := conn.ReadFrame(context.Background())
		if err != nil {
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil || frame.Method == nil {
			return
		}
		conn.WriteFrame(context.Background(), []byte(`{"type":"reply","id":`+itoa(frame.Method.ID)+`,"result":null}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	tpl := uritemplate.MustNew("ws://" + host + "/game/{interactiveVersion}")

	c := NewClient(GameRole, ClientOptions{
		InteractiveVersion: "v1",
		EndpointTemplate:   tpl,
		SkipPreflight:      true,
	})

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitForClientState(t, c, SocketConnected)

	if _, err := c.Execute(context.Background(), "ready", []byte(`{"isReady":true}`), false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	c.Close()
}

func TestClientRegisterSchemaRejectsInvalidParams(t *testing.T) {
	c := NewClient(ParticipantRole, ClientOptions{})

	type readyParams struct {
		IsReady bool `json:"isReady"`
	}
	s, err := schema.Infer[readyParams]()
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	v, err := schema.Compile(s)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	c.RegisterSchema("ready", v)

	// socket is nil since Open was never called; schema validation must
	// reject before Execute ever touches it.
	_, err = c.Execute(context.Background(), "ready", []byte(`{"isReady":"not a bool"}`), false)
	if err == nil {
		t.Fatal("Execute() = nil error, want SchemaError")
	}
	if _, ok := err.(*SchemaError); !ok {
		t.Fatalf("error = %T, want *SchemaError", err)
	}
}

func waitForClientState(t *testing.T, c *Client, want SocketState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client state never reached %v, stuck at %v", want, c.State())
}
