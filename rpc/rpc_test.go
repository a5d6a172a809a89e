package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/nexplane/internal/logging"
)

func startServer(t *testing.T) (*Server, string, context.CancelFunc) {
	t.Helper()
	srv := NewServer(logging.Noop(), nil)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)
	return srv, srv.Addr(), cancel
}

func TestClientServer_Call(t *testing.T) {
	srv, addr, _ := startServer(t)
	srv.Register("speak", func(params []any) (any, error) {
		if len(params) != 1 {
			return nil, errors.New("want one param")
		}
		return "echo:" + params[0].(string), nil
	})

	client, err := Dial(addr, logging.Noop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	result, err := client.Call("speak", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result != "echo:hello" {
		t.Errorf("result = %v", result)
	}
}

func TestClientServer_UnknownMethod(t *testing.T) {
	_, addr, _ := startServer(t)

	client, err := Dial(addr, logging.Noop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.Call("nonsense")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestClientServer_DeviceErrorPropagates(t *testing.T) {
	srv, addr, _ := startServer(t)
	srv.Register("slew_rate", func(params []any) (any, error) {
		return nil, &DeviceError{Message: "rate rejected"}
	})

	client, err := Dial(addr, logging.Noop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.Call("slew_rate", 1, 0.01)
	var dev *DeviceError
	if !errors.As(err, &dev) {
		t.Fatalf("err = %v, want DeviceError", err)
	}
	if dev.Message != "rate rejected" {
		t.Errorf("message = %q", dev.Message)
	}
}

func TestClient_TransportLostAndReconnect(t *testing.T) {
	srv, addr, cancel := startServer(t)
	srv.Register("ping", func(params []any) (any, error) { return "pong", nil })

	client, err := Dial(addr, logging.Noop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Call("ping"); err != nil {
		t.Fatal(err)
	}

	// Kill the bridge mid-session.
	cancel()
	srv.Close()
	time.Sleep(50 * time.Millisecond)

	_, err = client.Call("ping")
	if !errors.Is(err, ErrTransportLost) {
		t.Fatalf("err after bridge death = %v, want ErrTransportLost", err)
	}
	if client.Connected() {
		t.Error("client claims connected after transport loss")
	}

	// Restart the bridge on the same address within the S4 window.
	srv2 := NewServer(logging.Noop(), nil)
	if err := srv2.Listen(addr); err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go srv2.Serve(ctx2)
	srv2.Register("ping", func(params []any) (any, error) { return "pong", nil })

	// The background loop reconnects with backoff; give it a few
	// seconds.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.Connected() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !client.Connected() {
		t.Fatal("client did not reconnect")
	}

	result, err := client.Call("ping")
	if err != nil {
		t.Fatal(err)
	}
	if result != "pong" {
		t.Errorf("result after reconnect = %v", result)
	}
}

func TestWireError_Taxonomy(t *testing.T) {
	cases := []struct {
		in   error
		kind string
	}{
		{ErrTransportLost, KindTransportLost},
		{ErrUnsupported, KindUnsupported},
		{ErrBusy, KindBusy},
		{&DeviceError{Message: "x"}, KindDeviceError},
		{errors.New("anything else"), KindDeviceError},
	}
	for _, c := range cases {
		w := WireErrorFor(c.in)
		if w.Kind != c.kind {
			t.Errorf("WireErrorFor(%v).Kind = %q, want %q", c.in, w.Kind, c.kind)
		}
	}

	if err := (&WireError{Kind: KindBusy}).AsError(); !errors.Is(err, ErrBusy) {
		t.Errorf("AsError(Busy) = %v", err)
	}
}
