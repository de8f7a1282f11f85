package pluginhost

import (
	"context"
	"encoding/json"
	"io"
	"testing"
)

func TestForwardAppliesRegisteredCodec(t *testing.T) {
	spawner := &fakeSpawner{adapter: echoAdapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "target", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	host.Codecs().Register("langchain", CodecFunc(func(source Envelope) (Envelope, error) {
		var body map[string]string
		if err := json.Unmarshal(source.Payload, &body); err != nil {
			return Envelope{}, err
		}
		body["framework"] = "langchain"
		converted, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, err
		}
		source.Payload = converted
		return source, nil
	}))

	payload, _ := json.Marshal(map[string]string{"text": "hello"})
	reply, err := host.Forward(context.Background(), "langchain", handle, Envelope{Payload: payload})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(reply.Payload, &got); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if got["framework"] != "langchain" || got["text"] != "hello" {
		t.Fatalf("codec did not run before delivery: %v", got)
	}
}

func TestForwardWithoutCodecPassesThrough(t *testing.T) {
	spawner := &fakeSpawner{adapter: echoAdapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "target", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"text": "unchanged"})
	reply, err := host.Forward(context.Background(), "unregistered-framework", handle, Envelope{Payload: payload})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(reply.Payload, &got); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if got["text"] != "unchanged" || len(got) != 1 {
		t.Fatalf("identity pass-through broken: %v", got)
	}
}

// handshakeOnlyAdapter handshakes and immediately exits, so the plugin
// crashes as soon as it reaches Running.
func handshakeOnlyAdapter(rw io.ReadWriter, waitCh chan struct{}) {
	if err := writeFrame(rw, handshakeRequest{Role: "plugin", PluginID: "dying"}); err != nil {
		return
	}
	var hr handshakeResponse
	_ = readFrame(rw, &hr)
}

func TestExhaustedRestartPolicySurfacesPluginUnavailable(t *testing.T) {
	spawner := &fakeSpawner{adapter: handshakeOnlyAdapter}
	host := newTestHost(t, spawner)
	host.cfg.RestartPolicy = RestartPolicy{MaxRestarts: 0, WindowSecs: 60}

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "dying", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	// The adapter exits right after the handshake; wait for the read loop to
	// observe the death and for the zero-restart policy to refuse a respawn.
	waitForState(t, host, handle, StateError)

	_, err = host.CallUnary(context.Background(), handle, Envelope{})
	if _, ok := err.(*PluginUnavailableError); !ok {
		t.Fatalf("err = %v (%T), want *PluginUnavailableError", err, err)
	}
}
