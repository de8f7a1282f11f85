package pluginhost

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeTransport is the host-side half of an in-memory adapter process: an
// io.Pipe pair stands in for stdin/stdout, and waitCh stands in for
// (*exec.Cmd).Wait() — closed when the fake adapter goroutine returns,
// simulating process exit.
type pipeTransport struct {
	r         *io.PipeReader
	w         *io.PipeWriter
	waitCh    chan struct{}
	closeOnce sync.Once
}

func (t *pipeTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t *pipeTransport) Write(p []byte) (int, error) { return t.w.Write(p) }

func (t *pipeTransport) Wait() error {
	<-t.waitCh
	return nil
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.r.CloseWithError(io.ErrClosedPipe)
		_ = t.w.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}

// fakeSpawner wires a pipeTransport per Spawn call and drives a scripted
// fake adapter goroutine on the other end of the pipes.
type fakeSpawner struct {
	mu      sync.Mutex
	spawns  int
	adapter func(adapterSide io.ReadWriter, waitCh chan struct{})
}

func (f *fakeSpawner) Spawn(ctx context.Context, cfg PluginConfig) (Transport, error) {
	f.mu.Lock()
	f.spawns++
	f.mu.Unlock()

	hostRead, adapterWrite := io.Pipe()
	adapterRead, hostWrite := io.Pipe()
	waitCh := make(chan struct{})

	host := &pipeTransport{r: hostRead, w: hostWrite, waitCh: waitCh}
	adapterSide := struct {
		io.Reader
		io.Writer
	}{adapterRead, adapterWrite}

	go func() {
		defer close(waitCh)
		defer adapterWrite.Close()
		defer adapterRead.Close()
		f.adapter(adapterSide, waitCh)
	}()

	return host, nil
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

// echoAdapter performs the handshake then echoes every request's payload
// back as a Response with the same MessageID, until the pipe closes.
func echoAdapter(rw io.ReadWriter, waitCh chan struct{}) {
	if err := writeFrame(rw, handshakeRequest{Role: "plugin", PluginID: "echo", Version: "1.0", Capabilities: []string{"echo"}}); err != nil {
		return
	}
	var hr handshakeResponse
	if err := readFrame(rw, &hr); err != nil {
		return
	}
	for {
		var env Envelope
		if err := readFrame(rw, &env); err != nil {
			return
		}
		env.MessageType = MessageTypeResponse
		if err := writeFrame(rw, env); err != nil {
			return
		}
	}
}

func newTestHost(t *testing.T, spawner *fakeSpawner) *Host {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.MessageTimeoutSecs = 2
	cfg.RestartPolicy = RestartPolicy{
		MaxRestarts: 5, WindowSecs: 60,
		InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, BackoffMultiplier: 2,
	}
	return New(cfg, spawner, nil, nil)
}

func TestSpawnPluginHandshakeAndCallUnary(t *testing.T) {
	spawner := &fakeSpawner{adapter: echoAdapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "p1", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}
	if got := host.State(handle); got != StateRunning {
		t.Fatalf("state = %v, want Running", got)
	}
	if caps := host.Capabilities(handle); len(caps) != 1 || caps[0] != "echo" {
		t.Fatalf("capabilities = %v", caps)
	}

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	resp, err := host.CallUnary(context.Background(), handle, Envelope{Payload: payload})
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(resp.Payload, &got); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if got["hello"] != "world" {
		t.Fatalf("echoed payload = %v", got)
	}
}

func TestCallUnaryTimeout(t *testing.T) {
	silentAdapter := func(rw io.ReadWriter, waitCh chan struct{}) {
		if err := writeFrame(rw, handshakeRequest{Role: "plugin", PluginID: "silent"}); err != nil {
			return
		}
		var hr handshakeResponse
		_ = readFrame(rw, &hr)
		// Never replies to subsequent requests; block until the pipe closes.
		var env Envelope
		_ = readFrame(rw, &env)
	}
	spawner := &fakeSpawner{adapter: silentAdapter}
	host := newTestHost(t, spawner)
	host.cfg.MessageTimeoutSecs = 0

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "p1", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = host.CallUnary(ctx, handle, Envelope{})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestPluginCrashResolvesInFlightCallsAndRestarts(t *testing.T) {
	var mu sync.Mutex
	generation := 0

	adapter := func(rw io.ReadWriter, waitCh chan struct{}) {
		mu.Lock()
		generation++
		gen := generation
		mu.Unlock()

		if err := writeFrame(rw, handshakeRequest{Role: "plugin", PluginID: "flaky", Version: "1.0"}); err != nil {
			return
		}
		var hr handshakeResponse
		if err := readFrame(rw, &hr); err != nil {
			return
		}

		if gen == 1 {
			// First generation: accept one request then die without
			// replying, simulating a mid-call crash.
			var env Envelope
			_ = readFrame(rw, &env)
			return
		}
		// Second generation onward: behave like a normal echo adapter.
		for {
			var env Envelope
			if err := readFrame(rw, &env); err != nil {
				return
			}
			env.MessageType = MessageTypeResponse
			if err := writeFrame(rw, env); err != nil {
				return
			}
		}
	}

	spawner := &fakeSpawner{adapter: adapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "flaky", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	_, err = host.CallUnary(context.Background(), handle, Envelope{})
	if err == nil {
		t.Fatalf("expected PluginCrashedError")
	}
	if _, ok := err.(*PluginCrashedError); !ok {
		t.Fatalf("err type = %T, want *PluginCrashedError", err)
	}

	// The restart policy should respawn the process; poll until it's
	// Running again (backoff is configured at 10ms in tests).
	deadline := time.Now().Add(2 * time.Second)
	for host.State(handle) != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("plugin never reached Running after crash, state=%v", host.State(handle))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if spawner.spawnCount() < 2 {
		t.Fatalf("spawnCount = %d, want >= 2 (restart should have respawned)", spawner.spawnCount())
	}

	resp, err := host.CallUnary(context.Background(), handle, Envelope{MessageID: "after-restart"})
	if err != nil {
		t.Fatalf("CallUnary after restart: %v", err)
	}
	if resp.MessageID != "after-restart" {
		t.Fatalf("reply message id = %q", resp.MessageID)
	}
}

func TestCallStreamingPreservesOrder(t *testing.T) {
	streamAdapter := func(rw io.ReadWriter, waitCh chan struct{}) {
		if err := writeFrame(rw, handshakeRequest{Role: "plugin", PluginID: "streamer"}); err != nil {
			return
		}
		var hr handshakeResponse
		if err := readFrame(rw, &hr); err != nil {
			return
		}
		var env Envelope
		if err := readFrame(rw, &env); err != nil {
			return
		}
		for i := 0; i < 5; i++ {
			chunk := Envelope{MessageID: env.MessageID, MessageType: MessageTypeStream, Payload: json.RawMessage(`{"i":` + itoa(i) + `}`)}
			if i == 4 {
				chunk.Metadata = map[string]string{"final": "true"}
			}
			if err := writeFrame(rw, chunk); err != nil {
				return
			}
		}
	}

	spawner := &fakeSpawner{adapter: streamAdapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "streamer", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	ch, err := host.CallStreaming(context.Background(), handle, Envelope{MessageID: "s1"})
	if err != nil {
		t.Fatalf("CallStreaming: %v", err)
	}

	var got []int
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		var v struct {
			I int `json:"i"`
		}
		if err := json.Unmarshal(chunk.Envelope.Payload, &v); err != nil {
			t.Fatalf("unmarshal chunk: %v", err)
		}
		got = append(got, v.I)
	}

	if len(got) != 5 {
		t.Fatalf("got %d chunks, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("chunk order broken: got %v", got)
		}
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func TestShutdownPluginStopsAndFrees(t *testing.T) {
	spawner := &fakeSpawner{adapter: echoAdapter}
	host := newTestHost(t, spawner)

	handle, err := host.SpawnPlugin(context.Background(), PluginConfig{PluginID: "p1", Command: "fake"})
	if err != nil {
		t.Fatalf("SpawnPlugin: %v", err)
	}

	if err := host.ShutdownPlugin(context.Background(), handle, 100); err != nil {
		t.Fatalf("ShutdownPlugin: %v", err)
	}
	if got := host.State(handle); got != StateStopped {
		t.Fatalf("state after shutdown = %v, want Stopped", got)
	}
	if _, ok := host.Handle("p1"); ok {
		t.Fatalf("plugin handle should be removed after shutdown")
	}
}

func waitForState(t *testing.T, host *Host, handle *PluginHandle, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for host.State(handle) != want {
		if time.Now().After(deadline) {
			t.Fatalf("plugin never reached %v, state=%v", want, host.State(handle))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
