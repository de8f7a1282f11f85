package protocol

import (
	"context"
	"encoding/json"
	"testing"
)

func dispatchRaw(t *testing.T, e *Engine, raw string) *Response {
	t.Helper()
	return e.Dispatch(context.Background(), []byte(raw))
}

func TestDispatchParseError(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	resp := dispatchRaw(t, e, `{not json`)
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error %d, got %+v", CodeParseError, resp.Error)
	}
}

func TestDispatchRejectsWrongVersion(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	resp := dispatchRaw(t, e, `{"jsonrpc":"1.0","method":"sendMessage","id":"1"}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request %d, got %+v", CodeInvalidRequest, resp.Error)
	}
}

func TestDispatchMethodNotFound(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	resp := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"nope","id":"1"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found %d, got %+v", CodeMethodNotFound, resp.Error)
	}
}

func TestDispatchInvalidParams(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	resp := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"sendMessage","params":"not an object","id":"1"}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params %d, got %+v", CodeInvalidParams, resp.Error)
	}
}

func TestDispatchSendMessageEchoesID(t *testing.T) {
	e := newTestEngine(func(ctx context.Context, msg *Message) (*Message, error) {
		return &Message{MessageID: "reply-1", Role: RoleAgent, Parts: []Part{{Kind: PartKindText, Text: "hi"}}}, nil
	})
	defer e.Shutdown()

	raw := `{"jsonrpc":"2.0","method":"sendMessage","params":{"messageId":"m1","role":"user","parts":[{"kind":"text","text":"hello"}]},"id":"req-7"}`
	resp := dispatchRaw(t, e, raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != `"req-7"` {
		t.Fatalf("response id = %s, want \"req-7\"", resp.ID)
	}
	reply, ok := resp.Result.(*Message)
	if !ok || reply.MessageID != "reply-1" {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}

func TestDispatchTaskRoundTrip(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	submit := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"submitTask","params":{"id":"t1","kind":"text_generation"},"id":1}`)
	if submit.Error != nil {
		t.Fatalf("submitTask failed: %+v", submit.Error)
	}

	get := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"getTask","params":{"taskId":"t1"},"id":2}`)
	if get.Error != nil {
		t.Fatalf("getTask failed: %+v", get.Error)
	}
	task, ok := get.Result.(*Task)
	if !ok || task.Status.State != TaskSubmitted {
		t.Fatalf("unexpected getTask result: %+v", get.Result)
	}

	cancel := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"cancelTask","params":{"taskId":"t1"},"id":3}`)
	if cancel.Error != nil {
		t.Fatalf("cancelTask failed: %+v", cancel.Error)
	}

	missing := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"getTask","params":{"taskId":"ghost"},"id":4}`)
	if missing.Error == nil {
		t.Fatal("expected error for unknown task id")
	}
}

func TestDispatchGetCapabilities(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()
	e.SetCapabilityLookup(func(agentID string) []Capability {
		if agentID != "agent-A" {
			return nil
		}
		return []Capability{{Name: "summarize", Available: true}}
	})

	resp := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"getCapabilities","params":{"agentId":"agent-A"},"id":5}`)
	if resp.Error != nil {
		t.Fatalf("getCapabilities failed: %+v", resp.Error)
	}
	caps, ok := resp.Result.([]Capability)
	if !ok || len(caps) != 1 || caps[0].Name != "summarize" {
		t.Fatalf("unexpected capabilities: %+v", resp.Result)
	}
}

func TestResponseWireShape(t *testing.T) {
	e := newTestEngine(nil)
	defer e.Shutdown()

	resp := dispatchRaw(t, e, `{"jsonrpc":"2.0","method":"nope","id":"abc"}`)
	encoded, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var wire struct {
		JSONRPC string `json:"jsonrpc"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(encoded, &wire); err != nil {
		t.Fatalf("unmarshal wire form: %v", err)
	}
	if wire.JSONRPC != "2.0" || wire.Error == nil || wire.Error.Code != CodeMethodNotFound || wire.ID != "abc" {
		t.Fatalf("unexpected wire form: %s", encoded)
	}
}
