package pluginhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentxhub/agentx/internal/protocol"
)

// pluginEndpointPrefix marks an AgentCard Endpoint as plugin-backed: the
// router resolves "plugin://<pluginId>" through a spawned adapter process
// instead of dialing a network address directly.
const pluginEndpointPrefix = "plugin://"

// PluginSender adapts a Host to the router's Sender seam: it marshals a
// protocol.Message into the processMessage adapter method and
// back, so the router never needs to know it is talking to an
// out-of-process adapter rather than a direct transport.
type PluginSender struct {
	host *Host
}

func NewPluginSender(host *Host) *PluginSender { return &PluginSender{host: host} }

func (s *PluginSender) Send(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) (*protocol.Message, error) {
	pluginID := strings.TrimPrefix(endpoint.URL, pluginEndpointPrefix)
	handle, ok := s.host.Handle(pluginID)
	if !ok {
		return nil, fmt.Errorf("pluginhost: no spawned plugin for endpoint %s", endpoint.URL)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	respPayload, err := s.host.ProcessMessage(ctx, handle, payload)
	if err != nil {
		return nil, err
	}
	if len(respPayload) == 0 {
		return nil, nil
	}

	var reply protocol.Message
	if err := json.Unmarshal(respPayload, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
