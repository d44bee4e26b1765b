package routing

import (
	"regexp"
	"strings"
)

// UnknownAgent is used when neither the dialplan nor the channel name identify an agent.
const UnknownAgent = "unknown"

// localChannelName matches Local/150@context-00000001;1
var localChannelName = regexp.MustCompile(`^Local/(\d+)@`)

// ResolveAgent returns the agent a channel is addressed to.
func ResolveAgent(ch Channel) string {
	if ch.Exten != "" {
		return ch.Exten
	}
	if m := localChannelName.FindStringSubmatch(ch.Name); m != nil {
		return m[1]
	}
	return UnknownAgent
}

// CallID builds the registry key for an agent and inbound channel.
func CallID(agent, inboundChannelID string) string {
	return agent + "-" + inboundChannelID
}

// Directory maps agents to dial endpoints.
type Directory struct {
	endpoints map[string]string
	template  string
}

// NewDirectory creates a directory. template may contain {agent}.
func NewDirectory(endpoints map[string]string, template string) *Directory {
	m := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		m[k] = v
	}
	if template == "" {
		template = "SIP/{agent}"
	}
	return &Directory{endpoints: m, template: template}
}

// Endpoint returns the mapped endpoint for agent, or the default template expansion.
func (d *Directory) Endpoint(agent string) string {
	if ep, ok := d.endpoints[agent]; ok && ep != "" {
		return ep
	}
	return strings.ReplaceAll(d.template, "{agent}", agent)
}
