package hostapi

import (
	"context"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// Host bundles every collaborator interface a gateway host must provide
// to this adapter (spec.md §6 "Host plugin API consumed"). It is the
// adapter-side mirror of the descriptor the host dispenses to us.
type Host interface {
	PairingStore
	SessionStore
	RoutingResolver
	ActivityRecorder
	MentionPatternBuilder
	CommandGate
	MarkdownConverter
	BlockStreamingDispatcher
}

// ChannelPlugin is what this adapter exposes back to the gateway host
// (spec.md §6 "Plugin API exposed"): an id, a fixed capability set, and
// start/stop lifecycle hooks bound to the host-provided collaborators.
type ChannelPlugin interface {
	// ID returns the channel id this plugin registers under ("xmpp").
	ID() string

	// Capabilities returns the fixed capability set spec.md §6 names.
	Capabilities() Capabilities

	// Start begins processing for every configured account, using host
	// to satisfy inbound pipeline dependencies.
	Start(ctx context.Context, host Host) error

	// Stop disconnects every account and releases resources.
	Stop() error
}

// Handshake is the plugin handshake config. The magic cookie guards
// against a host accidentally executing an unrelated binary as a
// plugin.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CHATBRIDGE_CHANNEL_PLUGIN",
	MagicCookieValue: "xmpp",
}

// PluginMap is the plugin type map passed to go-plugin's client and
// server; "channel" is the only dispensed type this adapter serves.
var PluginMap = map[string]goplugin.Plugin{
	"channel": &GRPCPlugin{},
}

// GRPCPlugin adapts a ChannelPlugin to go-plugin's gRPC transport.
type GRPCPlugin struct {
	goplugin.Plugin
	Impl ChannelPlugin
}

// GRPCServer would register the channel gRPC service on s, dispensing
// Impl to the host. Left as a stub pending a generated proto service
// for ChannelPlugin/Host — this adapter currently runs in-process via
// cmd/xmppchanneld rather than as a spawned plugin binary.
func (p *GRPCPlugin) GRPCServer(broker *goplugin.GRPCBroker, s *grpc.Server) error {
	return nil
}

// GRPCClient would return a gRPC-backed ChannelPlugin client. Stub for
// the same reason as GRPCServer.
func (p *GRPCPlugin) GRPCClient(ctx context.Context, broker *goplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return nil, nil
}

// Serve runs impl as an out-of-process plugin, blocking until the host
// disconnects. cmd/xmppchanneld calls this only when launched with
// -plugin; the default entrypoint runs the same ChannelPlugin
// in-process instead.
func Serve(impl ChannelPlugin) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"channel": &GRPCPlugin{Impl: impl},
		},
		GRPCServer: goplugin.DefaultGRPCServer,
	})
}
