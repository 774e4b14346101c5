package webrtc

import (
	"fmt"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// FactoryConfig holds the peer connection construction parameters.
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PeerConnectionFactory builds peer connections with the capability-derived
// fallback policy baked in. Connections are configured once at construction;
// pooled reuse never reconfigures them.
type PeerConnectionFactory struct {
	api    *webrtc.API
	config FactoryConfig
	policy domain.FallbackPolicy
}

func NewPeerConnectionFactory(config FactoryConfig, policy domain.FallbackPolicy) (*PeerConnectionFactory, error) {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set udp port range: %w", err)
		}
	}

	return &PeerConnectionFactory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: config,
		policy: policy,
	}, nil
}

// NewPeerConnection implements ports.ConnectionFactory.
func (f *PeerConnectionFactory) NewPeerConnection(kind domain.MediaKind) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}
	if f.policy.ForceRelay {
		config.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	pc, err := f.api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

var _ ports.ConnectionFactory = (*PeerConnectionFactory)(nil)
