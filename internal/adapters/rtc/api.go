package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type Settings struct {
	ICEServers []ICEServer
	// PortMin and PortMax bound the UDP ports used for ICE; zero leaves them open.
	PortMin     uint16
	PortMax     uint16
	PLIInterval time.Duration
	// GatherTimeout caps the wait for candidate gathering in CreateOffer.
	GatherTimeout time.Duration
	LogLevel      zerolog.Level
}

func DefaultSettings() Settings {
	return Settings{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		PLIInterval:   3 * time.Second,
		GatherTimeout: 5 * time.Second,
		LogLevel:      zerolog.WarnLevel,
	}
}

func (s Settings) Configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, srv := range s.ICEServers {
		ice := webrtc.ICEServer{URLs: srv.URLs}
		if srv.Username != "" {
			ice.Username = srv.Username
			ice.Credential = srv.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, ice)
	}
	return cfg
}

// NewAPI builds the webrtc API shared by every connection of a process:
// default codecs and interceptors plus a periodic keyframe request on received video.
func NewAPI(s Settings) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	if s.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(s.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to create PLI factory: %w", err)
		}
		i.Add(pli)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = LoggerFactory{Level: s.LogLevel}
	if s.PortMin > 0 && s.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(s.PortMin, s.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set WebRTC port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}
