package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/pkg/cache"
)

// browserPattern pairs a browser family with its user-agent marker. Detection
// walks the list in order and the first match wins, so Edge and Opera agents
// that also carry a "Chrome/" token classify as chrome. That ordering is part
// of the contract and covered by tests.
type browserPattern struct {
	browser domain.Browser
	re      *regexp.Regexp
}

var browserPatterns = []browserPattern{
	{domain.BrowserChrome, regexp.MustCompile(`Chrome/(\d+[\d.]*)`)},
	{domain.BrowserFirefox, regexp.MustCompile(`Firefox/(\d+[\d.]*)`)},
	{domain.BrowserSafari, regexp.MustCompile(`Version/(\d+[\d.]*).*Safari`)},
	{domain.BrowserEdge, regexp.MustCompile(`Edge?/(\d+[\d.]*)`)},
	{domain.BrowserOpera, regexp.MustCompile(`(?:OPR|Opera)/(\d+[\d.]*)`)},
}

var mobileRe = regexp.MustCompile(`Mobile|Android|iPhone|iPad|iPod`)

// CapabilityService detects the platform once at startup. The resulting
// profile is immutable for the process lifetime. Detection results are
// memoized per user agent, which matters on the relay where the REST endpoint
// classifies every caller.
type CapabilityService struct {
	probe    ports.PlatformProbe
	profiles *cache.Cache
}

func NewCapabilityService(probe ports.PlatformProbe) *CapabilityService {
	return &CapabilityService{
		probe:    probe,
		profiles: cache.NewCache(time.Hour),
	}
}

// Detect classifies the user agent, probes the platform for native API and
// codec support, and derives the fallback policy. The whole pipeline is a
// pure function of its inputs.
func (s *CapabilityService) Detect(userAgent string) domain.CapabilityProfile {
	if cached, ok := s.profiles.Get(userAgent); ok {
		return cached.(domain.CapabilityProfile)
	}

	profile := domain.CapabilityProfile{
		Browser: domain.BrowserUnknown,
		Version: "unknown",
	}

	for _, pattern := range browserPatterns {
		if m := pattern.re.FindStringSubmatch(userAgent); m != nil {
			profile.Browser = pattern.browser
			profile.Version = m[1]
			profile.MajorVersion = majorVersion(m[1])
			break
		}
	}

	profile.Mobile = mobileRe.MatchString(userAgent)

	profile.WebRTC = s.probe.HasPeerConnection()
	profile.MediaDevices = s.probe.HasMediaDevices()
	profile.MediaRecorder = s.probe.HasMediaRecorder()
	profile.ScreenCapture = s.probe.HasScreenCapture()
	profile.DataChannel = s.probe.HasDataChannel()
	profile.InsertableStreams = s.probe.HasInsertableStreams()
	profile.LogicalCores = s.probe.LogicalCores()
	profile.Codecs = s.probe.SupportedCodecs()

	profile.Policy = derivePolicy(profile)
	s.profiles.Set(userAgent, profile)
	return profile
}

// derivePolicy is the fixed decision table keyed on browser family, version,
// mobile flag and codec support.
func derivePolicy(p domain.CapabilityProfile) domain.FallbackPolicy {
	policy := domain.FallbackPolicy{
		PreferredCodec: preferredCodec(p),
		MaxVideoHeight: 1080,
	}

	// Older Safari cannot complete direct ICE reliably behind NAT.
	if p.Browser == domain.BrowserSafari && p.MajorVersion > 0 && p.MajorVersion < 14 {
		policy.ForceRelay = true
	}

	if p.Mobile {
		policy.MaxVideoHeight = 720
		// Weak mobile hardware defaults to audio-only.
		if p.LogicalCores > 0 && p.LogicalCores <= 4 {
			policy.DisableVideo = true
		}
	}

	if !p.ScreenCapture {
		policy.AlternateScreenCapture = true
	}

	if !p.WebRTC || !p.DataChannel {
		policy.RelayMessagesFallback = true
	}

	if policy.DisableVideo {
		policy.MaxVideoHeight = 0
	}

	return policy
}

func preferredCodec(p domain.CapabilityProfile) string {
	// Safari ships hardware H.264; everything else prefers the newest VP
	// codec it advertises.
	if p.Browser == domain.BrowserSafari && p.Codecs.H264 {
		return "H264"
	}
	if p.Codecs.VP9 {
		return "VP9"
	}
	if p.Codecs.VP8 {
		return "VP8"
	}
	if p.Codecs.H264 {
		return "H264"
	}
	return ""
}

func majorVersion(version string) int {
	head := version
	if idx := strings.IndexByte(version, '.'); idx >= 0 {
		head = version[:idx]
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return major
}
