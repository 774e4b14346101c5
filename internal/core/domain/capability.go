package domain

type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
	BrowserOpera   Browser = "opera"
	BrowserUnknown Browser = "unknown"
)

// CodecSupport holds the per-codec availability flags reported by the platform.
type CodecSupport struct {
	H264 bool
	VP8  bool
	VP9  bool
	Opus bool
}

// FallbackPolicy is derived once from the capability profile and applied at
// connection construction time. It is never recomputed mid-call.
type FallbackPolicy struct {
	PreferredCodec         string
	ForceRelay             bool
	MaxVideoHeight         int
	DisableVideo           bool
	AlternateScreenCapture bool
	RelayMessagesFallback  bool
}

// CapabilityProfile describes the detected platform. Computed once at startup
// and immutable for the process lifetime.
type CapabilityProfile struct {
	Browser      Browser
	Version      string
	MajorVersion int
	Mobile       bool

	WebRTC            bool
	MediaDevices      bool
	MediaRecorder     bool
	ScreenCapture     bool
	DataChannel       bool
	InsertableStreams bool
	LogicalCores      int

	Codecs CodecSupport
	Policy FallbackPolicy
}
