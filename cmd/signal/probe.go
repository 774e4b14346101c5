package main

import "quickchat/internal/core/domain"

// serverProbe backs capability detection for the REST endpoint. The relay
// never captures media itself, so the probe answers for a generically
// capable client and the interesting signal is the user-agent classification.
type serverProbe struct{}

func (serverProbe) HasPeerConnection() bool    { return true }
func (serverProbe) HasMediaDevices() bool      { return true }
func (serverProbe) HasMediaRecorder() bool     { return true }
func (serverProbe) HasScreenCapture() bool     { return true }
func (serverProbe) HasDataChannel() bool       { return true }
func (serverProbe) HasInsertableStreams() bool { return false }
func (serverProbe) LogicalCores() int          { return 8 }

func (serverProbe) SupportedCodecs() domain.CodecSupport {
	return domain.CodecSupport{H264: true, VP8: true, VP9: true, Opus: true}
}
