package webrtc

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"quickchat/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

// RecordTrack is the minimal surface the recorder needs from a remote track,
// narrowed so tests can feed synthetic RTP without a live transport.
type RecordTrack interface {
	ID() string
	Kind() string
	SSRC() uint32
	ReadRTP() (*rtp.Packet, error)
}

// remoteRecordTrack adapts a pion TrackRemote to RecordTrack.
type remoteRecordTrack struct {
	track *webrtc.TrackRemote
}

func NewRemoteRecordTrack(track *webrtc.TrackRemote) RecordTrack {
	return &remoteRecordTrack{track: track}
}

func (t *remoteRecordTrack) ID() string   { return t.track.ID() }
func (t *remoteRecordTrack) Kind() string { return t.track.Kind().String() }
func (t *remoteRecordTrack) SSRC() uint32 { return uint32(t.track.SSRC()) }

func (t *remoteRecordTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

// RTCPWriter sends feedback packets toward the remote peer, used to request
// keyframes when video recording starts mid-stream.
type RTCPWriter func(pkts []rtcp.Packet) error

// CallRecorder captures the combined call media into one in-memory blob.
// It records at most one audio and one video track; whichever arrives first
// per kind wins and later tracks are ignored.
type CallRecorder struct {
	callID        domain.CallID
	chunkInterval time.Duration
	rtcpWriter    RTCPWriter
	logger        *zap.SugaredLogger

	mu        sync.Mutex
	active    bool
	stopping  bool
	audio     RecordTrack
	video     RecordTrack
	startedAt time.Time

	bufMu    sync.Mutex
	videoBuf bytes.Buffer
	audioBuf bytes.Buffer

	onChunk func(written int64)

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewCallRecorder(callID domain.CallID, chunkInterval time.Duration, rtcpWriter RTCPWriter, log *zap.Logger) *CallRecorder {
	if chunkInterval <= 0 {
		chunkInterval = time.Second
	}
	return &CallRecorder{
		callID:        callID,
		chunkInterval: chunkInterval,
		rtcpWriter:    rtcpWriter,
		logger:        log.Sugar(),
	}
}

// OnChunk registers a progress callback fired once per chunk interval with
// the total bytes captured so far. Must be set before Start.
func (r *CallRecorder) OnChunk(fn func(written int64)) {
	r.onChunk = fn
}

// AddTrack offers a remote track for recording. Only the first track of each
// kind is kept. Tracks added after Start are ignored.
func (r *CallRecorder) AddTrack(track RecordTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return
	}

	switch track.Kind() {
	case "audio":
		if r.audio == nil {
			r.audio = track
		}
	case "video":
		if r.video == nil {
			r.video = track
		}
	}
}

// Active reports whether a recording is in progress.
func (r *CallRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start begins capturing the tracks added so far. It fails when no track is
// available or when a recording is already running.
func (r *CallRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return domain.ErrRecorderActive
	}
	if r.audio == nil && r.video == nil {
		return domain.ErrNoStreams
	}

	r.active = true
	r.stopping = false
	r.startedAt = time.Now()
	r.stop = make(chan struct{})
	r.videoBuf.Reset()
	r.audioBuf.Reset()

	if r.video != nil {
		writer, err := ivfwriter.NewWith(&syncWriter{mu: &r.bufMu, w: &r.videoBuf})
		if err != nil {
			r.active = false
			return err
		}
		r.requestKeyframe(r.video.SSRC())
		r.wg.Add(1)
		go r.pump(r.video, writer)
	}

	if r.audio != nil {
		writer, err := oggwriter.NewWith(&syncWriter{mu: &r.bufMu, w: &r.audioBuf}, 48000, 2)
		if err != nil {
			r.active = false
			return err
		}
		r.wg.Add(1)
		go r.pump(r.audio, writer)
	}

	r.wg.Add(1)
	go r.tickChunks()

	r.logger.Infow("recording started",
		"call_id", r.callID,
		"audio", r.audio != nil,
		"video", r.video != nil,
	)
	return nil
}

// Stop ends the recording asynchronously. The returned channel delivers the
// final blob exactly once and is closed afterwards; stopping an inactive
// recorder yields a closed channel with no result.
func (r *CallRecorder) Stop() <-chan *domain.RecordingResult {
	out := make(chan *domain.RecordingResult, 1)

	r.mu.Lock()
	if !r.active || r.stopping {
		r.mu.Unlock()
		close(out)
		return out
	}
	r.stopping = true
	stop := r.stop
	r.mu.Unlock()

	go func() {
		defer close(out)

		close(stop)
		r.wg.Wait()

		r.mu.Lock()
		startedAt := r.startedAt
		r.active = false
		r.stopping = false
		r.mu.Unlock()

		stoppedAt := time.Now()

		r.bufMu.Lock()
		var data []byte
		mimeType := "audio/ogg"
		// The video container carries the call when both kinds were captured.
		if r.videoBuf.Len() > 0 {
			data = append([]byte(nil), r.videoBuf.Bytes()...)
			mimeType = "video/ivf"
		} else {
			data = append([]byte(nil), r.audioBuf.Bytes()...)
		}
		r.bufMu.Unlock()

		result := &domain.RecordingResult{
			CallID:    r.callID,
			Data:      data,
			Size:      int64(len(data)),
			MimeType:  mimeType,
			Duration:  stoppedAt.Sub(startedAt),
			StartedAt: startedAt,
			StoppedAt: stoppedAt,
		}

		r.logger.Infow("recording stopped",
			"call_id", r.callID,
			"size", result.Size,
			"duration", result.Duration,
		)
		out <- result
	}()

	return out
}

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

func (r *CallRecorder) pump(track RecordTrack, writer rtpWriter) {
	defer r.wg.Done()
	defer writer.Close()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		pkt, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debugw("record track read failed", "track", track.ID(), "error", err)
			}
			return
		}
		if err := writer.WriteRTP(pkt); err != nil {
			r.logger.Debugw("record write failed", "track", track.ID(), "error", err)
			return
		}
	}
}

func (r *CallRecorder) tickChunks() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.onChunk != nil {
				r.bufMu.Lock()
				written := int64(r.videoBuf.Len() + r.audioBuf.Len())
				r.bufMu.Unlock()
				r.onChunk(written)
			}
		case <-r.stop:
			return
		}
	}
}

func (r *CallRecorder) requestKeyframe(ssrc uint32) {
	if r.rtcpWriter == nil {
		return
	}
	err := r.rtcpWriter([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
	if err != nil {
		r.logger.Debugw("keyframe request failed", "error", err)
	}
}

// syncWriter serializes container writes with the blob snapshot taken at stop.
type syncWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
