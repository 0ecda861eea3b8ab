package tracks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
	"github.com/dkeye/Viewer/internal/testutil"
)

func TestBindTable(t *testing.T) {
	tests := []struct {
		mid     string
		variant domain.Variant
		want    domain.SinkID
	}{
		{MidPrimary, domain.VariantLive, domain.SinkVideo01},
		{MidSecondary, domain.VariantLive, domain.SinkVideo02},
		{MidPrimary, domain.VariantTest, domain.SinkVideo03},
		{MidSecondary, domain.VariantTest, domain.SinkVideo04},
	}
	seen := make(map[domain.SinkID]bool)
	for _, tt := range tests {
		got, ok := Bind(tt.mid, tt.variant)
		if !ok || got != tt.want {
			t.Errorf("Bind(%q, %s) = %q, %v; want %q", tt.mid, tt.variant, got, ok, tt.want)
		}
		if seen[got] {
			t.Errorf("sink %s bound twice", got)
		}
		seen[got] = true
	}

	for _, mid := range []string{"", "2", "video"} {
		if _, ok := Bind(mid, domain.VariantLive); ok {
			t.Errorf("Bind(%q) should not resolve", mid)
		}
	}
	if _, ok := Bind(MidPrimary, domain.Variant("other")); ok {
		t.Error("unknown variant should not resolve")
	}
}

func TestRouteVideoAttachesOneSink(t *testing.T) {
	for _, variant := range domain.Variants {
		for _, mid := range []string{MidSecondary, MidPrimary} {
			rec := testutil.NewRecorder()
			r := NewRouter(NewSinkSet(), nil, rec)
			track := testutil.NewFakeTrack("t-"+mid, webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)

			sink, err := r.Route(context.Background(), "sid", variant, core.InboundTrack{Track: track, Mid: mid})
			if err != nil {
				t.Fatalf("Route(%s, %s) failed: %v", variant, mid, err)
			}
			want, _ := Bind(mid, variant)
			if sink != want {
				t.Errorf("Route(%s, %s) = %s, want %s", variant, mid, sink, want)
			}

			attached := 0
			for _, id := range domain.Sinks {
				s, _ := r.Sinks().Get(id)
				if s.Source() != nil {
					attached++
				}
			}
			if attached != 1 {
				t.Errorf("%d sinks attached, want 1", attached)
			}
			if len(rec.TrackEvts) != 1 || rec.TrackEvts[0].Sink != want {
				t.Errorf("track events = %+v", rec.TrackEvts)
			}
			track.End()
		}
	}
}

func TestRouteIgnoresAudio(t *testing.T) {
	rec := testutil.NewRecorder()
	r := NewRouter(NewSinkSet(), nil, rec)
	track := testutil.NewFakeTrack("mic", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)

	_, err := r.Route(context.Background(), "sid", domain.VariantLive, core.InboundTrack{Track: track, Mid: MidPrimary})
	if !errors.Is(err, ErrNotVideo) {
		t.Fatalf("err = %v, want ErrNotVideo", err)
	}
	for _, st := range r.Sinks().Snapshot() {
		if st.TrackID != "" {
			t.Errorf("sink %s changed by audio track", st.ID)
		}
	}
	if len(rec.TrackEvts) != 0 {
		t.Errorf("unexpected track events %+v", rec.TrackEvts)
	}
}

type failingApplier struct{ err error }

func (f failingApplier) Apply(context.Context, core.RemoteTrack) error { return f.err }

func TestRouteConstraintFailureLeavesTrackUnattached(t *testing.T) {
	boom := errors.New("overconstrained")
	r := NewRouter(NewSinkSet(), failingApplier{err: boom}, nil)
	track := testutil.NewFakeTrack("cam", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)

	_, err := r.Route(context.Background(), "sid", domain.VariantLive, core.InboundTrack{Track: track, Mid: MidPrimary})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	s, _ := r.Sinks().Get(domain.SinkVideo01)
	if s.Source() != nil {
		t.Error("sink attached despite constraint failure")
	}
}

func TestCodecConstraints(t *testing.T) {
	vp8 := testutil.NewFakeTrack("a", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	h264 := testutil.NewFakeTrack("b", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264)
	broken := testutil.NewFakeTrack("c", webrtc.RTPCodecTypeVideo, "").WithCodec(webrtc.RTPCodecParameters{})

	tests := []struct {
		name    string
		c       CodecConstraints
		track   core.RemoteTrack
		wantErr error
	}{
		{"any codec", CodecConstraints{}, h264, nil},
		{"allowed", CodecConstraints{MimeTypes: []string{"video/vp8"}}, vp8, nil},
		{"not allowed", CodecConstraints{MimeTypes: []string{webrtc.MimeTypeVP8}}, h264, ErrCodecNotAllowed},
		{"invalid codec", CodecConstraints{}, broken, ErrInvalidCodec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Apply(context.Background(), tt.track)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Apply() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRouteAfterCancelDoesNotAttach(t *testing.T) {
	r := NewRouter(NewSinkSet(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	track := testutil.NewFakeTrack("cam", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	if _, err := r.Route(ctx, "sid", domain.VariantLive, core.InboundTrack{Track: track, Mid: MidPrimary}); err == nil {
		t.Fatal("expected error for canceled session")
	}
	s, _ := r.Sinks().Get(domain.SinkVideo01)
	if s.Source() != nil {
		t.Error("stale session attached a track")
	}
}

func TestAttachReplacesSource(t *testing.T) {
	sinks := NewSinkSet()
	first := testutil.NewFakeTrack("first", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	second := testutil.NewFakeTrack("second", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	defer first.End()
	defer second.End()

	if err := sinks.Attach(context.Background(), domain.SinkVideo01, "a", first); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	first.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}})
	waitFor(t, func() bool { return sinks.Snapshot()[0].Packets == 1 })

	if err := sinks.Attach(context.Background(), domain.SinkVideo01, "b", second); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	s, _ := sinks.Get(domain.SinkVideo01)
	if s.Source() != second {
		t.Fatal("second track is not the sink source")
	}
	st := s.Stats()
	if st.Owner != "b" || st.TrackID != "second" || st.Packets != 0 {
		t.Errorf("stats after replace = %+v", st)
	}

	second.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 42}, Payload: []byte{1, 2}})
	waitFor(t, func() bool { return s.Stats().LastSeq == 42 })
	if got := s.Stats().Bytes; got != 2 {
		t.Errorf("bytes = %d, want 2", got)
	}

	if err := sinks.Attach(context.Background(), "video09", "b", second); !errors.Is(err, ErrUnknownSink) {
		t.Errorf("err = %v, want ErrUnknownSink", err)
	}
}

func TestDetachOnlyOwner(t *testing.T) {
	sinks := NewSinkSet()
	live := testutil.NewFakeTrack("live", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	test := testutil.NewFakeTrack("test", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	defer live.End()
	defer test.End()

	_ = sinks.Attach(context.Background(), domain.SinkVideo01, "live-sid", live)
	_ = sinks.Attach(context.Background(), domain.SinkVideo03, "test-sid", test)

	if n := sinks.Detach("test-sid"); n != 1 {
		t.Fatalf("Detach = %d, want 1", n)
	}
	s1, _ := sinks.Get(domain.SinkVideo01)
	s3, _ := sinks.Get(domain.SinkVideo03)
	if s1.Source() == nil {
		t.Error("live sink detached by test session")
	}
	if s3.Source() != nil {
		t.Error("test sink still attached")
	}
}

func TestSourceEndClearsSink(t *testing.T) {
	sinks := NewSinkSet()
	track := testutil.NewFakeTrack("cam", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	_ = sinks.Attach(context.Background(), domain.SinkVideo02, "sid", track)
	track.End()

	s, _ := sinks.Get(domain.SinkVideo02)
	waitFor(t, func() bool { return s.Source() == nil })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
