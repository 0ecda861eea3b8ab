package negotiate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/testutil"
)

type transitions struct {
	mu  sync.Mutex
	seq []State
}

func (tr *transitions) record(_, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seq = append(tr.seq, to)
}

func (tr *transitions) get() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.seq...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGatheringModeWaitsForComplete(t *testing.T) {
	conn := testutil.NewFakeConnection()
	sig := testutil.NewFakeSignaler()
	tr := &transitions{}
	n := New("sid", conn, sig, Options{Mode: ModeGathering}, tr.record)

	errCh := make(chan error, 1)
	go func() { errCh <- n.Negotiate(context.Background()) }()

	waitState(t, n, StateGatheringICE)
	conn.SetGathering(webrtc.ICEGatheringStateGathering)
	select {
	case <-sig.Submitted:
		t.Fatal("offer submitted before gathering completed")
	case <-time.After(50 * time.Millisecond):
	}

	conn.SetGathering(webrtc.ICEGatheringStateComplete)
	if err := <-errCh; err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}

	want := []State{StateOffersCreated, StateGatheringICE, StateSubmitted, StateAnswered}
	if got := tr.get(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if conn.Listeners() != 0 {
		t.Errorf("gathering listener not removed")
	}
	if conn.RemoteDescription() == nil {
		t.Error("answer not applied")
	}
}

func TestGatheringAlreadyComplete(t *testing.T) {
	conn := testutil.NewFakeConnection()
	// completes inside SetLocalDescription without an event
	conn.GatheringOnSetLocal = webrtc.ICEGatheringStateComplete
	sig := testutil.NewFakeSignaler()
	n := New("sid", conn, sig, Options{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Negotiate(ctx); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if n.State() != StateAnswered {
		t.Errorf("state = %s, want answered", n.State())
	}
}

func TestMinimalModeSubmitsImmediately(t *testing.T) {
	conn := testutil.NewFakeConnection()
	sig := testutil.NewFakeSignaler()
	tr := &transitions{}
	n := New("sid", conn, sig, Options{Mode: ModeMinimal, Channel: "cam-1", VideoTransform: "edges"}, tr.record)

	if err := n.Negotiate(context.Background()); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	want := []State{StateOffersCreated, StateSubmitted, StateAnswered}
	if got := tr.get(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	offers := sig.Offers()
	if len(offers) != 1 {
		t.Fatalf("submitted %d offers, want 1", len(offers))
	}
	o := offers[0]
	if o.Type != "offer" || o.SDP != conn.OfferSDP || o.Channel != "cam-1" || o.VideoTransform != "edges" {
		t.Errorf("offer = %+v", o)
	}
}

func TestOfferHasTwoRecvOnlyVideoTransceivers(t *testing.T) {
	conn := testutil.NewFakeConnection()
	n := New("sid", conn, testutil.NewFakeSignaler(), Options{Mode: ModeMinimal}, nil)
	if err := n.Negotiate(context.Background()); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	ts := conn.Transceivers()
	if len(ts) != VideoTrackCount {
		t.Fatalf("%d transceivers, want %d", len(ts), VideoTrackCount)
	}
	for _, tr := range ts {
		if tr.Kind() != webrtc.RTPCodecTypeVideo || tr.Direction() != webrtc.RTPTransceiverDirectionRecvonly {
			t.Errorf("transceiver %s: kind=%s dir=%s", tr.Mid(), tr.Kind(), tr.Direction())
		}
	}
}

func TestFailureKinds(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		prepare   func(*testutil.FakeConnection, *testutil.FakeSignaler)
		wantKind  Kind
		wantState State
	}{
		{
			name:      "create offer",
			prepare:   func(c *testutil.FakeConnection, _ *testutil.FakeSignaler) { c.CreateOfferErr = boom },
			wantKind:  KindDescription,
			wantState: StateIdle,
		},
		{
			name:      "set local",
			prepare:   func(c *testutil.FakeConnection, _ *testutil.FakeSignaler) { c.SetLocalErr = boom },
			wantKind:  KindDescription,
			wantState: StateOffersCreated,
		},
		{
			name: "signaling",
			prepare: func(_ *testutil.FakeConnection, s *testutil.FakeSignaler) {
				s.Answer = func(core.Offer) (webrtc.SessionDescription, error) { return webrtc.SessionDescription{}, boom }
			},
			wantKind:  KindSignaling,
			wantState: StateSubmitted,
		},
		{
			name: "malformed answer",
			prepare: func(_ *testutil.FakeConnection, s *testutil.FakeSignaler) {
				s.Answer = func(core.Offer) (webrtc.SessionDescription, error) {
					return webrtc.SessionDescription{}, core.ErrMalformedAnswer
				}
			},
			wantKind:  KindMalformedAnswer,
			wantState: StateSubmitted,
		},
		{
			name:      "set remote",
			prepare:   func(c *testutil.FakeConnection, _ *testutil.FakeSignaler) { c.SetRemoteErr = boom },
			wantKind:  KindDescription,
			wantState: StateSubmitted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testutil.NewFakeConnection()
			sig := testutil.NewFakeSignaler()
			tt.prepare(conn, sig)
			n := New("sid", conn, sig, Options{Mode: ModeMinimal}, nil)

			err := n.Negotiate(context.Background())
			var nerr *Error
			if !errors.As(err, &nerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if nerr.Kind != tt.wantKind || nerr.State != tt.wantState {
				t.Errorf("got kind=%s state=%s, want kind=%s state=%s", nerr.Kind, nerr.State, tt.wantKind, tt.wantState)
			}
			if n.State() != StateFailed {
				t.Errorf("state = %s, want failed", n.State())
			}
		})
	}
}

func TestCancelWhileGathering(t *testing.T) {
	conn := testutil.NewFakeConnection()
	sig := testutil.NewFakeSignaler()
	n := New("sid", conn, sig, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Negotiate(ctx) }()
	waitState(t, n, StateGatheringICE)
	cancel()

	err := <-errCh
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindCanceled {
		t.Fatalf("err = %v, want canceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err does not wrap context.Canceled")
	}
	if len(sig.Offers()) != 0 {
		t.Error("offer submitted after cancel")
	}
	if conn.RemoteDescription() != nil {
		t.Error("remote description applied after cancel")
	}
}

func TestNegotiateOnlyOnce(t *testing.T) {
	conn := testutil.NewFakeConnection()
	n := New("sid", conn, testutil.NewFakeSignaler(), Options{Mode: ModeMinimal}, nil)
	if err := n.Negotiate(context.Background()); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if err := n.Negotiate(context.Background()); err == nil {
		t.Fatal("second Negotiate should fail")
	}
	if len(conn.Transceivers()) != VideoTrackCount {
		t.Error("second Negotiate touched the connection")
	}
}

func TestPatchFailureSubmitsOriginal(t *testing.T) {
	conn := testutil.NewFakeConnection()
	conn.OfferSDP = "not an sdp"
	sig := testutil.NewFakeSignaler()
	n := New("sid", conn, sig, Options{Mode: ModeMinimal, PatchSDP: true}, nil)
	if err := n.Negotiate(context.Background()); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	if got := sig.Offers()[0].SDP; got != "not an sdp" {
		t.Errorf("submitted %q, want original", got)
	}
}

func TestPatchAppliedToSubmittedOffer(t *testing.T) {
	conn := testutil.NewFakeConnection()
	conn.OfferSDP = testOffer
	sig := testutil.NewFakeSignaler()
	n := New("sid", conn, sig, Options{Mode: ModeMinimal, PatchSDP: true, MaxBitrate: 1000}, nil)
	if err := n.Negotiate(context.Background()); err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	got := sig.Offers()[0].SDP
	if !strings.Contains(got, "a=max-bitrate:1000\r\n") {
		t.Errorf("submitted offer not patched:\n%s", got)
	}
	// the local description is left as created
	if conn.LocalDescription().SDP != testOffer {
		t.Error("local description modified")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeGathering, false},
		{"gathering", ModeGathering, false},
		{"minimal", ModeMinimal, false},
		{"trickle", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func waitState(t *testing.T, n *Negotiator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", n.State(), want)
}
