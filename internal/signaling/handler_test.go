package signaling_test

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/voice-agent/internal/model"
	"github.com/RenatoCabral2022/voice-agent/internal/signaling"
	"github.com/RenatoCabral2022/voice-agent/internal/testutil"
)

const testOffer = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func newHandler(t *testing.T, pf *testutil.PeerFactory, mutate func(*signaling.Config)) *signaling.Handler {
	t.Helper()
	cfg := signaling.Config{
		NewPeer: func() (signaling.Peer, error) {
			p, err := pf.New()
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Logger:             zap.NewNop(),
		NegotiationTimeout: 2 * time.Second,
		ICEGatherTimeout:   time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := signaling.New(cfg)
	t.Cleanup(func() { h.Close() })
	return h
}

func offer() model.OfferRequest {
	return model.OfferRequest{SDP: testOffer, Type: "offer"}
}

func waitEvent(t *testing.T, h *signaling.Handler) signaling.Established {
	t.Helper()
	select {
	case ev := <-h.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no established event")
	}
	return signaling.Established{}
}

func TestHandleOffer_NewConnection(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	req := offer()
	req.RequestData = json.RawMessage(`{"mode":"demo"}`)
	ans, err := h.HandleOffer(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if ans.Type != "answer" {
		t.Errorf("type = %q, want answer", ans.Type)
	}
	if len(ans.PCID) != 36 {
		t.Errorf("pc_id = %q, want a uuid", ans.PCID)
	}
	if ans.SDP == "" {
		t.Error("empty answer sdp")
	}
	if h.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", h.ConnectionCount())
	}

	ev := waitEvent(t, h)
	if ev.Conn.ID() != ans.PCID {
		t.Errorf("event pc_id = %q, want %q", ev.Conn.ID(), ans.PCID)
	}
	if ev.Conn.State() != signaling.StateConnected {
		t.Errorf("state = %s, want connected", ev.Conn.State())
	}
	if string(ev.RequestData) != `{"mode":"demo"}` {
		t.Errorf("request data = %s", ev.RequestData)
	}
	if got := pf.Peers()[0].RemoteDescription(); got == nil || got.SDP != testOffer {
		t.Error("offer was not applied to the peer")
	}
}

func TestHandleOffer_RenegotiateEmitsNoEvent(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	first, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}
	waitEvent(t, h)

	req := offer()
	req.PCID = first.PCID
	second, err := h.HandleOffer(context.Background(), req)
	if err != nil {
		t.Fatalf("renegotiate: %v", err)
	}
	if second.PCID != first.PCID {
		t.Errorf("pc_id changed: %q -> %q", first.PCID, second.PCID)
	}
	if len(pf.Peers()) != 1 {
		t.Errorf("peers created = %d, want 1", len(pf.Peers()))
	}
	select {
	case ev := <-h.Events():
		t.Fatalf("unexpected event for %s", ev.Conn.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleOffer_UnknownPCID(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	req := offer()
	req.PCID = "does-not-exist"
	_, err := h.HandleOffer(context.Background(), req)
	if !errors.Is(err, signaling.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(pf.Peers()) != 0 {
		t.Error("a peer was created for an unknown pc_id")
	}
}

func TestHandleOffer_Invalid(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	tests := []struct {
		name string
		req  model.OfferRequest
	}{
		{"missing sdp", model.OfferRequest{Type: "offer"}},
		{"missing type", model.OfferRequest{SDP: testOffer}},
		{"answer type", model.OfferRequest{SDP: testOffer, Type: "answer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.HandleOffer(context.Background(), tt.req)
			if !errors.Is(err, signaling.ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
}

func TestHandleOffer_BadSDPClosesConnection(t *testing.T) {
	pf := &testutil.PeerFactory{Configure: func(_ int, p *testutil.FakePeer) {
		p.SetRemoteErr = errors.New("malformed sdp")
	}}
	h := newHandler(t, pf, nil)

	_, err := h.HandleOffer(context.Background(), offer())
	if !errors.Is(err, signaling.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
	if !pf.Peers()[0].Closed() {
		t.Error("peer not closed after failed negotiation")
	}
}

func TestHandleOffer_PeerFactoryError(t *testing.T) {
	pf := &testutil.PeerFactory{Err: errors.New("no ports")}
	h := newHandler(t, pf, nil)

	_, err := h.HandleOffer(context.Background(), offer())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, signaling.ErrInvalidRequest) {
		t.Errorf("engine failure reported as client error: %v", err)
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
}

func TestHandleOffer_RenegotiationFailureClosesConnection(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	ev := waitEvent(t, h)

	pf.Peers()[0].SetRemoteErr = errors.New("bad renegotiation")
	req := offer()
	req.PCID = ans.PCID
	if _, err := h.HandleOffer(context.Background(), req); !errors.Is(err, signaling.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}

	select {
	case <-ev.Conn.Done():
	default:
		t.Fatal("connection not closed after failed renegotiation")
	}
	if ev.Conn.State() != signaling.StateClosed {
		t.Errorf("state = %s, want closed", ev.Conn.State())
	}
	if _, err := h.HandleOffer(context.Background(), req); !errors.Is(err, signaling.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after close", err)
	}
}

func TestHandleOffer_RestartReplacesPeer(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	ev := waitEvent(t, h)
	restarted := ev.Conn.Restarted()

	req := offer()
	req.PCID = ans.PCID
	req.RestartPC = true
	again, err := h.HandleOffer(context.Background(), req)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.PCID != ans.PCID {
		t.Errorf("pc_id changed on restart: %q -> %q", ans.PCID, again.PCID)
	}

	peers := pf.Peers()
	if len(peers) != 2 {
		t.Fatalf("peers created = %d, want 2", len(peers))
	}
	if !peers[0].Closed() {
		t.Error("old peer not closed")
	}
	if peers[1].Closed() {
		t.Error("new peer closed")
	}
	if ev.Conn.Peer() != signaling.Peer(peers[1]) {
		t.Error("connection does not hold the new peer")
	}
	select {
	case <-restarted:
	default:
		t.Error("Restarted did not fire")
	}

	// A late state report from the replaced peer must not close the connection.
	peers[0].SetState(webrtc.PeerConnectionStateClosed)
	if h.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", h.ConnectionCount())
	}
}

func TestHandleOffer_GatherTimeoutAnswersWithPartialCandidates(t *testing.T) {
	pf := &testutil.PeerFactory{Configure: func(_ int, p *testutil.FakePeer) {
		p.Gather = make(chan struct{})
	}}
	h := newHandler(t, pf, func(c *signaling.Config) {
		c.ICEGatherTimeout = 20 * time.Millisecond
	})

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if ans.Type != "answer" {
		t.Errorf("type = %q, want answer", ans.Type)
	}
}

func TestHandleOffer_NegotiationTimeout(t *testing.T) {
	pf := &testutil.PeerFactory{Configure: func(_ int, p *testutil.FakePeer) {
		p.Gather = make(chan struct{})
	}}
	h := newHandler(t, pf, func(c *signaling.Config) {
		c.ICEGatherTimeout = time.Hour
		c.NegotiationTimeout = 20 * time.Millisecond
	})

	_, err := h.HandleOffer(context.Background(), offer())
	if !errors.Is(err, signaling.ErrNegotiationTimeout) {
		t.Fatalf("err = %v, want ErrNegotiationTimeout", err)
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
	if !pf.Peers()[0].Closed() {
		t.Error("peer not closed after timeout")
	}
}

func TestClose_CancelsInFlightNegotiation(t *testing.T) {
	baseline := runtime.NumGoroutine()

	pf := &testutil.PeerFactory{Configure: func(_ int, p *testutil.FakePeer) {
		p.Gather = make(chan struct{})
	}}
	h := signaling.New(signaling.Config{
		NewPeer: func() (signaling.Peer, error) {
			return pf.New()
		},
		Logger:             zap.NewNop(),
		NegotiationTimeout: time.Hour,
		ICEGatherTimeout:   time.Hour,
	})

	errc := make(chan error, 1)
	go func() {
		_, err := h.HandleOffer(context.Background(), offer())
		errc <- err
	}()
	testutil.Eventually(t, time.Second, func() bool { return h.ConnectionCount() == 1 }, "connection registered")

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, signaling.ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight negotiation not cancelled by Close")
	}
	if !pf.Peers()[0].Closed() {
		t.Error("peer not closed by Close")
	}
	if _, ok := <-h.Events(); ok {
		t.Error("events channel still open after Close")
	}

	testutil.AssertNoGoroutineLeaks(t, baseline, 2)
}

func TestClose_Idempotent(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	if _, err := h.HandleOffer(context.Background(), offer()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}

	if _, err := h.HandleOffer(context.Background(), offer()); !errors.Is(err, signaling.ErrClosed) {
		t.Errorf("offer after Close: err = %v, want ErrClosed", err)
	}
	patch := model.PatchRequest{PCID: "x", Candidates: []model.IceCandidate{model.NewIceCandidate("", nil, nil)}}
	if err := h.HandlePatch(context.Background(), patch); !errors.Is(err, signaling.ErrClosed) {
		t.Errorf("patch after Close: err = %v, want ErrClosed", err)
	}
}

func TestHandlePatch_AppliesInOrder(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	mid := "0"
	idx := uint16(0)
	var body = `{"pc_id":"` + ans.PCID + `","candidates":[
		{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0},
		{"candidate":"candidate:2 1 udp 1686052607 1.2.3.4 50001 typ srflx raddr 10.0.0.1 rport 50000","sdp_mid":"0","sdp_mline_index":0},
		{"candidate":""}
	]}`
	var req model.PatchRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := h.HandlePatch(context.Background(), req); err != nil {
		t.Fatalf("HandlePatch: %v", err)
	}

	got := pf.Peers()[0].AppliedCandidates()
	if len(got) != 3 {
		t.Fatalf("applied %d candidates, want 3", len(got))
	}
	for i, want := range []string{"candidate:1 ", "candidate:2 ", ""} {
		if want == "" {
			if got[i].Candidate != "" {
				t.Errorf("candidate %d = %q, want end-of-candidates", i, got[i].Candidate)
			}
			continue
		}
		if len(got[i].Candidate) < len(want) || got[i].Candidate[:len(want)] != want {
			t.Errorf("candidate %d = %q, want prefix %q", i, got[i].Candidate, want)
		}
	}
	for i := 0; i < 2; i++ {
		if got[i].SDPMid == nil || *got[i].SDPMid != mid {
			t.Errorf("candidate %d sdpMid = %v, want %q", i, got[i].SDPMid, mid)
		}
		if got[i].SDPMLineIndex == nil || *got[i].SDPMLineIndex != idx {
			t.Errorf("candidate %d sdpMLineIndex = %v, want %d", i, got[i].SDPMLineIndex, idx)
		}
	}
}

func TestHandlePatch_ConcurrentPatchesKeepPerPatchOrder(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	var wg sync.WaitGroup
	for _, prefix := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()
			req := model.PatchRequest{PCID: ans.PCID}
			for i := 0; i < 5; i++ {
				req.Candidates = append(req.Candidates, model.NewIceCandidate(prefix+string(rune('0'+i)), nil, nil))
			}
			if err := h.HandlePatch(context.Background(), req); err != nil {
				t.Errorf("HandlePatch: %v", err)
			}
		}(prefix)
	}
	wg.Wait()

	got := pf.Peers()[0].AppliedCandidates()
	if len(got) != 20 {
		t.Fatalf("applied %d candidates, want 20", len(got))
	}
	// Each patch lands as one contiguous, ordered run.
	for run := 0; run < 4; run++ {
		prefix := got[run*5].Candidate[:1]
		for i := 0; i < 5; i++ {
			want := prefix + string(rune('0'+i))
			if got[run*5+i].Candidate != want {
				t.Fatalf("candidate %d = %q, want %q", run*5+i, got[run*5+i].Candidate, want)
			}
		}
	}
}

func TestHandlePatch_UnknownPCIDMutatesNothing(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	if _, err := h.HandleOffer(context.Background(), offer()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	req := model.PatchRequest{
		PCID:       "unknown",
		Candidates: []model.IceCandidate{model.NewIceCandidate("candidate:1 1 udp 1 10.0.0.1 1 typ host", nil, nil)},
	}
	if err := h.HandlePatch(context.Background(), req); !errors.Is(err, signaling.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := len(pf.Peers()[0].AppliedCandidates()); n != 0 {
		t.Errorf("existing peer received %d candidates", n)
	}
	if h.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", h.ConnectionCount())
	}
}

func TestHandlePatch_Invalid(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing pc_id", `{"candidates":[{"candidate":""}]}`},
		{"entry without candidate", `{"pc_id":"` + ans.PCID + `","candidates":[{"sdpMid":"0"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req model.PatchRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if err := h.HandlePatch(context.Background(), req); !errors.Is(err, signaling.ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if n := len(pf.Peers()[0].AppliedCandidates()); n != 0 {
		t.Errorf("peer received %d candidates", n)
	}
}

func TestHandlePatch_EngineRejectsCandidate(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	pf.Peers()[0].AddCandidateErr = errors.New("bad candidate")

	req := model.PatchRequest{
		PCID:       ans.PCID,
		Candidates: []model.IceCandidate{model.NewIceCandidate("garbage", nil, nil)},
	}
	if err := h.HandlePatch(context.Background(), req); !errors.Is(err, signaling.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestPeerFailureClosesConnection(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ans, err := h.HandleOffer(context.Background(), offer())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	ev := waitEvent(t, h)

	pf.Peers()[0].SetState(webrtc.PeerConnectionStateFailed)

	select {
	case <-ev.Conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not closed after peer failure")
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
	req := model.PatchRequest{PCID: ans.PCID, Candidates: []model.IceCandidate{model.NewIceCandidate("", nil, nil)}}
	if err := h.HandlePatch(context.Background(), req); !errors.Is(err, signaling.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHandleOffer_DistinctConnections(t *testing.T) {
	pf := &testutil.PeerFactory{}
	h := newHandler(t, pf, nil)

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		ans, err := h.HandleOffer(context.Background(), offer())
		if err != nil {
			t.Fatalf("HandleOffer: %v", err)
		}
		ids[ans.PCID] = true
	}
	if len(ids) != 5 {
		t.Errorf("got %d distinct pc_ids, want 5", len(ids))
	}
	for i := 0; i < 5; i++ {
		waitEvent(t, h)
	}
}

func TestHandleOffer_PeerFailsDuringNegotiation(t *testing.T) {
	pf := &testutil.PeerFactory{Configure: func(n int, p *testutil.FakePeer) {
		if n == 0 {
			p.Gather = make(chan struct{})
		}
	}}
	h := newHandler(t, pf, func(c *signaling.Config) { c.ICEGatherTimeout = time.Hour })

	errc := make(chan error, 1)
	go func() {
		_, err := h.HandleOffer(context.Background(), offer())
		errc <- err
	}()
	testutil.Eventually(t, time.Second, func() bool {
		peers := pf.Peers()
		return len(peers) == 1 && peers[0].RemoteDescription() != nil
	}, "negotiation started")

	pf.Peers()[0].SetState(webrtc.PeerConnectionStateFailed)

	select {
	case err := <-errc:
		if !errors.Is(err, signaling.ErrConnectionClosed) {
			t.Errorf("err = %v, want ErrConnectionClosed", err)
		}
		if errors.Is(err, signaling.ErrClosed) {
			t.Errorf("err = %v reported as handler shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation did not fail after peer failure")
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}

	if _, err := h.HandleOffer(context.Background(), offer()); err != nil {
		t.Errorf("handler unusable after a peer failure: %v", err)
	}
}

func TestHandleOffer_CallerCanceled(t *testing.T) {
	pf := &testutil.PeerFactory{Configure: func(_ int, p *testutil.FakePeer) {
		p.Gather = make(chan struct{})
	}}
	h := newHandler(t, pf, func(c *signaling.Config) { c.ICEGatherTimeout = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.HandleOffer(ctx, offer())
		errc <- err
	}()
	testutil.Eventually(t, time.Second, func() bool {
		peers := pf.Peers()
		return len(peers) == 1 && peers[0].RemoteDescription() != nil
	}, "negotiation started")
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, signaling.ErrCanceled) {
			t.Errorf("err = %v, want ErrCanceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation ignored caller cancellation")
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
	if !pf.Peers()[0].Closed() {
		t.Error("peer left open after cancellation")
	}
}
