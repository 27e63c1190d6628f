package monitor

import (
	"context"
	"testing"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	"github.com/bryanchriswhite/FaceRelay/internal/capture"
	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/overlay"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
	"github.com/bryanchriswhite/FaceRelay/internal/sharer"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSharerToMonitor(t *testing.T) {
	const frames = 5

	m := metrics.New()
	sh := sharer.New(
		capture.PatternOpener(capture.PatternConfig{Width: 96, Height: 64, Limit: frames}),
		codec.New(codec.DefaultQuality),
		sharer.Options{ListenAddr: "127.0.0.1:0"},
		m,
	)
	if err := sh.Start(); err != nil {
		t.Fatalf("sharer Start failed: %v", err)
	}
	defer sh.Stop()

	store := annotate.NewStore()
	stage := annotate.NewStage(oneBoxDetector{}, annotate.NewBrightnessClassifier(), store)
	out := &recordingOutput{}
	hud := overlay.NewManager()
	hud.AddWidget(overlay.NewStatsWidget("stats", func() []string { return []string{"hud"} }))

	mon := New(codec.New(codec.DefaultQuality), stage, hud.Wrap(out), Options{}, m)
	if err := mon.Start(context.Background(), sh.Addr().String()); err != nil {
		t.Fatalf("monitor Start failed: %v", err)
	}
	waitDone(t, mon)

	st := mon.Status()
	if st.Exit != session.ExitEndOfStream {
		t.Errorf("monitor exit = %s (%s), want end_of_stream", st.Exit, st.LastError)
	}
	if st.Frames != frames {
		t.Errorf("monitor frames = %d, want %d", st.Frames, frames)
	}
	if store.Len() != frames {
		t.Errorf("annotations = %d, want %d", store.Len(), frames)
	}
	for _, r := range store.Snapshot() {
		if r.Session != st.ID {
			t.Errorf("result session = %q, want %q", r.Session, st.ID)
		}
	}
	if out.count() == 0 {
		t.Error("nothing rendered")
	}

	<-sh.Done()
	if got := sh.Status().Exit; got != session.ExitDeviceError {
		t.Errorf("sharer exit = %s, want device_error after the pattern ran out", got)
	}
	if got := testutil.ToFloat64(m.FramesSent); got != frames {
		t.Errorf("frames sent = %v, want %d", got, frames)
	}
	if got := testutil.ToFloat64(m.FramesReceived); got != frames {
		t.Errorf("frames received = %v, want %d", got, frames)
	}
}
