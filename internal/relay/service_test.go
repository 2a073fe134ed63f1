package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"relaybot/internal/displaymode"
	"relaybot/internal/transport"
)

type recordingRecorder struct{ recs []Record }

func (r *recordingRecorder) RecordDispatch(ctx context.Context, rec Record) {
	r.recs = append(r.recs, rec)
}

func TestHandleCondensedAndFullWithPhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, "[-1, -2]")
	f.modes.Set(-1, displaymode.Condensed)

	trace := &events{}
	f.src.trace = trace
	f.engine.onLaunch = func(j Job) { trace.add("launch:" + string(j.Mode)) }
	rec := &recordingRecorder{}
	f.svc.rec = rec

	sum, err := f.svc.Handle(context.Background(), tweetMessage(&transport.MediaDescriptor{Type: "photo", FileID: "src-1"}))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if sum.Attempted != 2 || sum.Succeeded+sum.Failed != 2 {
		t.Fatalf("summary = %+v, want 2 attempted", sum)
	}

	got := trace.snapshot()
	ic, id, iff := indexOf(got, "launch:condensed"), indexOf(got, "download"), indexOf(got, "launch:full")
	if ic < 0 || id < 0 || iff < 0 || !(ic < id && id < iff) {
		t.Fatalf("trace = %v, want condensed launch, then download, then full launch", got)
	}

	condensed := f.out.sentTo(-1)
	if len(condensed) != 1 || condensed[0].Kind != transport.MediaNone {
		t.Fatalf("condensed sends = %+v", condensed)
	}
	if !strings.Contains(condensed[0].Text, `href="https://fxtwitter.com/alice/status/1"`) {
		t.Fatalf("condensed text = %q", condensed[0].Text)
	}

	// upload to the representative, then the full send by reference
	full := f.out.sentTo(-2)
	if len(full) != 2 {
		t.Fatalf("full chat sends = %d, want upload + relay", len(full))
	}
	relayed := full[1]
	if relayed.Kind != transport.MediaPhoto || relayed.Media.Ref != "ref-1" || relayed.Media.Bytes != nil {
		t.Fatalf("full send = %+v", relayed)
	}
	if !strings.HasSuffix(relayed.Text, "hello &lt;world&gt;") || relayed.ParseMode != transport.ParseModeHTML {
		t.Fatalf("full text = %q", relayed.Text)
	}
	deploy := relayed.Rows[0][len(relayed.Rows[0])-1]
	if !strings.HasPrefix(deploy.URL, "https://t.me/relay_bot?start=deploy_") {
		t.Fatalf("deploy link = %q", deploy.URL)
	}

	ctxID := strings.TrimPrefix(deploy.URL, "https://t.me/relay_bot?start=deploy_")
	e, ok := f.cache.Get(ctxID)
	if !ok || e.MediaRef != "ref-1" || e.Text != tweetMessage(nil).Text {
		t.Fatalf("cache entry = %+v, ok=%v", e, ok)
	}
	if len(rec.recs) != 1 || rec.recs[0].ContextID != ctxID || rec.recs[0].Condensed != 1 || rec.recs[0].Full != 1 {
		t.Fatalf("records = %+v", rec.recs)
	}
	if last, ok := f.svc.Last(); !ok || last.ContextID != ctxID {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestHandleCondensedOnlySkipsMedia(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, "[-1]")
	f.modes.Set(-1, displaymode.Condensed)

	sum, err := f.svc.Handle(context.Background(), tweetMessage(&transport.MediaDescriptor{Type: "video"}))
	if err != nil || sum.Attempted != 1 {
		t.Fatalf("Handle = %+v, %v", sum, err)
	}
	if f.src.calls.Load() != 0 {
		t.Fatal("media must not be downloaded without full-mode destinations")
	}
}

func TestHandleSkipsWithoutButton(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, "[-1]")
	msg := tweetMessage(nil)
	msg.Buttons = nil

	sum, err := f.svc.Handle(context.Background(), msg)
	if err != nil || sum.Attempted != 0 {
		t.Fatalf("Handle = %+v, %v", sum, err)
	}
	if f.out.identCalls.Load() != 0 || f.cache.Len() != 0 {
		t.Fatal("ineligible message should not do any work")
	}
}

func TestHandleEmptyRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, "")
	sum, err := f.svc.Handle(context.Background(), tweetMessage(nil))
	if err != nil || sum.Attempted != 0 || len(f.out.sent()) != 0 {
		t.Fatalf("Handle = %+v, %v", sum, err)
	}
}

func TestHandleIdentityFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, "[-1]")
	f.out.identityErr = errBoom

	_, err := f.svc.Handle(context.Background(), tweetMessage(nil))
	if !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
	if len(f.out.sent()) != 0 {
		t.Fatal("nothing should be sent without a bot identity")
	}

	f.out.identityErr = nil
	if _, err := f.svc.Handle(context.Background(), tweetMessage(nil)); err != nil {
		t.Fatalf("Handle after recovery: %v", err)
	}
	if _, err := f.svc.Handle(context.Background(), tweetMessage(nil)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := f.out.identCalls.Load(); got != 2 {
		t.Fatalf("identity lookups = %d, want 2 (cached after success)", got)
	}
}

func TestHandleMediaFailureFallsBackToText(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, "[-1, -2]")
	f.src.err = errBoom

	sum, err := f.svc.Handle(context.Background(), tweetMessage(&transport.MediaDescriptor{Type: "photo"}))
	if err != nil || sum.Succeeded != 2 {
		t.Fatalf("Handle = %+v, %v", sum, err)
	}
	for _, s := range f.out.sent() {
		if s.Kind != transport.MediaNone || !s.Media.Empty() {
			t.Fatalf("expected text-only send, got %+v", s)
		}
	}
}

func TestSetFormatterAppliesToNextMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, "[-2]")
	f.svc.SetFormatter(Formatter{AlternateHost: "vxtwitter.com", DeployText: "Launch"})

	if _, err := f.svc.Handle(context.Background(), tweetMessage(nil)); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	sent := f.out.sentTo(-2)
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	row := sent[0].Rows[0]
	if got := row[len(row)-1].Text; got != "Launch" {
		t.Fatalf("deploy button = %q, want Launch", got)
	}
}
