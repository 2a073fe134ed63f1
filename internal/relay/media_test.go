package relay

import (
	"context"
	"testing"

	"relaybot/internal/ctxcache"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func newResolver(src *fakeSource, out *fakeOutbound) (*MediaResolver, *ctxcache.Cache) {
	cache := ctxcache.New(ctxcache.DefaultTTL)
	cache.Put("ctx", ctxcache.Entry{Text: "original", MediaKind: transport.MediaPhoto})
	return NewMediaResolver(src, out, cache, logx.Nop()), cache
}

func TestResolveNoMediaIsNoop(t *testing.T) {
	t.Parallel()
	src, out := &fakeSource{}, newFakeOutbound()
	r, _ := newResolver(src, out)
	res := r.Resolve(context.Background(), Analysis{}, transport.InboundMessage{}, "ctx", 1)
	if res.Kind != transport.MediaNone || src.calls.Load() != 0 || len(out.sent()) != 0 {
		t.Fatalf("expected no work, got %+v (downloads=%d)", res, src.calls.Load())
	}
}

func TestResolveAttachesReference(t *testing.T) {
	t.Parallel()
	src, out := &fakeSource{data: []byte("img")}, newFakeOutbound()
	r, cache := newResolver(src, out)
	res := r.Resolve(context.Background(), Analysis{MediaKind: transport.MediaPhoto}, transport.InboundMessage{}, "ctx", -100)
	if res.Kind != transport.MediaPhoto || res.Ref != "ref-1" || res.Bytes != nil {
		t.Fatalf("Resolve = %+v", res)
	}
	e, ok := cache.Get("ctx")
	if !ok || e.MediaRef != "ref-1" || e.Text != "original" {
		t.Fatalf("cache entry = %+v, ok=%v", e, ok)
	}
	if len(out.deletes) != 1 || out.deletes[0] != -100 {
		t.Fatalf("deletes = %v, want [-100]", out.deletes)
	}
	if sends := out.sentTo(-100); len(sends) != 1 || string(sends[0].Media.Bytes) != "img" {
		t.Fatalf("upload sends = %+v", sends)
	}
}

func TestResolveDeleteFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	src, out := &fakeSource{data: []byte("img")}, newFakeOutbound()
	out.deleteErr = errBoom
	r, _ := newResolver(src, out)
	res := r.Resolve(context.Background(), Analysis{MediaKind: transport.MediaVideo}, transport.InboundMessage{}, "ctx", 5)
	if res.Ref != "ref-1" {
		t.Fatalf("Resolve = %+v, want reference despite delete failure", res)
	}
}

func TestResolveDowngrades(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		src   *fakeSource
		setup func(*fakeOutbound)
	}{
		{"download error", &fakeSource{err: errBoom}, nil},
		{"empty download", &fakeSource{data: nil}, nil},
		{"panic", &fakeSource{panic: true}, nil},
		{"upload error", &fakeSource{data: []byte("x")}, func(o *fakeOutbound) { o.failNext(7, errBoom) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := newFakeOutbound()
			if tt.setup != nil {
				tt.setup(out)
			}
			r, cache := newResolver(tt.src, out)
			res := r.Resolve(context.Background(), Analysis{MediaKind: transport.MediaPhoto}, transport.InboundMessage{}, "ctx", 7)
			if res.Kind != transport.MediaNone || !res.Payload().Empty() {
				t.Fatalf("Resolve = %+v, want downgrade", res)
			}
			if e, _ := cache.Get("ctx"); e.MediaRef != "" {
				t.Fatalf("cache should not carry a reference, got %q", e.MediaRef)
			}
		})
	}
}

func TestResolveFallsBackToBytes(t *testing.T) {
	t.Parallel()
	src, out := &fakeSource{data: []byte("gif")}, newFakeOutbound()
	out.uploadRef = ""
	r, _ := newResolver(src, out)
	res := r.Resolve(context.Background(), Analysis{MediaKind: transport.MediaAnimation}, transport.InboundMessage{}, "ctx", 3)
	if res.Kind != transport.MediaAnimation || res.Ref != "" || string(res.Bytes) != "gif" {
		t.Fatalf("Resolve = %+v, want raw bytes fallback", res)
	}
	p1, p2 := res.Payload(), res.Payload()
	p1.Bytes[0] = 'X'
	if p2.Bytes[0] != 'g' || res.Bytes[0] != 'g' {
		t.Fatal("payload bytes must be private per job")
	}
	if len(out.deletes) != 1 {
		t.Fatalf("temporary upload should still be deleted, deletes=%v", out.deletes)
	}
}
