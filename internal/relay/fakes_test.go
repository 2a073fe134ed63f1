package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/ctxcache"
	"relaybot/internal/displaymode"
	"relaybot/internal/registry"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// events is an ordered, concurrency-safe trace.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.list = append(e.list, s)
	e.mu.Unlock()
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

type fakeOutbound struct {
	mu      sync.Mutex
	sends   []transport.SendRequest
	deletes []int64
	errs    map[int64][]error
	nextID  int

	delay       time.Duration
	inflight    atomic.Int32
	maxInflight atomic.Int32

	uploadRef   string
	deleteErr   error
	identity    string
	identityErr error
	identCalls  atomic.Int32
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{errs: map[int64][]error{}, identity: "relay_bot", uploadRef: "ref-1"}
}

func (f *fakeOutbound) failNext(chatID int64, errs ...error) {
	f.mu.Lock()
	f.errs[chatID] = append(f.errs[chatID], errs...)
	f.mu.Unlock()
}

func (f *fakeOutbound) Send(ctx context.Context, req transport.SendRequest) (transport.Sent, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.errs[req.ChatID]; len(q) > 0 {
		f.errs[req.ChatID] = q[1:]
		return transport.Sent{}, q[0]
	}
	f.sends = append(f.sends, req)
	f.nextID++
	sent := transport.Sent{ChatID: req.ChatID, MessageID: f.nextID}
	if req.Kind != transport.MediaNone && len(req.Media.Bytes) > 0 {
		sent.MediaRef = f.uploadRef
	}
	return sent, nil
}

func (f *fakeOutbound) Delete(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, chatID)
	return f.deleteErr
}

func (f *fakeOutbound) Identity(ctx context.Context) (string, error) {
	f.identCalls.Add(1)
	return f.identity, f.identityErr
}

func (f *fakeOutbound) sent() []transport.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.SendRequest(nil), f.sends...)
}

func (f *fakeOutbound) sentTo(chatID int64) []transport.SendRequest {
	var out []transport.SendRequest
	for _, s := range f.sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type fakeSource struct {
	data  []byte
	err   error
	panic bool
	calls atomic.Int32
	trace *events
}

func (f *fakeSource) Download(ctx context.Context, msg transport.InboundMessage) ([]byte, error) {
	f.calls.Add(1)
	if f.trace != nil {
		f.trace.add("download")
	}
	if f.panic {
		panic("decoder exploded")
	}
	return f.data, f.err
}

var errBoom = errors.New("boom")

type fixture struct {
	out    *fakeOutbound
	src    *fakeSource
	reg    *registry.Registry
	modes  *displaymode.Store
	cache  *ctxcache.Cache
	engine *Engine
	svc    *Service
}

func newFixture(t *testing.T, limit int, targets string) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.json")
	if targets != "" {
		if err := os.WriteFile(path, []byte(targets), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		out:   newFakeOutbound(),
		src:   &fakeSource{data: []byte("jpeg")},
		reg:   registry.New(path, logx.Nop()),
		modes: displaymode.NewStore(),
		cache: ctxcache.New(ctxcache.DefaultTTL),
	}
	f.engine = NewEngine(EngineConfig{MaxConcurrent: limit}, f.out, f.reg, f.modes, logx.Nop())
	f.svc = NewService(Deps{
		Analyzer:  NewAnalyzer("View Tweet"),
		Formatter: Formatter{AlternateHost: DefaultAlternateHost, DeployText: "Deploy"},
		Engine:    f.engine,
		Media:     NewMediaResolver(f.src, f.out, f.cache, logx.Nop()),
		Registry:  f.reg,
		Cache:     f.cache,
		Outbound:  f.out,
	})
	return f
}

func tweetMessage(media *transport.MediaDescriptor) transport.InboundMessage {
	return transport.InboundMessage{
		ID:     10,
		ChatID: 99,
		Text:   "**Tweet** from **alice**\n\nhello <world>",
		Media:  media,
		Buttons: []transport.Button{
			{Text: "Chart", URL: "https://example.com/chart"},
			{Text: "View Tweet", URL: "https://x.com/alice/status/1"},
		},
	}
}
