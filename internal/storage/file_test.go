package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "relaybot/pkg/logx"
)

func openTestFile(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path must fail")
	}
}

func TestFileAuditAppends(t *testing.T) {
	t.Parallel()
	st, dir := openTestFile(t)
	ctx := context.Background()
	entries := []AuditEntry{
		{Action: ActionRelay, Target: "ctx1", OK: 3, Fail: 1},
		{Action: ActionSetMode, ActorID: 7, ChatID: -100, Target: "condensed"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "relay.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[0].Action != ActionRelay || got[1].ChatID != -100 {
		t.Fatalf("audit = %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("timestamp should be filled in")
	}
}

func TestFileModesRoundTrip(t *testing.T) {
	t.Parallel()
	st, dir := openTestFile(t)
	ctx := context.Background()

	empty, err := st.LoadModes(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("LoadModes before save = %v, %v", empty, err)
	}

	want := map[int64]string{-1001: "condensed", 5: "full"}
	if err := st.SaveModes(ctx, want); err != nil {
		t.Fatalf("SaveModes: %v", err)
	}
	got, err := st.LoadModes(ctx)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("LoadModes = %v, %v; want %v", got, err, want)
	}

	// Replace, not merge.
	if err := st.SaveModes(ctx, map[int64]string{5: "condensed"}); err != nil {
		t.Fatal(err)
	}
	got, _ = st.LoadModes(ctx)
	if !reflect.DeepEqual(got, map[int64]string{5: "condensed"}) {
		t.Fatalf("LoadModes after replace = %v", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "relay.modes.json"), []byte(`{"x":"full","9":"full"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = st.LoadModes(ctx)
	if err != nil || !reflect.DeepEqual(got, map[int64]string{9: "full"}) {
		t.Fatalf("LoadModes with bad key = %v, %v", got, err)
	}
}

func TestFileClosed(t *testing.T) {
	t.Parallel()
	st, _ := openTestFile(t)
	_ = st.Close()
	if err := st.AppendAudit(context.Background(), AuditEntry{Action: "x"}); err == nil {
		t.Fatal("append after close must fail")
	}
}
