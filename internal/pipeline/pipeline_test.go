package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"postforge/internal/classify"
	"postforge/internal/naming"
	"postforge/internal/objectstore"
	"postforge/internal/pipeline"
	"postforge/internal/retry"
	"postforge/internal/services"
	"postforge/internal/stage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeHandler struct {
	mu         sync.Mutex
	prepareErr error
	execErrs   []error
	output     func(item *stage.Item) stage.Output
	calls      int
	block      bool
	notDue     bool
}

func (h *fakeHandler) Prepare(_ context.Context, item *stage.Item) error {
	if h.prepareErr != nil {
		return h.prepareErr
	}
	item.Input = item.Payload.String("goal")
	return nil
}

func (h *fakeHandler) Execute(ctx context.Context, item *stage.Item) (stage.Output, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()
	if h.block {
		<-ctx.Done()
		return stage.Output{}, ctx.Err()
	}
	if call <= len(h.execErrs) && h.execErrs[call-1] != nil {
		return stage.Output{}, h.execErrs[call-1]
	}
	if h.output != nil {
		return h.output(item), nil
	}
	return stage.Output{
		File:    naming.PostsFile,
		Payload: objectstore.Payload{"source": item.Key.String(), "status": "pending"},
	}, nil
}

func (h *fakeHandler) MarkSource(item *stage.Item, _ stage.Output, now time.Time) objectstore.Payload {
	if h.notDue {
		return nil
	}
	marked := item.Payload.Clone()
	marked.MarkProcessed(now)
	return marked
}

func (h *fakeHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("fake") }

func (h *fakeHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fixture struct {
	store  *objectstore.Memory
	clock  *retry.FakeClock
	engine *pipeline.Engine
	stage  *pipeline.Stage
	h      *fakeHandler
}

func newFixture(t *testing.T, mutate func(st *pipeline.Stage)) *fixture {
	t.Helper()
	store := objectstore.NewMemory()
	clock := retry.NewFakeClock(epoch)
	engine, err := pipeline.NewEngine(pipeline.Options{
		Store:     store,
		Platforms: []string{"instagram", "tiktok"},
		Policy:    retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2},
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h := &fakeHandler{}
	st := &pipeline.Stage{
		ID:           "goal",
		InputPrefix:  "goal",
		OutputPrefix: "generated_content",
		Accepts:      func(k naming.Key) bool { return k.Verb() == "goal" },
		Interval:     time.Minute,
		Timeout:      time.Second,
		Handler:      h,
	}
	if mutate != nil {
		mutate(st)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return &fixture{store: store, clock: clock, engine: engine, stage: st, h: h}
}

func (f *fixture) put(t *testing.T, key string, payload objectstore.Payload) naming.Key {
	t.Helper()
	if err := f.store.WriteJSON(context.Background(), key, payload); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
	parsed, err := naming.Parse(key)
	if err != nil {
		t.Fatalf("parse %s: %v", key, err)
	}
	return parsed
}

func (f *fixture) read(t *testing.T, key string) objectstore.Payload {
	t.Helper()
	p, err := f.store.ReadJSON(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return p
}

func (f *fixture) list(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := f.store.List(context.Background(), prefix)
	if err != nil {
		t.Fatalf("list %s: %v", prefix, err)
	}
	return keys
}

func TestStageValidate(t *testing.T) {
	h := &fakeHandler{}
	base := pipeline.Stage{ID: "goal", InputPrefix: "goal", OutputPrefix: "out", Interval: time.Second, Timeout: time.Second, Handler: h}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid stage, got %v", err)
	}
	same := base
	same.OutputPrefix = "goal"
	if err := same.Validate(); err == nil {
		t.Fatal("expected error for identical prefixes")
	}
	noHandler := base
	noHandler.Handler = nil
	if err := noHandler.Validate(); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestScannerFiltersCandidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, "goal/instagram/acme/goal_2.json", objectstore.Payload{"goal": "b"})
	f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "a"})
	f.put(t, "goal/tiktok/acme/goal_3.json", objectstore.Payload{"goal": "c"})
	f.put(t, "goal/instagram/acme/notes_1.json", objectstore.Payload{})
	f.put(t, "goal/instagram/test_account/goal_4.json", objectstore.Payload{"goal": "d"})
	f.put(t, "goal/instagram/acme/deep/goal_5.json", objectstore.Payload{})
	f.put(t, "goal/youtube/acme/goal_6.json", objectstore.Payload{})
	if err := f.store.WriteBinary(ctx, "goal/instagram/acme/goal_7.txt", []byte("x"), "text/plain"); err != nil {
		t.Fatal(err)
	}

	classifier, err := classify.New(classify.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	scanner := pipeline.NewScanner(f.store, classifier, []string{"instagram", "tiktok"}, nil)
	keys, err := scanner.Scan(ctx, f.stage)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var got []string
	for _, k := range keys {
		got = append(got, k.String())
	}
	want := []string{
		"goal/instagram/acme/goal_1.json",
		"goal/instagram/acme/goal_2.json",
		"goal/tiktok/acme/goal_3.json",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected candidates\n got: %v\nwant: %v", got, want)
	}
}

func TestScannerToleratesSinglePlatformFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "goal/tiktok/acme/goal_1.json", objectstore.Payload{})
	f.store.InjectFault(objectstore.OpList, "goal/instagram/", services.ErrTransient)

	scanner := pipeline.NewScanner(f.store, nil, []string{"instagram", "tiktok"}, nil)
	keys, err := scanner.Scan(context.Background(), f.stage)
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one key from healthy platform, got %v (err %v)", keys, err)
	}

	f.store.InjectFault(objectstore.OpList, "goal/tiktok/", services.ErrTransient)
	if _, err := scanner.Scan(context.Background(), f.stage); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected scan failure when every platform fails, got %v", err)
	}
}

func TestResolverStatuses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tests := []struct {
		name   string
		status any
		want   bool
	}{
		{"absent", nil, true},
		{"pending", "pending", true},
		{"error", "error", true},
		{"uppercase pending", " PENDING ", true},
		{"unknown", "archived", false},
		{"non-string", 42, false},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := objectstore.Payload{"goal": "x"}
			if tc.status != nil {
				payload["status"] = tc.status
			}
			key := f.put(t, fmt.Sprintf("goal/instagram/acme/goal_%d.json", i), payload)
			got, err := f.engine.Resolver.IsActionable(ctx, f.stage, key)
			if err != nil {
				t.Fatalf("IsActionable: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsActionable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolverReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "x", "status": "processed"})

	before := f.store.Keys()
	for i := 0; i < 3; i++ {
		actionable, err := f.engine.Resolver.IsActionable(ctx, f.stage, key)
		if err != nil || !actionable {
			t.Fatalf("processed item without output must be actionable, got %v (err %v)", actionable, err)
		}
	}
	if after := f.store.Keys(); strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("IsActionable mutated the store: %v -> %v", before, after)
	}

	f.put(t, "generated_content/instagram/other/posts.json", objectstore.Payload{})
	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); !actionable {
		t.Fatal("output for another identity must not count as evidence")
	}

	f.put(t, "generated_content/instagram/acme/posts.json", objectstore.Payload{})
	if actionable, err := f.engine.Resolver.IsActionable(ctx, f.stage, key); err != nil || actionable {
		t.Fatalf("processed item with output must not be actionable, got %v (err %v)", actionable, err)
	}
}

func TestResolverDownstreamEvidence(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) {
		st.ID = "content"
		st.InputPrefix = "generated_content"
		st.OutputPrefix = "next_posts"
		st.Downstream = []string{"ready_post"}
		st.Accepts = nil
	})
	ctx := context.Background()
	key := f.put(t, "generated_content/instagram/acme/posts.json", objectstore.Payload{"status": "processed"})
	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); !actionable {
		t.Fatal("processed item without any output must be actionable")
	}
	f.put(t, "ready_post/instagram/acme/regular_1.json", objectstore.Payload{})
	if actionable, err := f.engine.Resolver.IsActionable(ctx, f.stage, key); err != nil || actionable {
		t.Fatalf("output consumed downstream must settle the item, got %v (err %v)", actionable, err)
	}
}

func TestResolverSameNameEvidence(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) {
		st.ID = "posts"
		st.InputPrefix = "next_posts"
		st.OutputPrefix = "ready_post"
		st.Evidence = pipeline.EvidenceSameName
		st.Accepts = nil
	})
	ctx := context.Background()
	key := f.put(t, "next_posts/instagram/acme/regular_1.json", objectstore.Payload{"status": "processed"})
	f.put(t, "ready_post/instagram/acme/regular_2.json", objectstore.Payload{})

	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); !actionable {
		t.Fatal("a different file for the same identity must not count as evidence")
	}
	f.put(t, "ready_post/instagram/acme/regular_1.json", objectstore.Payload{})
	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); actionable {
		t.Fatal("same-name output must settle the item")
	}
}

func TestResolverMissingAndCorrupted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	missing, _ := naming.Parse("goal/instagram/acme/goal_9.json")
	if actionable, err := f.engine.Resolver.IsActionable(ctx, f.stage, missing); err != nil || actionable {
		t.Fatalf("missing key: got %v, %v", actionable, err)
	}

	f.store.Put("goal/instagram/acme/goal_1.json", []byte(`{"goal": "x"`))
	broken, _ := naming.Parse("goal/instagram/acme/goal_1.json")
	actionable, err := f.engine.Resolver.IsActionable(ctx, f.stage, broken)
	if actionable || !errors.Is(err, services.ErrCorrupted) {
		t.Fatalf("corrupted key: got %v, %v", actionable, err)
	}
}

func TestProcessOneCommitsExactlyOneOutput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow", "status": "pending"})

	if before := f.list(t, "generated_content/"); len(before) != 0 {
		t.Fatalf("unexpected outputs before processing: %v", before)
	}
	outcome, err := f.engine.Processor.ProcessOne(ctx, f.stage, key)
	if err != nil || outcome != pipeline.OutcomeCommitted {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	after := f.list(t, "generated_content/")
	if len(after) != 1 || after[0] != "generated_content/instagram/acme/posts.json" {
		t.Fatalf("expected exactly one output, got %v", after)
	}
	source := f.read(t, key.String())
	if source.Status() != objectstore.StatusProcessed || source.String("processed_at") != epoch.Format(time.RFC3339) {
		t.Fatalf("source not flipped: %v", source)
	}
	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); actionable {
		t.Fatal("committed item must not be actionable")
	}
}

func TestProcessOneRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.h.execErrs = []error{services.ErrTransient, services.WithDelayHint(services.ErrRateLimited, 7*time.Second)}
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeCommitted {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	if f.h.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.h.Calls())
	}
	sleeps := f.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 7*time.Second {
		t.Fatalf("unexpected backoff sleeps %v", sleeps)
	}
}

func TestProcessOneExhaustedRetriesQuarantine(t *testing.T) {
	f := newFixture(t, nil)
	f.h.execErrs = []error{services.ErrTransient, services.ErrTransient, services.ErrTransient}
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeQuarantined {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	rec := f.read(t, "failed_goal/instagram/acme/goal_1.json")
	if rec.String("reason") != services.ReasonTransient {
		t.Fatalf("unexpected reason %q", rec.String("reason"))
	}
	if inner, ok := rec.Object("payload"); !ok || inner.String("goal") != "grow" {
		t.Fatalf("record should embed the original payload: %v", rec)
	}
}

func TestProcessOneTimeoutCountsAsTransient(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) { st.Timeout = 5 * time.Millisecond })
	f.h.block = true
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeQuarantined {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	if f.h.Calls() != 3 {
		t.Fatalf("expected every attempt to time out, got %d calls", f.h.Calls())
	}
	rec := f.read(t, "failed_goal/instagram/acme/goal_1.json")
	if rec.String("reason") != services.ReasonTransient || !strings.Contains(rec.String("details"), "timeout") {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestProcessOneRejectedQuarantinesWithoutRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.h.execErrs = []error{services.Wrap(services.ErrRejected, "goal", "llm", "content policy", nil)}
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	outcome, _ := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if outcome != pipeline.OutcomeQuarantined || f.h.Calls() != 1 {
		t.Fatalf("expected single attempt then quarantine, got %v after %d calls", outcome, f.h.Calls())
	}
	if rec := f.read(t, "failed_goal/instagram/acme/goal_1.json"); rec.String("reason") != services.ReasonRejected {
		t.Fatalf("unexpected reason %q", rec.String("reason"))
	}
}

func TestProcessOneValidationSkipsWithoutQuarantine(t *testing.T) {
	f := newFixture(t, nil)
	f.h.prepareErr = services.Wrap(services.ErrValidation, "goal", "prepare", "missing timeline", nil)
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeSkipped {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	if f.h.Calls() != 0 {
		t.Fatal("transform must not run for invalid input")
	}
	if keys := f.store.Keys(); len(keys) != 1 || keys[0] != key.String() {
		t.Fatalf("store must be untouched, got %v", keys)
	}
}

func TestProcessOneOutputCommitFailureLeavesSourcePending(t *testing.T) {
	f := newFixture(t, nil)
	f.store.InjectFault(objectstore.OpWrite, "generated_content/", services.ErrTransient)
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow", "status": "pending"})

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeDeferred {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	if f.read(t, key.String()).Status() != objectstore.StatusPending {
		t.Fatal("source must stay pending after a failed commit")
	}

	f.store.InjectFault(objectstore.OpWrite, "generated_content/", nil)
	outcome, _ = f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if outcome != pipeline.OutcomeCommitted || f.h.Calls() != 2 {
		t.Fatalf("expected the retry to re-run the transform and commit, got %v after %d calls", outcome, f.h.Calls())
	}
}

func TestProcessOneDeleteSourcePolicy(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) {
		st.ID = "posts"
		st.InputPrefix = "next_posts"
		st.OutputPrefix = "ready_post"
		st.Commit = pipeline.CommitDeleteSource
		st.Evidence = pipeline.EvidenceSameName
		st.Accepts = nil
	})
	f.h.output = func(item *stage.Item) stage.Output {
		return stage.Output{
			Payload:     objectstore.Payload{"post": map[string]any{"caption": "hi"}},
			Attachments: []stage.Attachment{{File: item.Key.Base() + ".jpg", Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg"}},
		}
	}
	ctx := context.Background()
	key := f.put(t, "next_posts/instagram/acme/regular_1.json", objectstore.Payload{"caption": "hi"})

	outcome, err := f.engine.Processor.ProcessOne(ctx, f.stage, key)
	if err != nil || outcome != pipeline.OutcomeCommitted {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	if _, _, ok := f.store.Get(key.String()); ok {
		t.Fatal("source should be deleted after a confirmed commit")
	}
	if _, ct, ok := f.store.Get("ready_post/instagram/acme/regular_1.jpg"); !ok || ct != "image/jpeg" {
		t.Fatal("attachment missing")
	}
	f.read(t, "ready_post/instagram/acme/regular_1.json")

	key = f.put(t, "next_posts/instagram/acme/regular_2.json", objectstore.Payload{"caption": "hi"})
	f.store.InjectFault(objectstore.OpDelete, "next_posts/", services.ErrTransient)
	if outcome, _ := f.engine.Processor.ProcessOne(ctx, f.stage, key); outcome != pipeline.OutcomeCommitted {
		t.Fatalf("unexpected outcome %v", outcome)
	}
	if f.read(t, key.String()).Status() != objectstore.StatusProcessed {
		t.Fatal("undeletable source should fall back to processed status")
	}
	if actionable, _ := f.engine.Resolver.IsActionable(ctx, f.stage, key); actionable {
		t.Fatal("fallback source must be settled by its same-name output")
	}
}

func TestProcessOneNilOutputDrains(t *testing.T) {
	f := newFixture(t, nil)
	f.h.output = func(*stage.Item) stage.Output { return stage.Output{} }
	ctx := context.Background()
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	if outcome, _ := f.engine.Processor.ProcessOne(ctx, f.stage, key); outcome != pipeline.OutcomeCommitted {
		t.Fatalf("expected drained item to be marked, got %v", outcome)
	}
	first, _, _ := f.store.Get(key.String())
	if outcome, _ := f.engine.Processor.ProcessOne(ctx, f.stage, key); outcome != pipeline.OutcomeSkipped {
		t.Fatalf("expected settled item to be skipped, got %v", outcome)
	}
	second, _, _ := f.store.Get(key.String())
	if string(first) != string(second) {
		t.Fatal("a drained processed item must not be rewritten")
	}
	if outputs := f.list(t, "generated_content/"); len(outputs) != 0 {
		t.Fatalf("nil output must not be written, got %v", outputs)
	}
}

func TestProcessOneNothingDueLeavesSource(t *testing.T) {
	f := newFixture(t, nil)
	f.h.output = func(*stage.Item) stage.Output { return stage.Output{} }
	f.h.notDue = true
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})
	before, _, _ := f.store.Get(key.String())

	outcome, err := f.engine.Processor.ProcessOne(context.Background(), f.stage, key)
	if err != nil || outcome != pipeline.OutcomeSkipped {
		t.Fatalf("ProcessOne = %v, %v", outcome, err)
	}
	after, _, _ := f.store.Get(key.String())
	if string(before) != string(after) {
		t.Fatal("source must not be rewritten when nothing is due")
	}
}

func TestQuarantineTerminality(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})

	rec, err := f.engine.Quarantine.Quarantine(ctx, f.stage, key, services.ReasonRejected, "bad")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if rec.Key != "failed_goal/instagram/acme/goal_1.json" {
		t.Fatalf("unexpected record key %q", rec.Key)
	}
	if _, _, ok := f.store.Get(key.String()); ok {
		t.Fatal("original must be removed")
	}
	records := f.list(t, "failed_goal/")
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %v", records)
	}
	if reason := f.read(t, records[0]).String("reason"); reason == "" {
		t.Fatal("record reason must be non-empty")
	}
	if _, err := f.engine.Quarantine.Quarantine(ctx, f.stage, key, services.ReasonRejected, "again"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second quarantine should report not found, got %v", err)
	}
	if got := f.list(t, "failed_goal/"); len(got) != 1 {
		t.Fatalf("duplicate records accumulated: %v", got)
	}
}

func TestQuarantineDeleteFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})
	f.store.InjectFault(objectstore.OpDelete, "goal/", services.ErrTransient)

	if _, err := f.engine.Quarantine.Quarantine(context.Background(), f.stage, key, services.ReasonRejected, "x"); err != nil {
		t.Fatalf("record write succeeded, delete failure should be logged only: %v", err)
	}
	if len(f.list(t, "failed_goal/")) != 1 {
		t.Fatal("expected one record")
	}
}

func TestQuarantineListAndRequeue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow", "status": "error", "status_message": "boom"})
	if _, err := f.engine.Quarantine.Quarantine(ctx, f.stage, key, services.ReasonRejected, "boom"); err != nil {
		t.Fatal(err)
	}
	f.store.Put("goal/instagram/acme/goal_2.json", []byte{0xff})
	broken, _ := naming.Parse("goal/instagram/acme/goal_2.json")
	if _, err := f.engine.Quarantine.Quarantine(ctx, f.stage, broken, services.ReasonCorrupted, "bad bytes"); err != nil {
		t.Fatal(err)
	}

	records, err := f.engine.Quarantine.List(ctx, f.stage)
	if err != nil || len(records) != 2 {
		t.Fatalf("List = %v, %v", records, err)
	}
	if records[0].OriginalKey != key.String() || records[0].Payload == nil || records[1].Payload != nil {
		t.Fatalf("unexpected records %+v", records)
	}

	target, err := f.engine.Quarantine.Requeue(ctx, f.stage, records[0].Key)
	if err != nil || target != key.String() {
		t.Fatalf("Requeue = %q, %v", target, err)
	}
	restored := f.read(t, target)
	if restored.Status() != objectstore.StatusPending || restored["status_message"] != nil {
		t.Fatalf("restored payload not reset: %v", restored)
	}
	if _, err := f.engine.Quarantine.Requeue(ctx, f.stage, records[1].Key); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("record without payload cannot be requeued, got %v", err)
	}
}

func TestRunPassQuarantinesCorruptedInputOnce(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) {
		st.ID = "posts"
		st.InputPrefix = "next_posts"
		st.OutputPrefix = "ready_post"
		st.Evidence = pipeline.EvidenceSameName
		st.Accepts = nil
	})
	ctx := context.Background()
	f.store.Put("next_posts/instagram/acme/regular_1.json", []byte{'{', '"', 'c', '"', ':', '"', 0xc3, 0x28, '"', '}'})

	stats, err := f.engine.RunPass(ctx, f.stage)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Quarantined != 1 || f.h.Calls() != 0 {
		t.Fatalf("expected immediate quarantine without transform, got %+v (calls %d)", stats, f.h.Calls())
	}
	rec := f.read(t, "failed_posts/instagram/acme/regular_1.json")
	if rec.String("reason") != services.ReasonCorrupted {
		t.Fatalf("unexpected reason %q", rec.String("reason"))
	}

	stats, err = f.engine.RunPass(ctx, f.stage)
	if err != nil || stats.Scanned != 0 {
		t.Fatalf("quarantined key must not be scanned again: %+v, %v", stats, err)
	}
}

func TestRunPassHonorsMaxItems(t *testing.T) {
	f := newFixture(t, func(st *pipeline.Stage) { st.MaxItems = 2 })
	for i := 1; i <= 3; i++ {
		f.put(t, fmt.Sprintf("goal/instagram/acct%d/goal_%d.json", i, i), objectstore.Payload{"goal": "grow"})
	}
	stats, err := f.engine.RunPass(context.Background(), f.stage)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 3 || stats.Actionable != 2 || stats.Committed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	stats, _ = f.engine.RunPass(context.Background(), f.stage)
	if stats.Actionable != 1 || stats.Committed != 1 {
		t.Fatalf("remaining item should be handled next pass, got %+v", stats)
	}
}

func TestRunPassStopsOnCancellation(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.engine.RunPass(ctx, f.stage); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pending := f.put(t, "goal/instagram/acme/goal_1.json", objectstore.Payload{"goal": "grow"})
	f.store.Put("goal/instagram/acme/goal_2.json", []byte("nope"))
	corrupt, _ := naming.Parse("goal/instagram/acme/goal_2.json")

	if got, _ := f.engine.Inspect(ctx, f.stage, pending); got != "actionable" {
		t.Fatalf("Inspect pending = %q", got)
	}
	if got, _ := f.engine.Inspect(ctx, f.stage, corrupt); got != "corrupted" {
		t.Fatalf("Inspect corrupted = %q", got)
	}
}
