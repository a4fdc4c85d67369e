package eventlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/agritrace/pkg/advisory"
	"github.com/verdantlabs/agritrace/pkg/eventlog"
	"github.com/verdantlabs/agritrace/pkg/store"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

func newService(t *testing.T, analyzer advisory.Analyzer) (*eventlog.Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return eventlog.New(mem, mem, analyzer), mem
}

func TestAppendRequiresSubject(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Append(context.Background(), eventlog.AppendInput{
		EventType: trace.EventPlanted,
		ActorRef:  "a1",
	})
	require.Error(t, err)
	assert.Equal(t, trace.KindInvalidArgument, trace.KindOf(err))
}

func TestAppendValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, eventlog.AppendInput{FieldRef: "f1", ActorRef: "a1"})
	assert.Equal(t, trace.KindInvalidArgument, trace.KindOf(err), "missing event type")

	_, err = svc.Append(ctx, eventlog.AppendInput{FieldRef: "f1", EventType: trace.EventPlanted})
	assert.Equal(t, trace.KindInvalidArgument, trace.KindOf(err), "missing actor")

	_, err = svc.Append(ctx, eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventPlanted, ActorRef: "a1",
		Geo: &trace.GeoLocation{Lat: 95, Lng: 0},
	})
	assert.Equal(t, trace.KindInvalidArgument, trace.KindOf(err), "bad geo")
}

func TestAppendBareNodeRefMustResolve(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Append(context.Background(), eventlog.AppendInput{
		NodeRef:   "does-not-exist",
		EventType: trace.EventObserved,
		ActorRef:  "a1",
	})
	require.Error(t, err)
	assert.Equal(t, trace.KindNotFound, trace.KindOf(err))
}

func TestAppendPreBatchTolerated(t *testing.T) {
	// A fieldRef makes an unresolvable nodeRef acceptable: pre-batch events
	// are written against fields before any batch node exists.
	svc, _ := newService(t, nil)
	e, err := svc.Append(context.Background(), eventlog.AppendInput{
		NodeRef:   "does-not-exist",
		FieldRef:  "F1",
		EventType: trace.EventInputApplied,
		ActorRef:  "A1",
	})
	require.NoError(t, err)
	assert.Equal(t, "F1", e.FieldRef)
	assert.False(t, e.Timestamp.IsZero(), "server timestamp assigned")
}

func TestAppendChainsPerSubject(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Append(ctx, eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventPlanted, ActorRef: "a1",
		Payload: json.RawMessage(`{"crop_type":"maize"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, trace.ChainGenesis, first.PrevHash)

	second, err := svc.Append(ctx, eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, second.PrevHash)

	// A different field starts its own chain.
	other, err := svc.Append(ctx, eventlog.AppendInput{
		FieldRef: "f2", EventType: trace.EventPlanted, ActorRef: "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, trace.ChainGenesis, other.PrevHash)

	require.NoError(t, svc.VerifyChain(ctx, "f1", true))
	require.NoError(t, svc.VerifyChain(ctx, "f2", true))
}

func TestConcurrentAppendsKeepChainIntact(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	// Without per-chain serialization two writers read the same tail,
	// both link the same PrevHash, and the stored chain forks.
	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, eventlog.AppendInput{
				FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, svc.VerifyChain(ctx, "f1", true))

	chain, err := svc.Append(ctx, eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, trace.ChainGenesis, chain.PrevHash)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc, mem := newService(t, nil)
	ctx := context.Background()

	// A forged event appended directly to the store with a wrong link.
	forged := &trace.Event{
		ID:        uuid.New().String(),
		FieldRef:  "f1",
		Timestamp: time.Now().UTC(),
		EventType: trace.EventObserved,
		ActorRef:  "a1",
		PrevHash:  "sha256:bogus",
	}
	forged.PayloadHash, _ = trace.HashPayload(nil)
	forged.EntryHash, _ = trace.ComputeEntryHash(forged)
	require.NoError(t, mem.AppendEvent(ctx, forged))

	err := svc.VerifyChain(ctx, "f1", true)
	require.Error(t, err)
	assert.Equal(t, trace.KindInternal, trace.KindOf(err))
}

type fakeAnalyzer struct {
	text string
	err  error
}

func (f fakeAnalyzer) Analyze(context.Context, string, string) (string, error) {
	return f.text, f.err
}

func observedPayload(t *testing.T, e *trace.Event) trace.ObservedPayload {
	t.Helper()
	var p trace.ObservedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

func TestObservedFallbackWithoutMedia(t *testing.T) {
	svc, _ := newService(t, fakeAnalyzer{text: "looks like rust"})
	e, err := svc.Append(context.Background(), eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
		Payload: json.RawMessage(`{"observation_type":"disease","details":"yellow leaves"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, advisory.FallbackText, observedPayload(t, e).AIAnalysis)
}

func TestObservedFallbackWithoutAnalyzer(t *testing.T) {
	svc, _ := newService(t, nil)
	e, err := svc.Append(context.Background(), eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
		Payload: json.RawMessage(`{"details":"yellow leaves","media_urls":["gs://x/1.jpg"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, advisory.FallbackText, observedPayload(t, e).AIAnalysis)
}

func TestObservedAnalyzerFailureNeverBlocksWrite(t *testing.T) {
	svc, _ := newService(t, fakeAnalyzer{err: errors.New("model timeout")})
	e, err := svc.Append(context.Background(), eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
		Payload: json.RawMessage(`{"details":"spots","media_urls":["gs://x/1.jpg"]}`),
	})
	require.NoError(t, err, "analyzer failure must not fail the append")
	assert.Equal(t, advisory.FailureText, observedPayload(t, e).AIAnalysis)
}

func TestObservedAnalyzerSuccess(t *testing.T) {
	svc, _ := newService(t, fakeAnalyzer{text: "leaf rust, treat with fungicide"})
	e, err := svc.Append(context.Background(), eventlog.AppendInput{
		FieldRef: "f1", EventType: trace.EventObserved, ActorRef: "a1",
		Payload: json.RawMessage(`{"details":"spots","media_urls":["gs://x/1.jpg"]}`),
	})
	require.NoError(t, err)
	p := observedPayload(t, e)
	assert.Equal(t, "leaf rust, treat with fungicide", p.AIAnalysis)
	assert.Equal(t, []string{"gs://x/1.jpg"}, p.MediaURLs, "caller payload fields preserved")
}

func TestAppendInputApplication(t *testing.T) {
	svc, mem := newService(t, nil)
	e, err := svc.AppendInputApplication(context.Background(), eventlog.InputApplicationInput{
		FieldRef:        "f1",
		InputID:         "npk-17",
		ApplicationDate: "2026-04-02",
		Quantity:        50,
		Unit:            "kg",
		ActorRef:        "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, trace.EventInputApplied, e.EventType)

	stored, err := mem.EventsByField(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	_, err = svc.AppendInputApplication(context.Background(), eventlog.InputApplicationInput{
		FieldRef: "f1", InputID: "npk-17", ApplicationDate: "2026-04-02", ActorRef: "a1",
	})
	assert.Equal(t, trace.KindInvalidArgument, trace.KindOf(err), "missing unit")
}

func TestAppendObservationReturnsAdvisory(t *testing.T) {
	svc, _ := newService(t, nil)
	_, advisoryText, err := svc.AppendObservation(context.Background(), eventlog.ObservationInput{
		FieldRef:        "f1",
		ObservationType: "disease",
		Details:         "yellow leaves",
		ActorRef:        "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, advisory.FallbackText, advisoryText)
}
