package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "n", time.Second, errors.New("x"))
		m.RecordSuperstep(ctx, 3, time.Second)
		m.RecordRun(ctx, OutcomeFailed, time.Second)
		m.RecordInterrupt(ctx, "n")
		m.RecordCheckpoint(ctx, 10)
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	runCtx, run := sm.StartRunSpan(ctx, "g", "t")
	assert.Equal(t, ctx, runCtx)
	assert.False(t, run.IsRecording())

	stepCtx, step := sm.StartStepSpan(ctx, 1, 1)
	assert.Equal(t, ctx, stepCtx)

	nodeCtx, node := sm.StartNodeSpan(ctx, "n")
	assert.Equal(t, ctx, nodeCtx)

	assert.NotPanics(t, func() {
		sm.AddSpanEvent(ctx, "e")
		sm.EndSpanWithError(node, errors.New("x"))
		sm.EndSpanWithError(step, nil)
		sm.EndSpanWithError(run, nil)
	})
}
