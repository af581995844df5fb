package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/resilience"
)

func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(nil, 0, 0)
	assert.Equal(t, 5*time.Minute, s.interval)
	assert.Equal(t, 100, s.limit)
}

func TestSweeper_SweepRecovers(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchEmployeeProfiles", mock.Anything, "due").Return(acmeProfiles(), nil).Once()

	st := newMemStore()
	st.failures["due"] = resilience.FailureEntry{
		CompanyID: "due", WorkspaceID: "ws1", ErrorType: resilience.ClassTransient,
		MaxRetries: 3, NextRetryAt: fixedNow.Add(-time.Minute),
	}

	s := NewSweeper(newTestService(p, st), time.Hour, 10)
	assert.Equal(t, 1, s.sweep(context.Background(), zap.NewNop()))

	_, ok := st.failure("due")
	assert.False(t, ok)
	assert.Zero(t, s.sweep(context.Background(), zap.NewNop()), "nothing left to retry")
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(newTestService(&mockProvider{}, newMemStore()), time.Millisecond, 1).Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
