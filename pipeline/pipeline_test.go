package pipeline_test

import (
	"errors"
	"sync"
	"testing"

	"corsgate/failure"
	"corsgate/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

// recordingStage logs entry and exit around the continuation.
func recordingStage(name string) pipeline.Stage[*trace] {
	return pipeline.StageFunc[*trace](func(t *trace, next pipeline.Next) error {
		t.add(name + ":in")
		err := next()
		t.add(name + ":out")
		return err
	})
}

func TestComposeRejectsNilStage(t *testing.T) {
	_, err := pipeline.Compose[*trace](recordingStage("a"), nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidStage)

	assert.Panics(t, func() {
		pipeline.MustCompose[*trace](nil)
	})
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	p, err := pipeline.Compose(recordingStage("a"), recordingStage("b"), recordingStage("c"))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	tr := &trace{}
	require.NoError(t, p.Run(tr, nil))
	assert.Equal(t, []string{"a:in", "b:in", "c:in", "c:out", "b:out", "a:out"}, tr.steps)
}

func TestRunInvokesFinalContinuation(t *testing.T) {
	p := pipeline.MustCompose(recordingStage("a"))

	tr := &trace{}
	err := p.Run(tr, func() error {
		tr.add("final")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:in", "final", "a:out"}, tr.steps)
}

func TestRunEmptyPipeline(t *testing.T) {
	p := pipeline.MustCompose[*trace]()
	assert.NoError(t, p.Run(&trace{}, nil))

	called := false
	assert.NoError(t, p.Run(&trace{}, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestShortCircuitSkipsLaterStages(t *testing.T) {
	stop := pipeline.StageFunc[*trace](func(t *trace, next pipeline.Next) error {
		t.add("stop")
		return nil
	})
	p := pipeline.MustCompose(recordingStage("a"), stop, recordingStage("never"))

	tr := &trace{}
	require.NoError(t, p.Run(tr, nil))
	assert.Equal(t, []string{"a:in", "stop", "a:out"}, tr.steps)
}

func TestStageErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	failing := pipeline.StageFunc[*trace](func(*trace, pipeline.Next) error {
		return boom
	})
	p := pipeline.MustCompose(recordingStage("a"), failing)

	tr := &trace{}
	err := p.Run(tr, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:in", "a:out"}, tr.steps)
}

func TestOuterStageCanHandleDownstreamError(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	handler := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		seen = next()
		return nil
	})
	failing := pipeline.StageFunc[*trace](func(*trace, pipeline.Next) error {
		return boom
	})

	err := pipeline.MustCompose(handler, failing).Run(&trace{}, nil)
	assert.NoError(t, err)
	assert.ErrorIs(t, seen, boom)
}

func TestContinuationCalledTwiceFaults(t *testing.T) {
	twice := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		if err := next(); err != nil {
			return err
		}
		return next()
	})
	p := pipeline.MustCompose(twice, recordingStage("b"))

	tr := &trace{}
	err := p.Run(tr, nil)

	var contractErr *failure.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, "stage invoked multiple times", contractErr.Reason)
	assert.Equal(t, 0, contractErr.Stage)
	assert.Equal(t, []string{"b:in", "b:out"}, tr.steps, "second stage must run only once")
}

func TestContinuationCalledTwiceFaultsEvenWhenSwallowed(t *testing.T) {
	twice := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		_ = next()
		_ = next()
		return nil
	})

	err := pipeline.MustCompose(twice, recordingStage("b")).Run(&trace{}, nil)

	var contractErr *failure.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, "stage invoked multiple times", contractErr.Reason)
}

func TestContractFaultReachesOuterHandler(t *testing.T) {
	var seen error
	handler := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		seen = next()
		return nil
	})
	twice := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		_ = next()
		_ = next()
		return nil
	})

	err := pipeline.MustCompose(handler, twice).Run(&trace{}, nil)
	assert.NoError(t, err, "the handling stage owns no fault")

	var contractErr *failure.ContractError
	require.ErrorAs(t, seen, &contractErr)
	assert.Equal(t, 1, contractErr.Stage)
}

func TestContinuationNotAwaitedFaults(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	detached := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		go func() {
			defer close(done)
			_ = next()
		}()
		<-started
		return nil
	})
	blocking := pipeline.StageFunc[*trace](func(*trace, pipeline.Next) error {
		close(started)
		<-release
		return nil
	})

	err := pipeline.MustCompose(detached, blocking).Run(&trace{}, nil)
	close(release)
	<-done

	var contractErr *failure.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, "continuation not awaited by its caller", contractErr.Reason)
	assert.Equal(t, 0, contractErr.Stage)
}

func TestContinuationNotAwaitedFaultsWhenStageFails(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	gaveUp := errors.New("stage gave up")

	detached := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		go func() {
			defer close(done)
			_ = next()
		}()
		<-started
		return gaveUp
	})
	blocking := pipeline.StageFunc[*trace](func(*trace, pipeline.Next) error {
		close(started)
		<-release
		return nil
	})

	err := pipeline.MustCompose(detached, blocking).Run(&trace{}, nil)
	close(release)
	<-done

	var contractErr *failure.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, "continuation not awaited by its caller", contractErr.Reason)
	assert.Equal(t, 0, contractErr.Stage)
	assert.ErrorIs(t, err, gaveUp)
	assert.Equal(t, 500, failure.StatusCode(err))
}

func TestLateContinuationFaults(t *testing.T) {
	var saved pipeline.Next
	keep := pipeline.StageFunc[*trace](func(_ *trace, next pipeline.Next) error {
		saved = next
		return nil
	})

	tr := &trace{}
	require.NoError(t, pipeline.MustCompose(keep, recordingStage("b")).Run(tr, nil))

	err := saved()
	var contractErr *failure.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, "continuation invoked after its stage returned", contractErr.Reason)
	assert.Empty(t, tr.steps)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	p := pipeline.MustCompose(recordingStage("a"), recordingStage("b"))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &trace{}
			if err := p.Run(tr, nil); err != nil {
				errs <- err
				return
			}
			if len(tr.steps) != 4 {
				errs <- errors.New("unexpected trace length")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestPanicRecoveredByOuterStageIsNotAFault(t *testing.T) {
	recovering := pipeline.StageFunc[*trace](func(tr *trace, next pipeline.Next) (err error) {
		defer func() {
			if v := recover(); v != nil {
				tr.add("recovered")
				err = nil
			}
		}()
		return next()
	})
	panicking := pipeline.StageFunc[*trace](func(*trace, pipeline.Next) error {
		panic("boom")
	})
	p := pipeline.MustCompose(recovering, recordingStage("mid"), panicking)

	tr := &trace{}
	require.NoError(t, p.Run(tr, nil))
	assert.Equal(t, []string{"mid:in", "recovered"}, tr.steps)
}
