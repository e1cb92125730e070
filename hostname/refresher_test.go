package hostname_test

import (
	"context"
	"testing"
	"time"

	"corsgate/hostname"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresherWithoutScheduleDoesNothing(t *testing.T) {
	srv := newTLDServer(t, ianaList, 0)
	v := newValidator(srv, newClock())

	r := hostname.NewRefresher(v, "", time.Second, discard)
	require.NoError(t, r.Start(context.Background()))
	assert.Nil(t, r.NextRun())
	r.Stop()
	assert.Zero(t, srv.hits.Load())
}

func TestRefresherRejectsBadSchedule(t *testing.T) {
	srv := newTLDServer(t, ianaList, 0)
	r := hostname.NewRefresher(newValidator(srv, newClock()), "every now and then", time.Second, discard)

	assert.ErrorContains(t, r.Start(context.Background()), "invalid cron schedule")
}

func TestRefresherRunsOnSchedule(t *testing.T) {
	srv := newTLDServer(t, ianaList, 0)
	v := newValidator(srv, newClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := hostname.NewRefresher(v, "@every 1s", 5*time.Second, discard)
	require.NoError(t, r.Start(ctx))
	require.NotNil(t, r.NextRun())

	assert.Eventually(t, func() bool { return srv.hits.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool { return v.Size() == 5 }, time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Nil(t, r.NextRun())
}
