package workers

import (
	"chat-relay/mocks"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	workerMock := mocks.NewMockWorker(ctrl)

	calls := make(chan struct{}, 8)
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			calls <- struct{}{}
			panic("boom")
		}).
		AnyTimes()

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	sup.Add(workerMock).Run(ctx)
	defer sup.Stop()

	// The worker must be restarted at least once after panicking
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(500 * time.Millisecond):
			req.Fail("Worker was not restarted after panic")
		}
	}
}

func TestSupervisor_RestartOnError(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	workerMock := mocks.NewMockWorker(ctrl)

	calls := make(chan struct{}, 8)
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			calls <- struct{}{}
			return context.DeadlineExceeded
		}).
		AnyTimes()

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	sup.Add(workerMock).Run(context.Background())
	defer sup.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(500 * time.Millisecond):
			req.Fail("Worker was not restarted after failure")
		}
	}
}

func TestSupervisor_NoRestartOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	workerMock := mocks.NewMockWorker(ctrl)

	// Given a worker terminating cleanly, run exactly once
	workerMock.EXPECT().
		Run(gomock.Any()).
		Return(nil).
		Times(1)

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	sup.Add(workerMock).Run(context.Background())

	// Stop waits for the worker goroutine; a restart would trip Times(1)
	sup.Stop()
}

func TestSupervisor_StopCancelsWorkers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	workerMock := mocks.NewMockWorker(ctrl)

	started := make(chan struct{})
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		}).
		Times(1)

	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	sup.Add(workerMock).Run(context.Background())

	select {
	case <-started:
	case <-time.After(500 * time.Millisecond):
		req.Fail("Worker never started")
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
		// Then Stop cancelled the worker context and joined the goroutine
	case <-time.After(500 * time.Millisecond):
		req.Fail("Supervisor did not stop")
	}
}
