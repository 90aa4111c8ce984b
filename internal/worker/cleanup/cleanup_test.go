package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/importdash/internal/model"
)

type mockSessionRepo struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error { return nil }

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error { return nil }

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error { return nil }

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockPurgeMetrics struct {
	total atomic.Int64
}

func (m *mockPurgeMetrics) RecordSessionsPurged(count int64) {
	m.total.Add(count)
}

// 起動直後に1回削除が実行され、件数がメトリクスに記録されることを検証
func TestWorker_PurgesOnStart(t *testing.T) {
	var calls atomic.Int32
	repo := &mockSessionRepo{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			calls.Add(1)
			return 5, nil
		},
	}
	recorder := &mockPurgeMetrics{}
	w := NewWorker(repo, recorder, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// 初回実行を待つ
	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial purge did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if got := recorder.total.Load(); got != 5 {
		t.Errorf("recorded purge count = %d, want 5", got)
	}
}

// 削除の失敗でワーカーが停止しないことを検証
func TestWorker_ContinuesAfterError(t *testing.T) {
	var calls atomic.Int32
	repo := &mockSessionRepo{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			calls.Add(1)
			return 0, errors.New("store unavailable")
		},
	}
	w := NewWorker(repo, nil, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker did not retry after error")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
