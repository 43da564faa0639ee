package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// fakeGateway scripts submission and a sequence of status responses, and
// records cancel calls.
type fakeGateway struct {
	mu sync.Mutex

	submitResult domain.SubmitResult
	submitErr    error

	statuses    []domain.OrderState
	statusIdx   int
	statusCalls int

	cancelled []string
}

func (f *fakeGateway) SubmitOrder(_ context.Context, _ domain.ReplicaOrderSpec) (domain.SubmitResult, error) {
	return f.submitResult, f.submitErr
}

func (f *fakeGateway) OrderStatus(_ context.Context, _ string) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return domain.OrderState{}, errors.New("no scripted status")
	}
	s := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return s, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func testExecutor(gw domain.OrderGateway, cfg Config) *Executor {
	return New(gw, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastConfig() Config {
	return Config{
		PollInterval: time.Millisecond,
		FAKTimeout:   20 * time.Millisecond,
		FOKTimeout:   20 * time.Millisecond,
	}
}

func buySpec() domain.ReplicaOrderSpec {
	return domain.ReplicaOrderSpec{
		Asset:      "tok-1",
		Side:       domain.SideBuy,
		Size:       50,
		WorstPrice: 0.42,
		Kind:       domain.OrderKindFAK,
	}
}

func TestSynchronousFill(t *testing.T) {
	gw := &fakeGateway{
		submitResult: domain.SubmitResult{
			Success:       true,
			OrderID:       "ord-1",
			SyncFillSize:  50,
			SyncFillPrice: 0.41,
		},
	}

	res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
	if !res.Success {
		t.Fatalf("result not successful: %+v", res)
	}
	if res.ExecutedSize != 50 || res.ExecutedPrice != 0.41 {
		t.Errorf("fill = %v @ %v, want 50 @ 0.41", res.ExecutedSize, res.ExecutedPrice)
	}
	if gw.statusCalls != 0 {
		t.Errorf("status polled %d times after synchronous fill", gw.statusCalls)
	}
}

func TestPollUntilFilled(t *testing.T) {
	gw := &fakeGateway{
		submitResult: domain.SubmitResult{Success: true, OrderID: "ord-2"},
		statuses: []domain.OrderState{
			{Status: domain.OrderStatusNew, OriginalSize: 50},
			{Status: domain.OrderStatusPartiallyFilled, FilledSize: 20, OriginalSize: 50},
			{Status: domain.OrderStatusFilled, FilledSize: 50, OriginalSize: 50, AvgFillPrice: 0.415},
		},
	}

	res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
	if !res.Success {
		t.Fatalf("result not successful: %+v", res)
	}
	if res.ExecutedSize != 50 || res.ExecutedPrice != 0.415 {
		t.Errorf("fill = %v @ %v, want 50 @ 0.415", res.ExecutedSize, res.ExecutedPrice)
	}
	if gw.cancelCount() != 0 {
		t.Errorf("cancel issued on a filled order")
	}
}

func TestPartialFillTimeoutCancels(t *testing.T) {
	gw := &fakeGateway{
		submitResult: domain.SubmitResult{Success: true, OrderID: "ord-3"},
		statuses: []domain.OrderState{
			{Status: domain.OrderStatusPartiallyFilled, FilledSize: 10, OriginalSize: 50},
			{Status: domain.OrderStatusPartiallyFilled, FilledSize: 20, OriginalSize: 50},
			{Status: domain.OrderStatusPartiallyFilled, FilledSize: 30, OriginalSize: 50},
		},
	}

	res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
	if res.Success {
		t.Fatal("timed-out order reported as success")
	}
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if !errors.Is(res.Err, domain.ErrConfirmTimeout) {
		t.Errorf("err = %v, want ErrConfirmTimeout", res.Err)
	}
	if res.ExecutedSize != 0 {
		t.Errorf("executed size = %v on timeout, want 0", res.ExecutedSize)
	}
	if res.LastStatus != domain.OrderStatusPartiallyFilled || res.LastFilledSize != 30 {
		t.Errorf("last state = %s/%v, want PARTIALLY_FILLED/30", res.LastStatus, res.LastFilledSize)
	}
	if gw.cancelCount() != 1 {
		t.Errorf("cancel calls = %d, want 1", gw.cancelCount())
	}
}

func TestTerminalWithoutFill(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
		domain.OrderStatusRejected,
	} {
		t.Run(string(status), func(t *testing.T) {
			gw := &fakeGateway{
				submitResult: domain.SubmitResult{Success: true, OrderID: "ord-4"},
				statuses:     []domain.OrderState{{Status: status, OriginalSize: 50}},
			}

			res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
			if res.Success {
				t.Fatalf("%s order reported as success", status)
			}
			if res.TimedOut {
				t.Errorf("%s marked as timeout", status)
			}
			if res.LastStatus != status {
				t.Errorf("last status = %s, want %s", res.LastStatus, status)
			}
			if gw.cancelCount() != 0 {
				t.Errorf("cancel issued on already-terminal order")
			}
		})
	}
}

func TestSubmissionFailure(t *testing.T) {
	gw := &fakeGateway{submitErr: errors.New("clob unreachable")}

	res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
	if res.Success {
		t.Fatal("failed submission reported as success")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "clob unreachable") {
		t.Errorf("err = %v, want wrapped submission error", res.Err)
	}
}

func TestSubmissionRejected(t *testing.T) {
	gw := &fakeGateway{
		submitResult: domain.SubmitResult{Success: false, ErrorMessage: "insufficient balance"},
	}

	res := testExecutor(gw, fastConfig()).Execute(context.Background(), buySpec(), 0.40)
	if res.Success {
		t.Fatal("rejected submission reported as success")
	}
	if res.LastStatus != domain.OrderStatusRejected {
		t.Errorf("last status = %s, want REJECTED", res.LastStatus)
	}
	if gw.statusCalls != 0 {
		t.Errorf("status polled after rejection")
	}
}

func TestDryRunFillsAtReferencePrice(t *testing.T) {
	cfg := fastConfig()
	cfg.DryRun = true
	gw := &fakeGateway{submitErr: errors.New("gateway must not be touched")}

	res := testExecutor(gw, cfg).Execute(context.Background(), buySpec(), 0.40)
	if !res.Success {
		t.Fatalf("dry run not successful: %+v", res)
	}
	if res.ExecutedSize != 50 || res.ExecutedPrice != 0.40 {
		t.Errorf("fill = %v @ %v, want 50 @ 0.40", res.ExecutedSize, res.ExecutedPrice)
	}
	if res.OrderID == "" {
		t.Error("dry run order id missing")
	}
}

func TestContextCancelAbortsConfirmation(t *testing.T) {
	gw := &fakeGateway{
		submitResult: domain.SubmitResult{Success: true, OrderID: "ord-5"},
		statuses:     []domain.OrderState{{Status: domain.OrderStatusNew, OriginalSize: 50}},
	}
	cfg := fastConfig()
	cfg.FAKTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	res := testExecutor(gw, cfg).Execute(ctx, buySpec(), 0.40)
	if res.Success {
		t.Fatal("cancelled confirmation reported as success")
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
	if gw.cancelCount() != 1 {
		t.Errorf("cancel calls = %d, want 1", gw.cancelCount())
	}
}
