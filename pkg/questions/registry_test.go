package questions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/relay/pkg/event"
)

func twoQuestions() []event.Question {
	return []event.Question{
		{ID: "q1", Text: "Which account?", Type: event.QuestionChoice, Options: []string{"acme", "globex"}},
		{ID: "q2", Text: "Anything else?", Type: event.QuestionText},
	}
}

func TestSubmitBeforeTimeout(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())
	defer r.Cleanup(g.ID())

	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := r.Submit(g.ID(), map[string]string{"q1": "acme", "q2": "no"}); err != nil {
			t.Errorf("submit failed: %v", err)
		}
	}()

	responses, err := r.Await(context.Background(), g, time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if responses["q1"] != "acme" || responses["q2"] != "no" {
		t.Errorf("unexpected responses: %v", responses)
	}
}

func TestSecondSubmitIsNoOp(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())
	defer r.Cleanup(g.ID())

	done := make(chan map[string]string, 1)
	go func() {
		responses, _ := r.Await(context.Background(), g, time.Second)
		done <- responses
	}()

	time.Sleep(10 * time.Millisecond)
	if err := r.Submit(g.ID(), map[string]string{"q1": "acme"}); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := r.Submit(g.ID(), map[string]string{"q1": "globex"}); err != nil {
		t.Fatalf("second submit should be a no-op, got: %v", err)
	}

	responses := <-done
	if responses["q1"] != "acme" {
		t.Errorf("first submission must win, got %v", responses)
	}
}

func TestAwaitTimeout(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())
	defer r.Cleanup(g.ID())

	_, err := r.Await(context.Background(), g, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// A late submission must be a no-op, not an error.
	if err := r.Submit(g.ID(), map[string]string{"q1": "late"}); err != nil {
		t.Errorf("late submit should be a no-op: %v", err)
	}
}

func TestSubmitUnknownGroup(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Submit("nope", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupRemovesGroup(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())

	if got := len(r.Pending()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	r.Cleanup(g.ID())
	if got := len(r.Pending()); got != 0 {
		t.Fatalf("pending after cleanup = %d, want 0", got)
	}
	if err := r.Submit(g.ID(), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("submit after cleanup should be ErrNotFound, got %v", err)
	}
}

func TestAwaitCancelledRun(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())
	defer r.Cleanup(g.ID())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Await(ctx, g, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentSubmitExclusivity(t *testing.T) {
	r := NewRegistry(0)
	g := r.CreateGroup(twoQuestions())
	defer r.Cleanup(g.ID())

	done := make(chan map[string]string, 1)
	go func() {
		responses, _ := r.Await(context.Background(), g, time.Second)
		done <- responses
	}()

	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Submit(g.ID(), map[string]string{"q1": "winner"})
		}(i)
	}
	wg.Wait()

	responses := <-done
	if responses == nil {
		t.Fatal("exactly one submission should have resolved the group")
	}
}
