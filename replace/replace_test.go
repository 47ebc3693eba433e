package replace_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/livebind"
	"github.com/creachadair/livebind/replace"
	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/mds/value"
	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"
)

func mustPush[T any](t *testing.T, r *livebind.Relay[T], v T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Push(ctx, v); err != nil {
		t.Fatalf("Push(%v): unexpected error: %v", v, err)
	}
}

func checkEmpty[T any](t *testing.T, c *livebind.Cell[T]) {
	t.Helper()
	if got := c.Get(); got.Present() {
		t.Errorf("Output: got %v, want empty", got.Get())
	}
}

func checkValue[T comparable](t *testing.T, c *livebind.Cell[T], want T) {
	t.Helper()
	got, ok := c.Get().GetOK()
	if !ok {
		t.Errorf("Output: got empty, want %v", want)
	} else if got != want {
		t.Errorf("Output: got %v, want %v", got, want)
	}
}

// waitFor polls c until ok reports true for its contents, failing t if that
// does not happen within a few seconds.
func waitFor[T any](t *testing.T, c *livebind.Cell[T], ok func(value.Maybe[T]) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !ok(c.Get()) {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for output, last %v", c.Get())
		}
		time.Sleep(time.Millisecond)
	}
}

// waitState polls c until it reports want, failing t if that does not happen
// within a few seconds.
func waitState[T, U any](t *testing.T, c *replace.Coordinator[T, U], want replace.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for state %v, last %v", want, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReplace(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[any]
	c := replace.New[any, any](&out)
	defer c.Close()

	r := livebind.NewRelay[any]()
	if s := c.State(); s != replace.Unbound {
		t.Errorf("State: got %v, want Unbound", s)
	}
	c.Bind(r, nil)
	checkEmpty(t, &out)
	if s := c.State(); s != replace.Awaiting {
		t.Errorf("State: got %v, want Awaiting", s)
	}

	mustPush(t, r, "foo")
	checkValue[any](t, &out, "foo")
	if s := c.State(); s != replace.Displaying {
		t.Errorf("State: got %v, want Displaying", s)
	}

	mustPush(t, r, "bar")
	checkValue[any](t, &out, "bar")

	// A nil value clears the output.
	mustPush(t, r, nil)
	checkEmpty(t, &out)
	if n := out.Updates(); n != 3 {
		t.Errorf("Updates: got %d, want 3", n)
	}
}

func TestNilClears(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[*string]
	c := replace.New[*string, *string](&out)
	defer c.Close()

	r := livebind.NewRelay[*string]()
	c.Bind(r, nil)

	foo := "foo"
	mustPush(t, r, &foo)
	checkValue(t, &out, &foo)

	// A nil pointer clears the output like a nil interface does.
	mustPush(t, r, nil)
	checkEmpty(t, &out)

	t.Run("Slice", func(t *testing.T) {
		var out livebind.Cell[int]
		c := replace.New[[]int, int](&out)
		defer c.Close()

		r := livebind.NewRelay[[]int]()
		c.Bind(r, func(v []int, _ int) int { return len(v) })
		mustPush(t, r, []int{})
		checkValue(t, &out, 0) // empty but not nil
		mustPush(t, r, nil)
		checkEmpty(t, &out)
	})
}

type ints []int

func TestIdentityConversion(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Named", func(t *testing.T) {
		var out livebind.Cell[ints]
		c := replace.New[[]int, ints](&out)
		defer c.Close()

		r := livebind.NewRelay[[]int]()
		c.Bind(r, nil)
		mustPush(t, r, []int{1, 2, 3})
		if got, ok := out.Get().GetOK(); !ok || !slices.Equal(got, ints{1, 2, 3}) {
			t.Errorf("Output: got %v, %v; want [1 2 3], true", got, ok)
		}
	})

	t.Run("Direction", func(t *testing.T) {
		var out livebind.Cell[<-chan int]
		c := replace.New[chan int, <-chan int](&out)
		defer c.Close()

		ch := make(chan int)
		r := livebind.NewRelay[chan int]()
		c.Bind(r, nil)
		mustPush(t, r, ch)
		checkValue(t, &out, (<-chan int)(ch))
	})

	t.Run("Interface", func(t *testing.T) {
		var out livebind.Cell[fmt.Stringer]
		c := replace.New[replace.State, fmt.Stringer](&out)
		defer c.Close()

		r := livebind.NewRelay[replace.State]()
		c.Bind(r, nil)
		mustPush(t, r, replace.Displaying)
		checkValue[fmt.Stringer](t, &out, replace.Displaying)
	})
}

func TestMapper(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r := livebind.NewRelay[string]()
	c.Bind(r, func(v string, i int) string { return fmt.Sprintf("%d: %s", i, v) })
	checkEmpty(t, &out)

	mustPush(t, r, "foo")
	checkValue(t, &out, "0: foo")
	mustPush(t, r, "bar")
	checkValue(t, &out, "1: bar")
}

func TestEmptyPredicate(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out, replace.WithEmpty(func(v any) bool { return v == "" }))
	defer c.Close()

	var calls int
	r := livebind.NewRelay[string]()
	c.Bind(r, func(v string, i int) string { calls++; return fmt.Sprintf("%d=%s", i, v) })

	mustPush(t, r, "a")
	checkValue(t, &out, "0=a")
	mustPush(t, r, "")
	checkEmpty(t, &out)
	mustPush(t, r, "b")
	checkValue(t, &out, "2=b") // empty elements still advance the index

	if calls != 2 {
		t.Errorf("Mapper calls: got %d, want 2", calls)
	}
}

func TestSupersede(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r1 := livebind.NewRelay[string]()
	c.Bind(r1, nil)
	mustPush(t, r1, "foo")
	checkValue(t, &out, "foo")

	// Binding a new sequence keeps the last value until it yields.
	r2 := livebind.NewRelay[string]()
	c.Bind(r2, nil)
	checkValue(t, &out, "foo")
	if s := c.State(); s != replace.Awaiting {
		t.Errorf("State: got %v, want Awaiting", s)
	}

	mustPush(t, r2, "hello")
	checkValue(t, &out, "hello")

	// Values from the superseded relay are consumed but not shown.
	mustPush(t, r1, "bar")
	checkValue(t, &out, "hello")

	mustPush(t, r2, "world")
	checkValue(t, &out, "world")
}

func TestSupersededEmptyIgnored(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[any]
	c := replace.New[any, any](&out)
	defer c.Close()

	r1, r2 := livebind.NewRelay[any](), livebind.NewRelay[any]()
	c.Bind(r1, nil)
	mustPush(t, r1, "foo")
	c.Bind(r2, nil)

	mustPush(t, r1, nil)
	checkValue[any](t, &out, "foo")
}

func TestRebindSame(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r := livebind.NewRelay[string]()
	index := func(v string, i int) string { return fmt.Sprintf("%d: %s", i, v) }
	c.Bind(r, index)

	// Rebinding while a push is in flight still delivers the value.
	done := make(chan error, 1)
	go func() { done <- r.Push(context.Background(), "hello") }()
	c.Bind(r, index)
	if err := <-done; err != nil {
		t.Fatalf("Push: unexpected error: %v", err)
	}
	checkValue(t, &out, "0: hello")

	go func() { done <- r.Push(context.Background(), "bar") }()
	c.Bind(r, nil) // the mapper of a redundant bind is ignored
	if err := <-done; err != nil {
		t.Fatalf("Push: unexpected error: %v", err)
	}

	// The index was not reset by the rebind.
	checkValue(t, &out, "1: bar")
}

func TestSetOverPending(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r := livebind.NewRelay[string]()
	c.Bind(r, nil)
	mustPush(t, r, "foo")
	checkValue(t, &out, "foo")

	c.Set("hello")
	checkValue(t, &out, "hello")
	if s := c.State(); s != replace.Unbound {
		t.Errorf("State: got %v, want Unbound", s)
	}

	mustPush(t, r, "bar")
	checkValue(t, &out, "hello")

	// Binding the same relay again starts a fresh subscription.
	c.Bind(r, nil)
	mustPush(t, r, "baz")
	checkValue(t, &out, "baz")

	c.Clear()
	checkEmpty(t, &out)
}

func TestRebindPendingPull(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r := livebind.NewRelay[string]()
	c.Bind(r, nil)
	mustPush(t, r, "foo")

	// Supersede the relay while its consumer is still waiting, then bind it
	// again before anything is pushed. The pending pull serves the new
	// subscription, and its index starts over.
	c.Set("hello")
	c.Bind(r, func(v string, i int) string { return fmt.Sprintf("%d: %s", i, v) })
	checkValue(t, &out, "hello")

	mustPush(t, r, "bar")
	checkValue(t, &out, "0: bar")
	mustPush(t, r, "baz")
	checkValue(t, &out, "1: baz")
}

func TestFirstValueReplaced(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	slow := livebind.After(20*time.Millisecond, "slow")
	fast := livebind.After(10*time.Millisecond, "fast")
	c.Bind(slow, nil)
	c.Bind(fast, nil)

	waitFor(t, &out, value.Maybe[string].Present)
	checkValue(t, &out, "fast")

	// Wait for the slow sequence to yield and be discarded.
	time.Sleep(30 * time.Millisecond)
	checkValue(t, &out, "fast")
	if n := out.Updates(); n != 1 {
		t.Errorf("Updates: got %d, want 1", n)
	}
}

func TestConcurrentProducers(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[int]
	c := replace.New[int, int](&out)
	defer c.Close()

	// Each round binds a fresh channel and drains it from a separate goroutine.
	const n = 50
	var wg sync.WaitGroup
	for round := range 5 {
		ch := make(chan int)
		c.Bind(livebind.FromChan(ch), nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(ch)
			for i := range n {
				ch <- round*n + i
			}
		}()
		wg.Wait()

		last := round*n + n - 1
		waitFor(t, &out, func(m value.Maybe[int]) bool { return m.Present() && m.Get() == last })
	}
	if got := out.Updates(); got != 5*n {
		t.Errorf("Updates: got %d, want %d", got, 5*n)
	}
}

type failSeq struct{ err error }

func (f *failSeq) Next(context.Context) (string, error) { return "", f.err }

func TestSequenceFailure(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	r := livebind.NewRelay[string]()
	c.Bind(r, nil)
	mustPush(t, r, "ok")

	testErr := errors.New("broken")
	c.Bind(&failSeq{err: testErr}, nil)
	waitFor(t, &out, func(value.Maybe[string]) bool { return out.Err() != nil })
	if err := out.Err(); !errors.Is(err, testErr) {
		t.Errorf("Err: got %v, want %v", err, testErr)
	}
	checkValue(t, &out, "ok") // a failure does not change the output
}

// gateSeq fails with err once gate is closed.
type gateSeq struct {
	gate chan struct{}
	err  error
}

func (g *gateSeq) Next(ctx context.Context) (string, error) {
	select {
	case <-g.gate:
		return "", g.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSupersededFailure(t *testing.T) {
	defer leaktest.Check(t)()

	var logs syncBuffer
	var out livebind.Cell[string]
	c := replace.New[string, string](&out, replace.WithLogger(zerolog.New(&logs)))
	defer c.Close()

	g := &gateSeq{gate: make(chan struct{}), err: errors.New("broken")}
	c.Bind(g, nil)

	r := livebind.NewRelay[string]()
	c.Bind(r, nil)
	mustPush(t, r, "ok")

	// The failure of a superseded sequence is logged, not reported to the sink.
	close(g.gate)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logs.String(), "sequence failed") {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for failure log:\n%s", logs.String())
		}
		time.Sleep(time.Millisecond)
	}
	if text := logs.String(); !strings.Contains(text, `"active":false`) || !strings.Contains(text, "broken") {
		t.Errorf("Failure log missing fields:\n%s", text)
	}
	if err := out.Err(); err != nil {
		t.Errorf("Err: got %v, want nil", err)
	}
	checkValue(t, &out, "ok")
	if s := c.State(); s != replace.Displaying {
		t.Errorf("State: got %v, want Displaying", s)
	}
}

func TestSequenceDone(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)
	defer c.Close()

	ch := make(chan string, 2)
	ch <- "one"
	ch <- "two"
	close(ch)
	seq := livebind.FromChan(ch)
	c.Bind(seq, nil)

	waitFor(t, &out, func(m value.Maybe[string]) bool { return m.Or("").Get() == "two" })
	if err := out.Err(); err != nil {
		t.Errorf("Err: got %v, want nil", err)
	}

	// Once the sequence ends nothing is subscribed, but the output remains and
	// binding the same sequence again is still a no-op.
	waitState(t, c, replace.Unbound)
	c.Bind(seq, nil)
	if s := c.State(); s != replace.Unbound {
		t.Errorf("State after rebind: got %v, want Unbound", s)
	}
	checkValue(t, &out, "two")

	t.Run("Empty", func(t *testing.T) {
		var out livebind.Cell[string]
		c := replace.New[string, string](&out)
		defer c.Close()

		ch := make(chan string)
		close(ch)
		c.Bind(livebind.FromChan(ch), nil)
		waitState(t, c, replace.Unbound)
		checkEmpty(t, &out)
	})
}

func TestClose(t *testing.T) {
	defer leaktest.Check(t)()

	var out livebind.Cell[string]
	c := replace.New[string, string](&out)

	r := livebind.NewRelay[string]()
	c.Bind(r, nil)
	c.Close()
	c.Close() // safe to repeat

	mtest.MustPanicf(t, func() { c.Bind(r, nil) }, "Bind after Close should panic")
	checkEmpty(t, &out)
}

func TestBindChecks(t *testing.T) {
	var out livebind.Cell[string]
	c := replace.New[int, string](&out)
	defer c.Close()

	mtest.MustPanicf(t, func() { c.Bind(livebind.NewRelay[int](), nil) },
		"Bind without a mapper should panic for int to string")
	mtest.MustPanicf(t, func() { c.Bind(nil, nil) }, "Bind with a nil sequence should panic")
	if s := c.State(); s != replace.Unbound {
		t.Errorf("State: got %v, want Unbound", s)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    replace.State
		want string
	}{
		{replace.Unbound, "Unbound"},
		{replace.Awaiting, "Awaiting"},
		{replace.Displaying, "Displaying"},
		{replace.State(9), "State(9)"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("String(%d): got %q, want %q", int(tc.s), got, tc.want)
		}
	}
}
