package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Channel) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []string
	for {
		d, ok, err := c.Next(ctx)
		if !ok {
			return got, err
		}
		got = append(got, d)
	}
}

func TestChannel_FIFOAndTextMatchesDeltas(t *testing.T) {
	c := New(2) // small buffer forces the writer to wait on the reader
	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("d%02d ", i)
	}

	go func() {
		for _, d := range want {
			if err := c.Append(d); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
		c.Close()
	}()

	got, err := drain(t, c)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, strings.Join(want, ""), c.Text())
	require.Equal(t, Closed, c.State())
	require.Equal(t, len(want), c.Count())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestChannel_ClosedIsImmutable(t *testing.T) {
	c := New(0)
	require.NoError(t, c.Append("a"))
	require.NoError(t, c.Append(""))
	c.Close()

	require.ErrorIs(t, c.Append("b"), ErrClosed)
	c.Close()
	c.Fail(errors.New("late"))
	c.Cancel()

	require.Equal(t, "a", c.Text())
	require.Equal(t, Closed, c.State())
	require.NoError(t, c.Err())
}

func TestChannel_FailKeepsDeliveredDeltas(t *testing.T) {
	c := New(0)
	boom := errors.New("upstream 503")
	require.NoError(t, c.Append("par"))
	require.NoError(t, c.Append("tial"))
	c.Fail(boom)

	got, err := drain(t, c)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"par", "tial"}, got)
	require.Equal(t, "partial", c.Text())
	require.Equal(t, Failed, c.State())
}

func TestChannel_CancelUnblocksWriter(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Append("fills buffer"))

	errc := make(chan error, 1)
	go func() { errc <- c.Append("blocks") }()

	// Give the writer a moment to block on the full buffer.
	time.Sleep(20 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("writer deadlocked after cancel")
	}

	// The writer can still reach its own terminal call.
	c.Close()
	require.Equal(t, Cancelled, c.State())
	require.ErrorIs(t, c.Append("more"), ErrCancelled)
	require.Equal(t, "fills buffer", c.Text())

	_, ok, err := c.Next(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestChannel_CancelRaceKeepsTextConsistent(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := New(1)
		require.NoError(t, c.Append("a"))

		var accepted []string
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, d := range []string{"b", "c", "d"} {
				if err := c.Append(d); err != nil {
					if !errors.Is(err, ErrCancelled) {
						t.Errorf("append %q: %v", d, err)
					}
					return
				}
				accepted = append(accepted, d)
			}
		}()

		// Let the reader take one delta so the writer races the cancel.
		_, ok, err := c.Next(context.Background())
		require.True(t, ok)
		require.NoError(t, err)
		c.Cancel()
		frozen := c.Text()
		<-done

		require.Equal(t, "a"+strings.Join(accepted, ""), c.Text())
		require.Equal(t, frozen, c.Text(), "text changed after cancel")
		require.Equal(t, 1+len(accepted), c.Count())
	}
}

func TestChannel_NextHonoursContext(t *testing.T) {
	c := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := c.Next(ctx)
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Open, c.State())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "open", Open.String())
	require.Equal(t, "closed", Closed.String())
	require.Equal(t, "cancelled", Cancelled.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "unknown", State(42).String())
}
