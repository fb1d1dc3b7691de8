package chat

import (
	"context"
	"sync"

	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// fakeSource is a scripted CompletionSource.
type fakeSource struct {
	Fragments []string
	StreamErr error // reported after Fragments
	OpenErr   error // returned from Stream itself
	Block     bool  // keep the stream open until ctx is done
	Started   chan struct{}

	mu        sync.Mutex
	calls     []Request
	startOnce sync.Once
}

func (f *fakeSource) Stream(ctx context.Context, req Request) (<-chan stream.Fragment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.Started != nil {
		f.startOnce.Do(func() { close(f.Started) })
	}
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	out := make(chan stream.Fragment)
	go func() {
		defer close(out)
		send := func(frag stream.Fragment) bool {
			select {
			case out <- frag:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, text := range f.Fragments {
			if !send(stream.Fragment{Text: text}) {
				return
			}
		}
		if f.StreamErr != nil {
			send(stream.Fragment{Err: f.StreamErr})
			return
		}
		if f.Block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *fakeSource) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// recordSink keeps every rendered snapshot.
type recordSink struct {
	mu    sync.Mutex
	snaps []stream.Snapshot
	err   error
}

func (r *recordSink) Render(ctx context.Context, snap stream.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordSink) Contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Content)
	}
	return out
}
