// Package stream 将远端补全调用逐步产出的文本片段聚合为可直接渲染的全量快照。
package stream

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultThreshold 为默认的刷新阈值：每个片段都触发一次快照。
	DefaultThreshold = 1
	// DefaultSentinel 为补全源失败时下发的占位文本。
	DefaultSentinel = "Error generating response."
)

// Fragment 是补全源按序产出的一个文本片段。
// Err 非空表示补全源在此处失败，Text 将被忽略。
type Fragment struct {
	Text string
	Err  error
}

// Snapshot 是一次聚合操作到目前为止的全量文本。
type Snapshot struct {
	Content string // 已累积的完整内容（Failed 时为占位文本）
	Seq     int    // 从 1 开始的下发序号
	Failed  bool   // 是否为补全源失败后的占位快照
	Err     error  // Failed 时对应的源错误
}

// Outcome 描述一次聚合操作的结束方式。
type Outcome int

const (
	// Completed 表示补全源正常结束。
	Completed Outcome = iota
	// Failed 表示补全源报告了错误，已下发占位快照。
	Failed
	// Canceled 表示调用方放弃了本次操作。
	Canceled
)

// String 返回便于日志输出的结果名称。
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result 是聚合结束后的汇总。
type Result struct {
	Content string  // 最后一次下发的快照内容；Canceled 时为已下发部分
	Outcome Outcome // 结束方式
	Err     error   // Failed 时为源错误，Canceled 时为 ctx.Err()
	Emitted int     // 实际下发的快照数量（含占位快照）
}

// Options 控制聚合行为。
type Options struct {
	Threshold int
	Sentinel  string
	Logger    *zap.Logger
}

// Option 是设置 Options 的函数。
type Option func(*Options)

// WithThreshold 设置刷新阈值，非正值回退为 DefaultThreshold。
func WithThreshold(n int) Option {
	return func(o *Options) {
		o.Threshold = n
	}
}

// WithSentinel 设置失败占位文本，空串回退为 DefaultSentinel。
func WithSentinel(text string) Option {
	return func(o *Options) {
		o.Sentinel = text
	}
}

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Stream 是一次进行中的聚合操作。
// Snapshots 按长度严格递增的顺序下发，结束后关闭；Wait 在关闭后返回汇总。
type Stream struct {
	snapshots chan Snapshot
	done      chan struct{}
	result    Result
}

// Snapshots 返回快照通道。通道只能被消费一次。
func (s *Stream) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Wait 阻塞直到聚合结束并返回汇总。
// 调用方必须先排干 Snapshots（或取消 ctx），否则聚合协程会阻塞在下发上。
func (s *Stream) Wait() Result {
	<-s.done
	return s.result
}

// Accumulate 启动一次聚合：按序读取 src，缓冲到阈值后下发全量快照。
//
// 流程图：
//
//	[读取片段] --ctx取消--> [停止读取, Canceled]
//	     |
//	 片段/错误/关闭?
//	  /     |      \
//	片段    错误     关闭
//	 |      |        |
//	[入缓冲] [先刷新缓冲] [缓冲非空则刷新]
//	 |      |        |
//	[满阈值?] [下发占位快照, Failed] [Completed]
//	 |
//	[刷新并下发]
func Accumulate(ctx context.Context, src <-chan Fragment, opts ...Option) *Stream {
	options := Options{Threshold: DefaultThreshold, Sentinel: DefaultSentinel}
	for _, o := range opts {
		if o != nil {
			o(&options)
		}
	}
	if options.Threshold <= 0 {
		options.Threshold = DefaultThreshold
	}
	if options.Sentinel == "" {
		options.Sentinel = DefaultSentinel
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	s := &Stream{
		snapshots: make(chan Snapshot),
		done:      make(chan struct{}),
	}
	a := &accumulator{ctx: ctx, out: s.snapshots, opts: options}
	go func() {
		defer close(s.done)
		defer close(s.snapshots)
		s.result = a.run(src)
	}()
	return s
}

// accumulator 持有单次操作的缓冲与快照，不与其他操作共享。
type accumulator struct {
	ctx      context.Context
	out      chan<- Snapshot
	opts     Options
	buffer   []string
	snapshot strings.Builder
	last     string
	emitted  int
}

func (a *accumulator) run(src <-chan Fragment) Result {
	for {
		select {
		case <-a.ctx.Done():
			return a.canceled()
		case frag, ok := <-src:
			if !ok {
				if len(a.buffer) > 0 && !a.flush() {
					return a.canceled()
				}
				return Result{Content: a.snapshot.String(), Outcome: Completed, Emitted: a.emitted}
			}
			if frag.Err != nil {
				return a.fail(frag.Err)
			}
			a.buffer = append(a.buffer, frag.Text)
			if len(a.buffer) >= a.opts.Threshold && !a.flush() {
				return a.canceled()
			}
		}
	}
}

// flush 将缓冲并入快照并下发，下发被取消时返回 false。
func (a *accumulator) flush() bool {
	for _, part := range a.buffer {
		a.snapshot.WriteString(part)
	}
	n := len(a.buffer)
	a.buffer = a.buffer[:0]
	a.opts.Logger.Debug("buffer flushed",
		zap.Int("fragments", n),
		zap.Int("length", a.snapshot.Len()))
	return a.emit(Snapshot{Content: a.snapshot.String()})
}

// fail 先刷新已收到的片段，再下发唯一的占位快照。
func (a *accumulator) fail(err error) Result {
	a.opts.Logger.Warn("completion source failed", zap.Error(err), zap.Int("received", a.snapshot.Len()))
	if len(a.buffer) > 0 && !a.flush() {
		return a.canceled()
	}
	if !a.emit(Snapshot{Content: a.opts.Sentinel, Failed: true, Err: err}) {
		return a.canceled()
	}
	return Result{Content: a.opts.Sentinel, Outcome: Failed, Err: err, Emitted: a.emitted}
}

func (a *accumulator) emit(snap Snapshot) bool {
	snap.Seq = a.emitted + 1
	select {
	case a.out <- snap:
		a.emitted++
		if !snap.Failed {
			a.last = snap.Content
		}
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *accumulator) canceled() Result {
	return Result{Content: a.last, Outcome: Canceled, Err: a.ctx.Err(), Emitted: a.emitted}
}
