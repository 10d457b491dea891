// Package node wires the pieces every rover network process shares: sockets,
// the reactor loop, capture, impairment, archive, status endpoint and profiling.
package node

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"rovernet/internal/archive"
	"rovernet/internal/chaos"
	"rovernet/internal/config"
	"rovernet/internal/health"
	"rovernet/internal/message"
	"rovernet/internal/obs"
	"rovernet/internal/profiling"
	"rovernet/internal/reactor"
	"rovernet/internal/recorder"
	"rovernet/internal/schedule"
	"rovernet/internal/statusapi"
	"rovernet/internal/stream"
	"rovernet/pkg/conn"
	"rovernet/pkg/udp"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const (
	loopCapacity         = 1024
	listenAttempts       = 5
	configReloadInterval = 2 * time.Second
	runtimeReportEvery   = 30 * time.Second
	archiveTimeout       = 3 * time.Second
)

// Node is one running process of the rover network.
type Node struct {
	Name    string
	Session uuid.UUID
	Metrics *obs.Metrics
	Loop    *reactor.Loop
	Runtime *config.Runtime

	cfgPath string
	started time.Time

	capture    *recorder.Writer
	captureDir string
	pg         *conn.Client
	archive    *archive.Archive
	storing    atomic.Bool
	profiler   func()

	links    []*health.LinkMonitor
	streams  func() []stream.Status
	onReload []func(prev, next config.Config)

	mu        sync.Mutex
	conns     []udp.Conn
	receivers []receiver
	senders   []sender
}

type receiver interface {
	Close() error
	Wait()
}

type sender interface {
	Wait(ctx context.Context) error
}

// New prepares a node. cfgPath, when set, is watched for changes once Run starts.
func New(ctx context.Context, name string, cfg config.Config, cfgPath string) (*Node, error) {
	n := &Node{
		Name:    name,
		Session: uuid.New(),
		Metrics: obs.NewMetrics(),
		Loop:    reactor.NewLoop(loopCapacity, schedule.New()),
		Runtime: config.NewRuntime(cfg),
		cfgPath: cfgPath,
		started: time.Now(),
	}

	stop, err := profiling.Start(cfg.Profiling, name)
	if err != nil {
		return nil, err
	}
	n.profiler = stop

	if cfg.Capture.Enabled {
		w, err := recorder.NewWriter(cfg.Capture.Recorder())
		if err != nil {
			n.Close()
			return nil, errors.Wrap(err, "create capture writer")
		}
		if err := w.Start(ctx); err != nil {
			n.Close()
			return nil, errors.Wrap(err, "start capture writer")
		}
		n.capture = w
		n.captureDir = cfg.Capture.Dir
	}

	if cfg.Archive.Enabled {
		if err := n.openArchive(ctx, cfg.Archive); err != nil {
			n.Close()
			return nil, err
		}
	}

	logs.Infof("%s session %s started", name, n.Session)
	return n, nil
}

func (n *Node) openArchive(ctx context.Context, cfg config.Archive) error {
	client, err := conn.NewPostgres(conn.Option{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
	})
	if err != nil {
		return err
	}
	n.pg = client
	if err := client.Ping(ctx); err != nil {
		return err
	}
	n.archive = archive.New(client.DB())
	n.Session = n.archive.Session()
	return n.archive.Migrate(ctx)
}

// Config returns the current configuration.
func (n *Node) Config() config.Config {
	return n.Runtime.Load()
}

// Listen binds a socket, retrying while the port is busy. When impairment is
// configured the returned socket passes its writes through a chaos engine.
func (n *Node) Listen(ctx context.Context, opts udp.Options) (udp.Conn, error) {
	raw, err := udp.ListenRetry(ctx, opts, udp.DefaultBackoff(), listenAttempts)
	if err != nil {
		return nil, err
	}
	var c udp.Conn = raw
	if cfg := n.Config().Chaos; cfg.Enabled() {
		engine, err := chaos.NewEngine(cfg)
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		c = chaos.Wrap(raw, engine, n.ReportError)
		logs.Infof("%s: impairment on %s, drop %.2f dup %.2f reorder %d", n.Name, raw.LocalAddr(), cfg.DropRate, cfg.DuplicateRate, cfg.ReorderWindow)
	}

	n.mu.Lock()
	n.conns = append(n.conns, c)
	n.mu.Unlock()
	return c, nil
}

// ReportError logs transport errors that have no caller to return to.
func (n *Node) ReportError(err error) {
	if err == nil || errors.Is(err, context.Canceled) || udp.IsClosed(err) {
		return
	}
	logs.Errorf("%s: transport error, err: %+v", n.Name, err)
}

// SenderOptions configures a message sender of this node.
func (n *Node) SenderOptions(extra ...message.Option) []message.Option {
	opts := []message.Option{
		message.WithMetrics(n.Metrics),
		message.WithErrorHandler(n.ReportError),
	}
	if n.capture != nil {
		opts = append(opts, message.WithTap(n.capture.Tap(recorder.ChannelMessage, recorder.FlagOutbound)))
	}
	return append(opts, extra...)
}

// ReceiverOptions configures a message receiver whose handlers run on the loop.
func (n *Node) ReceiverOptions(extra ...message.Option) []message.Option {
	opts := []message.Option{
		message.WithMetrics(n.Metrics),
		message.WithErrorHandler(n.ReportError),
		message.WithDispatcher(n.Loop),
	}
	if n.capture != nil {
		opts = append(opts, message.WithTap(n.capture.Tap(recorder.ChannelMessage, 0)))
	}
	return append(opts, extra...)
}

// StreamOptions configures a stream sender or receiver of this node.
func (n *Node) StreamOptions(outbound bool, extra ...stream.Option) []stream.Option {
	opts := []stream.Option{
		stream.WithMetrics(n.Metrics),
		stream.WithErrorHandler(n.ReportError),
	}
	if n.capture != nil {
		var flags uint16
		if outbound {
			flags = recorder.FlagOutbound
		}
		opts = append(opts, stream.WithTap(n.capture.Tap(recorder.ChannelStream, flags)))
	}
	return append(opts, extra...)
}

// Attach makes Close stop r before the sockets and capture go away.
func (n *Node) Attach(r receiver) {
	n.mu.Lock()
	n.receivers = append(n.receivers, r)
	n.mu.Unlock()
}

// AttachSender makes Close wait for the pending flush of s.
func (n *Node) AttachSender(s sender) {
	n.mu.Lock()
	n.senders = append(n.senders, s)
	n.mu.Unlock()
}

// Watch adds a link to the periodic checks and status reports. Call before Run.
func (n *Node) Watch(link *health.LinkMonitor) {
	n.links = append(n.links, link)
}

// ReportStreams adds stream buffer state to status reports. Call before Run.
func (n *Node) ReportStreams(fn func() []stream.Status) {
	n.streams = fn
}

// OnReload runs fn on the loop after the config file changes. Call before Run.
func (n *Node) OnReload(fn func(prev, next config.Config)) {
	n.onReload = append(n.onReload, fn)
}

// Every schedules fn on the loop. Call before Run or from the loop.
func (n *Node) Every(interval time.Duration, fn func()) *schedule.Task {
	return n.Loop.Scheduler().Every(interval, func(*schedule.Task) { fn() })
}

// Run drives the node until ctx is done or the process is told to shut down.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-sys.Shutdown():
			logs.Infof("%s: shutdown requested", n.Name)
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg := n.Config()
	n.Every(cfg.PeriodicInterval(), func() {
		for _, l := range n.links {
			l.Check()
		}
	})

	var reporter obs.RuntimeReporter
	n.Every(runtimeReportEvery, reporter.Report)

	if n.archive != nil {
		n.Every(time.Duration(cfg.Archive.IntervalMs)*time.Millisecond, func() { n.storeSample(ctx) })
	}

	if n.cfgPath != "" {
		go n.Runtime.Watch(ctx, n.cfgPath, configReloadInterval, func(prev, next config.Config) {
			if err := n.Loop.Post(func() {
				for _, fn := range n.onReload {
					fn(prev, next)
				}
			}); err != nil {
				n.ReportError(errors.Wrap(err, "apply config reload"))
			}
		})
	}

	if addr := cfg.Status.Addr; addr != "" {
		src := statusapi.Source{
			Node:    n.Name,
			Session: n.Session.String(),
			Started: n.started,
			Metrics: n.Metrics,
			Links:   n.links,
			Streams: n.streams,
		}
		go func() {
			if err := statusapi.Run(ctx, addr, src); err != nil && !errors.Is(err, context.Canceled) {
				logs.Errorf("%s: status api on %s stopped, err: %+v", n.Name, addr, err)
			}
		}()
		logs.Infof("%s: status api on %s", n.Name, addr)
	}

	err := n.Loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) linkState() string {
	if len(n.links) == 0 {
		return health.StateUnknown.String()
	}
	return n.links[0].State().String()
}

// storeSample writes an archive row off the loop. A sample is skipped while
// the previous one is still being written.
func (n *Node) storeSample(ctx context.Context) {
	if !n.storing.CompareAndSwap(false, true) {
		return
	}
	report := obs.NewReport(n.Name, n.Session.String(), n.Metrics)
	link := n.linkState()
	go func() {
		defer n.storing.Store(false)
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		if err := n.archive.Store(ctx, link, report); err != nil {
			logs.Errorf("%s: archive sample, err: %+v", n.Name, err)
		}
	}()
}

// Close releases sockets, capture and database handles.
func (n *Node) Close() {
	n.Loop.Close()

	n.mu.Lock()
	conns, receivers, senders := n.conns, n.receivers, n.senders
	n.conns, n.receivers, n.senders = nil, nil, nil
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	for _, s := range senders {
		if err := s.Wait(ctx); err != nil {
			logs.Errorf("%s: flush on close, err: %+v", n.Name, err)
		}
	}
	cancel()
	for _, r := range receivers {
		_ = r.Close()
		r.Wait()
	}
	for _, c := range conns {
		if err := c.Close(); err != nil && !udp.IsClosed(err) {
			logs.Errorf("%s: close socket, err: %+v", n.Name, err)
		}
	}

	if n.capture != nil {
		if err := n.capture.Close(); err != nil {
			logs.Errorf("%s: close capture, err: %+v", n.Name, err)
		}
		logs.Infof("%s: captured %d datagrams, dropped %d", n.Name, n.capture.Written(), n.capture.Dropped())

		path := filepath.Join(n.captureDir, n.Name+"-report.json")
		if err := obs.WriteReport(path, obs.NewReport(n.Name, n.Session.String(), n.Metrics)); err != nil {
			logs.Errorf("%s: write report, err: %+v", n.Name, err)
		}
	}
	if n.pg != nil {
		if err := n.pg.Close(); err != nil {
			logs.Errorf("%s: close postgres, err: %+v", n.Name, err)
		}
	}
	if n.profiler != nil {
		n.profiler()
	}

	s := n.Metrics.Snapshot()
	logs.Infof("%s: datagrams in=%d out=%d messages sent=%d dispatched=%d frames sent=%d completed=%d",
		n.Name, s.DatagramsIn, s.DatagramsOut, s.MessagesSent, s.MessagesDispatched, s.FramesSent, s.FramesCompleted)
}
