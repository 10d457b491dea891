package main

import (
	"context"
	"flag"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"rovernet/internal/config"
	"rovernet/internal/health"
	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/node"
	"rovernet/internal/stream"
	"rovernet/pkg/udp"

	"github.com/yanun0323/logs"
)

const defaultQuality = 60

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config")
	framesDir := flag.String("frames-dir", "", "Directory of JPEG files to stream instead of a test pattern")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	var src frameSource = newPatternSource()
	if *framesDir != "" {
		files, err := loadFileSource(*framesDir)
		if err != nil {
			log.Fatalf("frames load failed: %v", err)
		}
		src = files
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, src); err != nil {
		log.Fatalf("camera failed: %v", err)
	}
}

// camera tracks per-stream settings. It is only touched on the loop.
type camera struct {
	streams []streamState
}

func newCamera(n int) *camera {
	c := &camera{streams: make([]streamState, n)}
	for i := range c.streams {
		c.streams[i].quality = defaultQuality
	}
	return c
}

func (c *camera) stream(id uint8) *streamState {
	if int(id) >= len(c.streams) {
		return nil
	}
	return &c.streams[id]
}

func (c *camera) setEnabled(id uint8, enabled bool) {
	if st := c.stream(id); st != nil && st.enabled != enabled {
		st.enabled = enabled
		logs.Infof("camera: stream %d enabled=%t", id, enabled)
	}
}

func (c *camera) setQuality(q messages.CameraQuality) {
	st := c.stream(q.Stream)
	if st == nil || q.JPEGQuality == 0 || q.JPEGQuality > 100 {
		return
	}
	if st.quality != q.JPEGQuality || st.greyscale != q.Greyscale {
		st.quality, st.greyscale = q.JPEGQuality, q.Greyscale
		logs.Infof("camera: stream %d quality %d greyscale=%t", q.Stream, q.JPEGQuality, q.Greyscale)
	}
}

func (c *camera) disableAll() {
	for i := range c.streams {
		c.setEnabled(uint8(i), false)
	}
}

func run(ctx context.Context, cfg config.Config, configPath string, src frameSource) error {
	n, err := node.New(ctx, "camera", cfg, configPath)
	if err != nil {
		return err
	}
	defer n.Close()

	cmdConn, err := n.Listen(ctx, udp.Options{Address: cfg.Interface, Port: cfg.Video.CommandPort})
	if err != nil {
		return err
	}
	cam := newCamera(cfg.Video.Streams)

	reg := messages.NewRegistry()
	messages.MustRegister[messages.CameraSwitch](reg, func(v messages.CameraSwitch, _ netip.AddrPort) {
		cam.setEnabled(v.Stream, v.Enabled)
	}, n.ReportError)
	messages.MustRegister[messages.CameraQuality](reg, func(v messages.CameraQuality, _ netip.AddrPort) {
		cam.setQuality(v)
	}, n.ReportError)

	receiver, err := message.NewReceiver(cmdConn, reg, n.ReceiverOptions()...)
	if err != nil {
		return err
	}
	if err := receiver.Open(ctx); err != nil {
		return err
	}
	n.Attach(receiver)
	n.Watch(health.NewLinkMonitor("basestation", receiver, cfg.LinkTimeout(), func(_, next health.State) {
		if next == health.StateLost {
			cam.disableAll()
		}
	}))

	dest, err := cfg.VideoDestination()
	if err != nil {
		return err
	}
	videoConn, err := n.Listen(ctx, udp.Options{Address: cfg.Interface, WriteBuffer: cfg.Video.BufferSize})
	if err != nil {
		return err
	}
	sender, err := stream.NewSender(videoConn, dest, cfg.Video.MaxSectionSize, n.StreamOptions(true)...)
	if err != nil {
		return err
	}
	if err := sender.CreateStreams(cfg.Video.Streams); err != nil {
		return err
	}

	n.Every(cfg.Video.FrameInterval(), func() {
		for id, st := range cam.streams {
			if !st.enabled {
				continue
			}
			if err := sender.SendFrame(id, src.next(id, st)); err != nil {
				n.ReportError(err)
			}
		}
	})

	n.OnReload(func(prev, next config.Config) {
		if prev.Video.Multicast == next.Video.Multicast && prev.Video.Group == next.Video.Group &&
			prev.Video.Port == next.Video.Port && prev.BaseStation.Host == next.BaseStation.Host {
			return
		}
		d, err := next.VideoDestination()
		if err != nil {
			n.ReportError(err)
			return
		}
		sender.SetDestination(d)
		logs.Infof("camera: streaming to %s", d)
	})

	logs.Infof("camera: commands on %d, %d streams to %s", udp.LocalPort(cmdConn), cfg.Video.Streams, dest)
	return n.Run(ctx)
}
