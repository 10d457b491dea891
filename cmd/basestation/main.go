package main

import (
	"context"
	"flag"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rovernet/internal/config"
	"rovernet/internal/health"
	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/node"
	"rovernet/internal/stream"
	"rovernet/pkg/udp"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const videoReportEvery = 5 * time.Second

type options struct {
	configPath string
	speed      float64
	angle      float64
	release    bool
	streams    []uint8
	quality    uint
	greyscale  bool
	dumpDir    string
}

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config")
	speed := flag.Float64("speed", 0, "Drive speed sent every periodic interval, [-1, 1]")
	angle := flag.Float64("angle", 0, "Drive angle sent every periodic interval, [-1, 1]")
	release := flag.Bool("release", true, "Release the rover drive halt at startup")
	streams := flag.String("streams", "0", "Comma separated camera streams to enable")
	quality := flag.Uint("quality", 60, "JPEG quality requested from the camera (1-100)")
	greyscale := flag.Bool("greyscale", false, "Request greyscale frames")
	dumpDir := flag.String("dump-dir", "", "Write the latest frame of each stream into this directory")
	flag.Parse()

	ids, err := parseStreams(*streams)
	if err != nil {
		log.Fatalf("invalid -streams: %v", err)
	}
	if *quality == 0 || *quality > 100 {
		log.Fatalf("invalid -quality: %d", *quality)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		configPath: *configPath,
		speed:      *speed,
		angle:      *angle,
		release:    *release,
		streams:    ids,
		quality:    *quality,
		greyscale:  *greyscale,
		dumpDir:    *dumpDir,
	}
	if err := run(ctx, cfg, opts); err != nil {
		log.Fatalf("basestation failed: %v", err)
	}
}

func parseStreams(s string) ([]uint8, error) {
	var ids []uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 8)
		if err != nil || id >= stream.MaxStreams {
			return nil, errors.Errorf("stream %q out of range", part)
		}
		ids = append(ids, uint8(id))
	}
	return ids, nil
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	n, err := node.New(ctx, "basestation", cfg, opts.configPath)
	if err != nil {
		return err
	}
	defer n.Close()

	conn, err := n.Listen(ctx, udp.Options{Address: cfg.Interface, Port: cfg.BaseStation.Port})
	if err != nil {
		return err
	}
	rover, err := cfg.Rover.AddrPort()
	if err != nil {
		return err
	}
	toRover, err := message.NewSender(conn, rover, n.SenderOptions()...)
	if err != nil {
		return err
	}
	n.AttachSender(toRover)

	camera, err := cfg.VideoCommandDestination()
	if err != nil {
		return err
	}
	toCamera, err := message.NewSender(conn, camera, n.SenderOptions()...)
	if err != nil {
		return err
	}
	n.AttachSender(toCamera)

	reg := messages.NewRegistry()
	messages.MustRegister[messages.Status](reg, func(v messages.Status, _ netip.AddrPort) {
		logs.Infof("basestation: rover up %s fix %d at %.6f,%.6f, %.1f ticks/s",
			time.Duration(v.UptimeMs)*time.Millisecond, v.FixStatus, v.Latitude, v.Longitude, v.TicksPerSecond)
	}, n.ReportError)
	messages.MustRegister[messages.Log](reg, func(v messages.Log, _ netip.AddrPort) {
		logs.Infof("basestation: rover [%s] %s: %s", v.Level, v.Source, v.Message)
	}, n.ReportError)
	messages.MustRegister[messages.Text](reg, func(v messages.Text, from netip.AddrPort) {
		logs.Infof("basestation: message from %s (%s): %s", v.From, from, v.Body)
	}, n.ReportError)
	messages.MustRegister[messages.SensorUpdate](reg, func(v messages.SensorUpdate, _ netip.AddrPort) {
		logs.Infof("basestation: sensor %d = %.3f at %d ms", v.Sensor, v.Value, v.TimestampMs)
	}, n.ReportError)

	receiver, err := message.NewReceiver(conn, reg, n.ReceiverOptions()...)
	if err != nil {
		return err
	}
	if err := receiver.Open(ctx); err != nil {
		return err
	}
	n.Attach(receiver)
	n.Watch(health.NewLinkMonitor("rover", receiver, cfg.LinkTimeout(), nil))

	video, err := openVideo(ctx, n, cfg, opts.dumpDir)
	if err != nil {
		return err
	}

	send := func(s *message.Sender, m messages.Message) {
		if err := messages.Send(s, m); err != nil {
			n.ReportError(err)
		}
	}
	if opts.release {
		send(toRover, messages.Halt{Halt: false})
	}
	n.Every(cfg.PeriodicInterval(), func() {
		send(toRover, messages.Velocity{Speed: float32(opts.speed), Angle: float32(opts.angle)})
		for _, id := range opts.streams {
			send(toCamera, messages.CameraSwitch{Stream: id, Enabled: true})
			send(toCamera, messages.CameraQuality{Stream: id, JPEGQuality: uint8(opts.quality), Greyscale: opts.greyscale})
		}
	})
	n.Every(videoReportEvery, video.report)

	n.OnReload(func(prev, next config.Config) {
		if prev.Rover != next.Rover {
			if dest, err := next.Rover.AddrPort(); err != nil {
				n.ReportError(err)
			} else {
				toRover.SetDestination(dest)
				logs.Infof("basestation: rover moved to %s", dest)
			}
		}
		if prev.Video.CameraHost != next.Video.CameraHost || prev.Video.CommandPort != next.Video.CommandPort {
			if dest, err := next.VideoCommandDestination(); err != nil {
				n.ReportError(err)
			} else {
				toCamera.SetDestination(dest)
				logs.Infof("basestation: camera moved to %s", dest)
			}
		}
	})

	logs.Infof("basestation: listening on %d, driving %s, camera commands to %s", udp.LocalPort(conn), rover, camera)
	return n.Run(ctx)
}

func openVideo(ctx context.Context, n *node.Node, cfg config.Config, dumpDir string) (*viewer, error) {
	conn, err := n.Listen(ctx, udp.Options{
		Port:       cfg.Video.Port,
		Multicast:  cfg.Video.Multicast,
		Group:      cfg.Video.Group,
		ReadBuffer: cfg.Video.BufferSize,
	})
	if err != nil {
		return nil, err
	}

	var v *viewer
	receiver := stream.NewReceiver(conn, n.StreamOptions(false, stream.WithFrameHandler(func(id int) {
		if err := n.Loop.Post(func() {
			if err := v.take(id); err != nil {
				n.ReportError(err)
			}
		}); err != nil {
			n.ReportError(errors.Wrap(err, "queue frame"))
		}
	}))...)
	v = newViewer(receiver, dumpDir)

	if err := receiver.CreateStreams(cfg.Video.Streams, cfg.Video.BufferSize, cfg.Video.BufferLevel); err != nil {
		return nil, err
	}
	if err := receiver.Open(ctx); err != nil {
		return nil, err
	}
	n.Attach(receiver)
	n.ReportStreams(receiver.Status)
	return v, nil
}
