package main

import (
	"context"
	"flag"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rovernet/internal/config"
	"rovernet/internal/health"
	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/node"
	"rovernet/pkg/udp"

	"github.com/yanun0323/logs"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON config")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath); err != nil {
		log.Fatalf("rover failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, configPath string) error {
	n, err := node.New(ctx, "rover", cfg, configPath)
	if err != nil {
		return err
	}
	defer n.Close()

	conn, err := n.Listen(ctx, udp.Options{Address: cfg.Interface, Port: cfg.Rover.Port})
	if err != nil {
		return err
	}
	base, err := cfg.BaseStation.AddrPort()
	if err != nil {
		return err
	}
	sender, err := message.NewSender(conn, base, n.SenderOptions()...)
	if err != nil {
		return err
	}
	n.AttachSender(sender)

	send := func(m messages.Message) {
		if err := messages.Send(sender, m); err != nil {
			n.ReportError(err)
		}
	}
	d := newDrive(func(level messages.LogLevel, msg string) {
		logs.Infof("rover: %s", msg)
		send(messages.Log{Level: level, Source: "drive", Message: msg, Time: time.Now()})
	})

	reg := messages.NewRegistry()
	messages.MustRegister[messages.Velocity](reg, func(v messages.Velocity, _ netip.AddrPort) {
		d.setVelocity(v)
	}, n.ReportError)
	messages.MustRegister[messages.Halt](reg, func(v messages.Halt, _ netip.AddrPort) {
		d.setHalt(v.Halt, "operator")
	}, n.ReportError)
	messages.MustRegister[messages.DriveMode](reg, func(v messages.DriveMode, _ netip.AddrPort) {
		d.setMode(v.Mode)
	}, n.ReportError)
	messages.MustRegister[messages.Arm](reg, func(v messages.Arm, _ netip.AddrPort) {
		logs.Infof("rover: arm joint %d movement %d", v.Joint, v.Movement)
	}, n.ReportError)
	messages.MustRegister[messages.Text](reg, func(v messages.Text, from netip.AddrPort) {
		logs.Infof("rover: message from %s (%s): %s", v.From, from, v.Body)
	}, n.ReportError)

	receiver, err := message.NewReceiver(conn, reg, n.ReceiverOptions()...)
	if err != nil {
		return err
	}
	if err := receiver.Open(ctx); err != nil {
		return err
	}
	n.Attach(receiver)

	n.Watch(health.NewLinkMonitor("basestation", receiver, cfg.LinkTimeout(), func(_, next health.State) {
		if next == health.StateLost {
			d.setHalt(true, "link lost")
		}
	}))

	started := time.Now()
	interval := cfg.PeriodicInterval()
	var lastDispatched uint64
	n.Every(interval, func() {
		dispatched := n.Metrics.Snapshot().MessagesDispatched
		rate := float32(dispatched-lastDispatched) / float32(interval.Seconds())
		lastDispatched = dispatched
		send(messages.Status{
			FixStatus:      messages.FixNone,
			TicksPerSecond: rate,
			UptimeMs:       uint32(time.Since(started).Milliseconds()),
		})
	})

	n.OnReload(func(prev, next config.Config) {
		if prev.BaseStation == next.BaseStation {
			return
		}
		dest, err := next.BaseStation.AddrPort()
		if err != nil {
			n.ReportError(err)
			return
		}
		sender.SetDestination(dest)
		logs.Infof("rover: base station moved to %s", dest)
	})

	logs.Infof("rover: listening on %d, reporting to %s", udp.LocalPort(conn), base)
	return n.Run(ctx)
}
