package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"time"

	"rovernet/internal/config"
	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/obs"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	rttPort      uint16
	rttReplyPort uint16
	rttHost      string
	rttCount     int
	rttTimeout   time.Duration
)

var rttCmd = &cobra.Command{
	Use:   "rtt",
	Short: "Measure message round trip time",
}

var rttServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Answer round trip probes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRTTServer(cmd.Context(), rttPort)
	},
}

var rttClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send probes to a server and report round trip times",
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := udp.ParseDestination(rttHost, rttPort)
		if err != nil {
			return err
		}
		stats, err := runRTTClient(cmd.Context(), cmd.OutOrStdout(), dest, rttReplyPort, rttCount, rttTimeout)
		if err != nil {
			return err
		}
		s := stats.Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "%d/%d replies, min %s avg %s max %s\n", s.Count, rttCount, s.Min, s.Avg, s.Max)
		return nil
	},
}

func init() {
	rttCmd.PersistentFlags().Uint16Var(&rttPort, "port", config.DefaultRTTPort, "Server port")

	rttClientCmd.Flags().StringVar(&rttHost, "host", "127.0.0.1", "Server host")
	rttClientCmd.Flags().Uint16Var(&rttReplyPort, "reply-port", config.DefaultRTTReplyPort, "Local port replies are sent to")
	rttClientCmd.Flags().IntVar(&rttCount, "count", 5, "Number of probes")
	rttClientCmd.Flags().DurationVar(&rttTimeout, "timeout", 10*time.Second, "Time to wait for each reply")

	rttCmd.AddCommand(rttServerCmd, rttClientCmd)
}

// rttServer answers probes on the address they came from, at the port they ask for.
type rttServer struct {
	conn    udp.Conn
	senders map[netip.AddrPort]*message.Sender
}

func (s *rttServer) reply(v messages.RTT, from netip.AddrPort) {
	if v.ReplyPort == 0 {
		return
	}
	dest := netip.AddrPortFrom(from.Addr(), v.ReplyPort)
	sender, ok := s.senders[dest]
	if !ok {
		var err error
		sender, err = message.NewSender(s.conn, dest)
		if err != nil {
			logs.Errorf("rtt: sender for %s, err: %+v", dest, err)
			return
		}
		s.senders[dest] = sender
	}
	v.ReplyPort = 0
	if err := messages.Send(sender, v); err != nil {
		logs.Errorf("rtt: reply to %s, err: %+v", dest, err)
	}
}

// serveRTT binds port and answers probes until ctx is done. ready, when set,
// receives the bound port.
func serveRTT(ctx context.Context, port uint16, ready func(uint16)) error {
	conn, err := udp.Listen(ctx, udp.Options{Port: port})
	if err != nil {
		return err
	}
	srv := &rttServer{conn: conn, senders: make(map[netip.AddrPort]*message.Sender)}

	reg := messages.NewRegistry()
	messages.MustRegister[messages.RTT](reg, srv.reply, func(err error) {
		logs.Errorf("rtt: bad probe, err: %+v", err)
	})
	receiver, err := message.NewReceiver(conn, reg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := receiver.Open(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	if ready != nil {
		ready(udp.LocalPort(conn))
	}
	<-ctx.Done()
	_ = receiver.Close()
	receiver.Wait()
	return nil
}

func runRTTServer(ctx context.Context, port uint16) error {
	return serveRTT(ctx, port, func(bound uint16) {
		logs.Infof("rtt: server listening on %d", bound)
	})
}

func runRTTClient(ctx context.Context, out io.Writer, dest netip.AddrPort, replyPort uint16, count int, timeout time.Duration) (*obs.LatencyStats, error) {
	if count <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "count must be > 0")
	}
	conn, err := udp.Listen(ctx, udp.Options{Port: replyPort})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	replyPort = udp.LocalPort(conn)

	replies := make(chan messages.RTT, count)
	reg := messages.NewRegistry()
	messages.MustRegister[messages.RTT](reg, func(v messages.RTT, _ netip.AddrPort) {
		select {
		case replies <- v:
		default:
		}
	}, nil)
	receiver, err := message.NewReceiver(conn, reg)
	if err != nil {
		return nil, err
	}
	if err := receiver.Open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		_ = receiver.Close()
		receiver.Wait()
	}()

	sender, err := message.NewSender(conn, dest)
	if err != nil {
		return nil, err
	}

	ids := obs.NewSequenceGenerator(uint64(time.Now().UnixNano()))
	stats := &obs.LatencyStats{}
	for i := 0; i < count; i++ {
		probe := messages.RTT{ID: uint32(ids.Next()), ReplyPort: replyPort, SentUnixNano: time.Now().UnixNano()}
		if err := messages.Send(sender, probe); err != nil {
			return stats, err
		}
		rtt, err := awaitReply(ctx, replies, probe.ID, timeout)
		if err != nil {
			if errors.Is(err, exception.ErrReplyTimeout) {
				fmt.Fprintf(out, "probe %d: timeout after %s\n", i+1, timeout)
				continue
			}
			return stats, err
		}
		stats.Observe(rtt)
		fmt.Fprintf(out, "probe %d: %s\n", i+1, rtt)
	}
	return stats, nil
}

// awaitReply waits for the reply to probe id. Late replies to earlier probes are skipped.
func awaitReply(ctx context.Context, replies <-chan messages.RTT, id uint32, timeout time.Duration) (time.Duration, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case v := <-replies:
			if v.ID != id {
				continue
			}
			return time.Since(time.Unix(0, v.SentUnixNano)), nil
		case <-timer.C:
			return 0, exception.ErrReplyTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
