package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strings"

	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/recorder"
	"rovernet/internal/stream"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
)

var (
	replayDir         string
	replayPrefix      string
	replaySpeed       float64
	replayChannel     string
	replayInboundOnly bool
	replayNoChecksum  bool
	replayTo          string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Play back a datagram capture, decoded or re-sent to a destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := parseChannel(replayChannel)
		if err != nil {
			return err
		}
		pcfg := recorder.PlaybackConfig{
			Dir:             replayDir,
			FilePrefix:      replayPrefix,
			Speed:           replaySpeed,
			Channel:         channel,
			InboundOnly:     replayInboundOnly,
			DisableChecksum: replayNoChecksum,
		}
		if replayTo != "" {
			dest, err := resolveDestination(replayTo)
			if err != nil {
				return err
			}
			return resend(cmd.Context(), cmd.OutOrStdout(), pcfg, dest)
		}
		return replayDecode(cmd.Context(), cmd.OutOrStdout(), pcfg)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Capture directory")
	replayCmd.Flags().StringVar(&replayPrefix, "prefix", "", "Capture file prefix (default: capture)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	replayCmd.Flags().StringVar(&replayChannel, "channel", "all", "Channel to play: message, stream or all")
	replayCmd.Flags().BoolVar(&replayInboundOnly, "inbound-only", false, "Skip datagrams the node sent")
	replayCmd.Flags().BoolVar(&replayNoChecksum, "no-checksum", false, "Disable checksum validation")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "Re-send datagrams to host:port instead of decoding them")
	_ = replayCmd.MarkFlagRequired("dir")
}

func parseChannel(s string) (recorder.Channel, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return recorder.ChannelUnknown, nil
	case "message":
		return recorder.ChannelMessage, nil
	case "stream":
		return recorder.ChannelStream, nil
	default:
		return recorder.ChannelUnknown, errors.Wrapf(exception.ErrInvalidArgument, "channel %q", s)
	}
}

func direction(rec recorder.Record) string {
	if rec.Outbound() {
		return "out"
	}
	return "in"
}

// replayDecode prints every message and reassembles stream sections into frames.
func replayDecode(ctx context.Context, out io.Writer, pcfg recorder.PlaybackConfig) error {
	pb, err := recorder.NewPlayback(pcfg)
	if err != nil {
		return err
	}

	frames := make(map[int]int)
	streams := stream.NewReceiver(nil, stream.WithFrameHandler(func(id int) { frames[id]++ }))
	if err := streams.CreateStreams(cfg.Video.Streams, cfg.Video.BufferSize, cfg.Video.BufferLevel); err != nil {
		return err
	}

	var messageCount, sectionCount, malformed int
	count, err := pb.Run(ctx, func(rec recorder.Record, payload []byte) error {
		switch rec.Channel {
		case recorder.ChannelMessage:
			n, whole := message.Decode(payload, func(t message.Type, body []byte) {
				fmt.Fprintf(out, "%d %s %-3s %s %s %d bytes\n",
					rec.Seq, rec.Time.Format("15:04:05.000000"), direction(rec), rec.Remote, messages.TypeName(t), len(body))
			})
			messageCount += n
			if !whole {
				malformed++
			}
		case recorder.ChannelStream:
			sectionCount++
			if !rec.Outbound() {
				streams.HandleDatagram(payload)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d datagrams, %d messages, %d malformed, %d stream sections\n", count, messageCount, malformed, sectionCount)
	ids := make([]int, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "stream %d: %d complete frames\n", id, frames[id])
	}
	return nil
}

// resend re-sends captured datagrams unchanged.
func resend(ctx context.Context, out io.Writer, pcfg recorder.PlaybackConfig, dest netip.AddrPort) error {
	pb, err := recorder.NewPlayback(pcfg)
	if err != nil {
		return err
	}
	conn, err := udp.Listen(ctx, udp.Options{})
	if err != nil {
		return err
	}
	defer conn.Close()

	count, err := pb.Run(ctx, func(_ recorder.Record, payload []byte) error {
		if _, err := conn.WriteToUDPAddrPort(payload, dest); err != nil {
			return errors.Wrap(err, "resend").With("dest", dest.String())
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "re-sent %d datagrams to %s\n", count, dest)
	return nil
}
