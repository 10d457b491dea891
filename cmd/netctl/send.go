package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/pkg/udp"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
)

var (
	sendTo   string
	sendFrom string
	sendDump bool
)

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send a text message to a node (the rover by default)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := resolveDestination(sendTo)
		if err != nil {
			return err
		}
		text := messages.Text{From: sendFrom, Body: strings.Join(args, " ")}
		if sendDump {
			datagram, err := frameMessage(text)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(datagram))
			return nil
		}
		if err := sendText(cmd.Context(), dest, text); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(text.Body), dest)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Destination host:port (default: rover endpoint from config)")
	sendCmd.Flags().StringVar(&sendFrom, "from", "netctl", "Sender name carried in the message")
	sendCmd.Flags().BoolVar(&sendDump, "dump", false, "Print the framed datagram instead of sending it")
}

func resolveDestination(to string) (netip.AddrPort, error) {
	if to == "" {
		return cfg.Rover.AddrPort()
	}
	dest, err := netip.ParseAddrPort(to)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "destination %q", to)
	}
	return udp.Normalize(dest), nil
}

func sendText(ctx context.Context, dest netip.AddrPort, text messages.Text) error {
	conn, err := udp.Listen(ctx, udp.Options{})
	if err != nil {
		return err
	}
	defer conn.Close()

	var sendErr error
	sender, err := message.NewSender(conn, dest, message.WithErrorHandler(func(err error) { sendErr = err }))
	if err != nil {
		return err
	}
	if err := messages.Send(sender, text); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sender.Wait(ctx); err != nil {
		return errors.Wrap(err, "flush")
	}
	return sendErr
}

// frameMessage builds the datagram a sender would emit for m alone.
func frameMessage(m messages.Message) ([]byte, error) {
	payload, err := messages.Encode(m)
	if err != nil {
		return nil, err
	}
	return message.Append(nil, m.MessageType(), payload)
}
