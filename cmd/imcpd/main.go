// Command imcpd is the IMCP bus master daemon: it owns the RS-485 link,
// assigns addresses to joining clients, publishes inbound Data frames to
// Redis, and drains a Redis command list into outbound Set frames.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/usbharu/imcp/pkg/bus"
	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/link"
	"github.com/usbharu/imcp/pkg/node"
	"github.com/usbharu/imcp/pkg/redis"
	"github.com/usbharu/imcp/pkg/wire"
)

func main() {
	cmd := &cli.Command{
		Name:  "imcpd",
		Usage: "IMCP bus master daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "serial", Value: "/dev/ttyUSB0", Usage: "serial device path"},
			&cli.IntFlag{Name: "baud", Value: 115200, Usage: "serial baud rate"},
			&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", Usage: "redis server address"},
			&cli.StringFlag{Name: "redis-pass", Value: "", Usage: "redis password"},
			&cli.IntFlag{Name: "redis-db", Value: 0, Usage: "redis database number"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging instead of JSON"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug-level logging"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "imcpd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("pretty-log"), cmd.Bool("verbose"))

	redisClient, err := redis.New(cmd.String("redis-addr"), cmd.String("redis-pass"), int(cmd.Int("redis-db")))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()
	bridge := bus.NewBridge(redisClient)

	baud := int(cmd.Int("baud"))
	transport, err := link.OpenSerial(cmd.String("serial"), baud, nil)
	if err != nil {
		return fmt.Errorf("open serial: %w", err)
	}
	defer transport.Close()

	master := node.NewMaster(make([]byte, 1024), make([]byte, wire.MaxPayloadSize+frame.HeaderLen+frame.ChecksumLen))

	log.Info().Str("serial", cmd.String("serial")).Int("baud", baud).Msg("imcpd starting")

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return readLoop(ctx, transport, master, bridge) })
	g.Go(func() error { return writeLoop(ctx, transport, master, bridge) })

	<-ctx.Done()
	log.Info().Msg("imcpd shutting down")
	return g.Wait()
}

func readLoop(ctx context.Context, t *link.SerialTransport, n *node.Node, b *bus.Bridge) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		nread, err := t.Read(buf)
		if err != nil {
			log.Warn().Err(err).Msg("serial read error")
			continue
		}
		if nread == 0 {
			continue
		}

		f, tickErr := n.ReadTick(buf[:nread])
		if tickErr != nil {
			log.Warn().Err(tickErr).Msg("imcp read tick error")
			continue
		}
		if f == nil {
			continue
		}
		handleInbound(*f, b)
	}
}

func handleInbound(f frame.Frame, b *bus.Bridge) {
	switch f.Payload.Type {
	case wire.Data:
		if err := b.PublishData(f.From, f.Payload.Bytes); err != nil {
			log.Warn().Err(err).Str("from", f.From.String()).Msg("publish data failed")
		}
	case wire.Join:
		log.Info().Uint32("id", f.Payload.JoinID).Msg("client joined")
	default:
		log.Debug().Str("type", f.Payload.Type.String()).Str("from", f.From.String()).Msg("frame received")
	}
}

func writeLoop(ctx context.Context, t *link.SerialTransport, n *node.Node, b *bus.Bridge) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cmd, err := b.WatchCommands(500 * time.Millisecond)
		if err != nil {
			log.Warn().Err(err).Msg("watch commands failed")
		}
		if cmd != nil {
			queued := n.Send(frame.New(wire.UnicastAddr(cmd.Address), wire.UnicastAddr(wire.Master), frame.SetPayload(encodeCommandValue(cmd))))
			if !queued {
				log.Warn().Str("op", cmd.Op).Msg("dropped command: outbound slot busy")
			}
		}

		out := make([]byte, 256)
		wrote, tickErr := n.WriteTick(out)
		if tickErr != nil {
			log.Warn().Err(tickErr).Msg("imcp write tick error")
			continue
		}
		if !wrote {
			continue
		}
		if _, err := t.Write(out); err != nil {
			log.Warn().Err(err).Msg("serial write error")
		}
	}
}

func encodeCommandValue(cmd *bus.Command) []byte {
	if len(cmd.Value) > 0 {
		return cmd.Value
	}
	return []byte{0x00}
}

func initLog(pretty, verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
