// Command imcpctl is a small toolbox around the frame codec and parser:
// pack builds a single encoded frame from flags, unpack decodes hex-encoded
// frames from stdin or --data, and watch streams decoded frames off a live
// serial port.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	serialport "go.bug.st/serial"

	"github.com/usbharu/imcp/pkg/frame"
	"github.com/usbharu/imcp/pkg/parser"
	"github.com/usbharu/imcp/pkg/wire"
)

func main() {
	cmd := &cli.Command{
		Name:                   "imcpctl",
		Usage:                  "pack, unpack and watch IMCP frames",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "more logging; repeat for more (-v info, -vv debug, -vvv trace)"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := zerolog.WarnLevel
			switch v := cmd.Count("verbose"); {
			case v >= 3:
				level = zerolog.TraceLevel
			case v == 2:
				level = zerolog.DebugLevel
			case v == 1:
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
			return ctx, nil
		},
		Commands: []*cli.Command{packCommand(), unpackCommand(), watchCommand()},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "imcpctl: %v\n", err)
		os.Exit(1)
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "build an encoded frame from flags and print it as hex",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "from", Required: true, Usage: "from address (0-255)"},
			&cli.IntFlag{Name: "to", Usage: "to address (0-255), required unless --broadcast"},
			&cli.BoolFlag{Name: "broadcast", Usage: "send to the broadcast address"},
			&cli.StringFlag{Name: "packet-type", Aliases: []string{"p"}, Required: true,
				Usage: "ping|pong|ack|join|set-address|data|set"},
			&cli.IntFlag{Name: "id", Usage: "join/set-address id"},
			&cli.IntFlag{Name: "address", Usage: "ack/set-address acknowledged or assigned address"},
			&cli.StringFlag{Name: "data", Usage: "hex-encoded payload for data/set"},
		},
		Action: runPack,
	}
}

func runPack(ctx context.Context, cmd *cli.Command) error {
	var to wire.Address
	switch {
	case cmd.Bool("broadcast"):
		to = wire.BroadcastAddr()
	case cmd.IsSet("to"):
		to = wire.UnicastAddr(byte(cmd.Int("to")))
	default:
		return fmt.Errorf("--to or --broadcast is required")
	}
	from := wire.UnicastAddr(byte(cmd.Int("from")))

	payload, err := packPayload(cmd)
	if err != nil {
		return err
	}

	f := frame.New(to, from, payload)
	buf := make([]byte, f.MaxEncodedLen())
	n, encErr := f.Encode(buf)
	if encErr != nil {
		return fmt.Errorf("encode: %w", encErr)
	}

	fmt.Println(hex.EncodeToString(buf[:n]))
	return nil
}

func packPayload(cmd *cli.Command) (frame.Payload, error) {
	switch cmd.String("packet-type") {
	case "ping":
		return frame.PingPayload(), nil
	case "pong":
		return frame.PongPayload(), nil
	case "ack":
		if !cmd.IsSet("address") {
			return frame.Payload{}, fmt.Errorf("--address is required for ack")
		}
		return frame.AckPayload(byte(cmd.Int("address"))), nil
	case "join":
		if !cmd.IsSet("id") {
			return frame.Payload{}, fmt.Errorf("--id is required for join")
		}
		return frame.JoinPayload(uint32(cmd.Int("id"))), nil
	case "set-address":
		if !cmd.IsSet("address") || !cmd.IsSet("id") {
			return frame.Payload{}, fmt.Errorf("--address and --id are required for set-address")
		}
		return frame.SetAddressPayload(byte(cmd.Int("address")), uint32(cmd.Int("id"))), nil
	case "data", "set":
		raw, err := hex.DecodeString(cmd.String("data"))
		if err != nil {
			return frame.Payload{}, fmt.Errorf("--data: %w", err)
		}
		if cmd.String("packet-type") == "data" {
			return frame.DataPayload(raw), nil
		}
		return frame.SetPayload(raw), nil
	default:
		return frame.Payload{}, fmt.Errorf("unknown packet type %q", cmd.String("packet-type"))
	}
}

func unpackCommand() *cli.Command {
	return &cli.Command{
		Name:  "unpack",
		Usage: "decode hex-encoded frames from --data or stdin, one per line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Usage: "a single hex-encoded frame"},
		},
		Action: runUnpack,
	}
}

func runUnpack(ctx context.Context, cmd *cli.Command) error {
	p := parser.New(make([]byte, 4096), make([]byte, 1024))

	if data := cmd.String("data"); data != "" {
		return unpackLine(data, p)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := unpackLine(line, p); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("unpack failed")
		}
	}
	return scanner.Err()
}

func unpackLine(hexLine string, p *parser.FrameParser) error {
	raw, err := hex.DecodeString(hexLine)
	if err != nil {
		return fmt.Errorf("hex decode: %w", err)
	}
	return drainFrames(raw, p, func(f frame.Frame) {
		fmt.Printf("%+v\n", f)
	})
}

func drainFrames(raw []byte, p *parser.FrameParser, onFrame func(frame.Frame)) error {
	if _, err := p.WriteData(raw); err != nil {
		return fmt.Errorf("parser buffer: %w", err)
	}
	for {
		f, derr := p.NextFrame()
		if derr != nil {
			log.Warn().Err(derr).Msg("decode error")
			continue
		}
		if f == nil {
			return nil
		}
		onFrame(*f)
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "stream decoded frames from a live serial port",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "serial port path, e.g. /dev/ttyUSB0"},
			&cli.IntFlag{Name: "baud", Aliases: []string{"b"}, Value: 9600, Usage: "baud rate"},
			&cli.BoolFlag{Name: "list", Aliases: []string{"l"}, Usage: "list available serial ports and exit"},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("list") {
		ports, err := serialport.GetPortsList()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	if cmd.String("port") == "" {
		return fmt.Errorf("--port is required")
	}

	mode := &serialport.Mode{BaudRate: int(cmd.Int("baud"))}
	port, err := serialport.Open(cmd.String("port"), mode)
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	defer port.Close()
	_ = port.SetReadTimeout(time.Second)

	log.Info().Str("port", cmd.String("port")).Int64("baud", cmd.Int("baud")).Msg("watching")

	p := parser.New(make([]byte, 4096), make([]byte, 1024))
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read port: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := drainFrames(buf[:n], p, func(f frame.Frame) {
			fmt.Printf("%+v\n", f)
		}); err != nil {
			log.Warn().Err(err).Msg("frame drain failed")
		}
	}
}
