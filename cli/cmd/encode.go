package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/iox"
	"github.com/justapithecus/tproto/packet"
)

// EncodeCommand returns the encode command.
// It writes the wire bytes of one packet to stdout or --out.
func EncodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode a payload as T-Protocol wire bytes",
		ArgsUsage: "<payload|->",
		Flags: append(charsetFlags(),
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write to file instead of stdout (appends)",
			},
		),
		Action: encodeAction,
	}
}

func encodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one payload argument required (use - for stdin)", exitError)
	}

	payload, err := readPayloadArg(c, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	p, err := buildPacket(c, payload, c.Uint64("seq"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	out := c.App.Writer
	if path := c.String("out"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("open %s: %v", path, err), exitError)
		}
		defer iox.DiscardClose(f)
		out = f
	}

	if _, err := p.WriteTo(out); err != nil {
		return cli.Exit(fmt.Sprintf("write packet: %v", err), exitError)
	}
	return nil
}

// readPayloadArg returns arg as bytes, or stdin when arg is "-".
func readPayloadArg(c *cli.Context, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// buildPacket encodes payload using --charset, transcoding when --text is set.
func buildPacket(c *cli.Context, payload []byte, seq uint64) (*packet.Packet, error) {
	charset := c.String("charset")
	if c.Bool("text") {
		return packet.EncodeText(string(payload), charset, seq)
	}
	return packet.Encode(payload, charset, seq)
}
