package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/cli/render"
	"github.com/justapithecus/tproto/frame"
	"github.com/justapithecus/tproto/iox"
	"github.com/justapithecus/tproto/packet"
)

// PacketView is one decoded packet as reported by inspect.
type PacketView struct {
	SequenceIndex uint64 `json:"seq" yaml:"seq"`
	Charset       string `json:"charset" yaml:"charset"`
	PayloadLength int    `json:"payload_length" yaml:"payload_length"`
	Checksum      string `json:"checksum" yaml:"checksum"`
	Verified      bool   `json:"verified" yaml:"verified"`
	Text          string `json:"text,omitempty" yaml:"text,omitempty"`
	Payload       []byte `json:"payload" yaml:"payload"`
}

func newPacketView(p *packet.Packet) PacketView {
	v := PacketView{
		SequenceIndex: p.SequenceIndex,
		Charset:       p.Charset,
		PayloadLength: p.PayloadLength,
		Checksum:      p.Checksum,
		Verified:      p.Verify(),
		Payload:       p.Payload,
	}
	if text, err := p.Text(); err == nil {
		v.Text = text
	}
	return v
}

// InspectCommand returns the inspect command.
// Inspect decodes a captured byte stream and reports every packet in it.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Decode T-Protocol frames from a file or stdin",
		ArgsUsage: "[file|-]",
		Flags: []cli.Flag{
			FormatFlag,
			&cli.IntFlag{
				Name:  "chunk",
				Usage: "Feed the assembler in chunks of this many bytes (0 = whole reads)",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit 3 if any packet fails checksum verification",
			},
			&cli.IntFlag{
				Name:  "max-payload-size",
				Usage: "Reject frames declaring a larger payload",
				Value: frame.DefaultMaxPayloadSize,
			},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	in, closeIn, err := openInput(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer closeIn()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	asm := frame.NewAssemblerWithLimits(frame.Limits{MaxPayloadSize: c.Int("max-payload-size")})
	views, feedErr := inspectStream(iox.ChunkReader(in, c.Int("chunk")), asm)

	if err := r.Render(views); err != nil {
		return cli.Exit(fmt.Sprintf("render: %v", err), exitError)
	}

	var fe *frame.FrameError
	switch {
	case errors.As(feedErr, &fe):
		return cli.Exit(feedErr.Error(), exitFrame)
	case feedErr != nil:
		return cli.Exit(feedErr.Error(), exitError)
	case asm.Buffered() > 0:
		return cli.Exit(fmt.Sprintf("truncated frame: %d trailing bytes", asm.Buffered()), exitFrame)
	}

	if c.Bool("strict") {
		for _, v := range views {
			if !v.Verified {
				return cli.Exit(fmt.Sprintf("checksum mismatch at sequence index %d", v.SequenceIndex), exitIntegrity)
			}
		}
	}
	return nil
}

// inspectStream feeds in to asm until EOF or a frame error, collecting
// the packets completed along the way.
func inspectStream(in io.Reader, asm *frame.Assembler) ([]PacketView, error) {
	views := []PacketView{}
	buf := make([]byte, 32*1024)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			feedErr := asm.Feed(buf[:n])
			for _, p := range asm.Drain() {
				views = append(views, newPacketView(p))
			}
			if feedErr != nil {
				return views, feedErr
			}
		}
		if errors.Is(readErr, io.EOF) {
			return views, nil
		}
		if readErr != nil {
			return views, fmt.Errorf("read input: %w", readErr)
		}
	}
}

// openInput returns the file named by the first argument, or stdin when
// the argument is absent or "-".
func openInput(c *cli.Context) (io.Reader, func(), error) {
	path := c.Args().First()
	if path == "" || path == "-" {
		in := c.App.Reader
		if in == nil {
			in = os.Stdin
		}
		return in, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { iox.DiscardClose(f) }, nil
}
