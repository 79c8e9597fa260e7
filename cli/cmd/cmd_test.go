package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/cli/config"
	"github.com/justapithecus/tproto/frame"
	"github.com/justapithecus/tproto/packet"
	"github.com/justapithecus/tproto/runtime"
	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/transport"
	"github.com/justapithecus/tproto/types"
)

const helloWire = "T-Protocol:\r1\rutf-8\r5\r5d41402abc4b2a76b9719d911017c592\rhello\r"

// runApp runs the CLI with stdin and returns what the command wrote.
func runApp(t *testing.T, stdin string, extra []*cli.Command, args ...string) (string, error) {
	t.Helper()
	return runAppContext(t.Context(), stdin, extra, args...)
}

func runAppContext(ctx context.Context, stdin string, extra []*cli.Command, args ...string) (string, error) {
	var out bytes.Buffer
	app := &cli.App{
		Name:           "tproto",
		Reader:         strings.NewReader(stdin),
		Writer:         &out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: append([]*cli.Command{
			EncodeCommand(),
			InspectCommand(),
			SendCommand(),
			ListenCommand(),
			VersionCommand("abc123"),
		}, extra...),
	}
	err := app.RunContext(ctx, append([]string{"tproto"}, args...))
	return out.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func probe(flags []cli.Flag, action cli.ActionFunc) *cli.Command {
	return &cli.Command{Name: "probe", Flags: flags, Action: action}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func wireFor(t *testing.T, payload string, seq uint64) string {
	t.Helper()
	p, err := packet.Encode([]byte(payload), packet.DefaultCharset, seq)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return string(p.WireBytes())
}

func decodeViews(t *testing.T, out string) []PacketView {
	t.Helper()
	var views []PacketView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("output is not a packet list: %v\n%s", err, out)
	}
	return views
}

func TestEncode_HelloVector(t *testing.T) {
	out, err := runApp(t, "", nil, "encode", "hello")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if out != helloWire {
		t.Errorf("encode = %q, want %q", out, helloWire)
	}
}

func TestEncode_Stdin(t *testing.T) {
	out, err := runApp(t, "hello", nil, "encode", "-")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if out != helloWire {
		t.Errorf("encode = %q, want %q", out, helloWire)
	}
}

func TestEncode_TextTranscodes(t *testing.T) {
	out, err := runApp(t, "", nil, "encode", "--seq", "7", "--charset", "iso-8859-1", "--text", "café")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.HasPrefix(out, "T-Protocol:\r7\riso-8859-1\r4\r") {
		t.Errorf("header = %q, want seq 7, charset iso-8859-1, length 4", out)
	}
	if !strings.HasSuffix(out, "caf\xe9\r") {
		t.Errorf("payload = %q, want latin-1 bytes", out)
	}
}

func TestEncode_OutAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	for _, seq := range []string{"1", "2"} {
		if _, err := runApp(t, "", nil, "encode", "--seq", seq, "--out", path, "hi"); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := wireFor(t, "hi", 1) + wireFor(t, "hi", 2)
	if string(data) != want {
		t.Errorf("capture = %q, want %q", data, want)
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no payload", []string{"encode"}},
		{"two payloads", []string{"encode", "a", "b"}},
		{"charset with delimiter", []string{"encode", "--charset", "utf\r8", "a"}},
		{"unknown text charset", []string{"encode", "--text", "--charset", "no-such-charset", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, "", nil, tt.args...)
			if got := exitCode(err); got != exitError {
				t.Errorf("exit code = %d, want %d (err: %v)", got, exitError, err)
			}
		})
	}
}

func TestInspect_File(t *testing.T) {
	stream := wireFor(t, "alpha", 1) + wireFor(t, "", 2) + wireFor(t, "gamma", 3)
	path := writeFile(t, "stream.bin", stream)

	for _, chunk := range []string{"0", "1", "7"} {
		t.Run("chunk="+chunk, func(t *testing.T) {
			out, err := runApp(t, "", nil, "inspect", "--format", "json", "--chunk", chunk, path)
			if err != nil {
				t.Fatalf("inspect failed: %v", err)
			}
			views := decodeViews(t, out)
			if len(views) != 3 {
				t.Fatalf("len(views) = %d, want 3", len(views))
			}
			for i, want := range []string{"alpha", "", "gamma"} {
				v := views[i]
				if v.SequenceIndex != uint64(i+1) {
					t.Errorf("views[%d].SequenceIndex = %d, want %d", i, v.SequenceIndex, i+1)
				}
				if v.Text != want || string(v.Payload) != want {
					t.Errorf("views[%d] payload = %q, want %q", i, v.Payload, want)
				}
				if !v.Verified {
					t.Errorf("views[%d].Verified = false, want true", i)
				}
			}
		})
	}
}

func TestInspect_Stdin(t *testing.T) {
	out, err := runApp(t, helloWire, nil, "inspect", "--format", "json")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	views := decodeViews(t, out)
	if len(views) != 1 || views[0].Checksum != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("views = %+v, want the hello packet", views)
	}
}

func TestInspect_ChecksumMismatch(t *testing.T) {
	corrupt := strings.Replace(helloWire, "hello", "jello", 1)

	out, err := runApp(t, corrupt, nil, "inspect", "--format", "json")
	if err != nil {
		t.Fatalf("inspect without --strict failed: %v", err)
	}
	if views := decodeViews(t, out); len(views) != 1 || views[0].Verified {
		t.Errorf("views = %+v, want one unverified packet", views)
	}

	_, err = runApp(t, corrupt, nil, "inspect", "--strict")
	if got := exitCode(err); got != exitIntegrity {
		t.Errorf("exit code = %d, want %d", got, exitIntegrity)
	}
}

func TestInspect_FrameErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		args      []string
		wantViews int
	}{
		{"truncated", helloWire[:len(helloWire)-3], nil, 0},
		{"garbage after frame", helloWire + "garbage-garbage", nil, 1},
		{"bad length", "T-Protocol:\r1\rutf-8\rfive\r", nil, 0},
		{"too large", helloWire, []string{"--max-payload-size", "4"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"inspect", "--format", "json"}, tt.args...)
			out, err := runApp(t, tt.input, nil, args...)
			if got := exitCode(err); got != exitFrame {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, exitFrame, err)
			}
			if views := decodeViews(t, out); len(views) != tt.wantViews {
				t.Errorf("len(views) = %d, want %d", len(views), tt.wantViews)
			}
		})
	}
}

func TestInspect_MissingFile(t *testing.T) {
	_, err := runApp(t, "", nil, "inspect", filepath.Join(t.TempDir(), "absent.bin"))
	if got := exitCode(err); got != exitError {
		t.Errorf("exit code = %d, want %d", got, exitError)
	}
}

func TestSend_DeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	ln, err := transport.Listen(ctx, transport.Config{Network: types.TransportTCP, Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	type result struct {
		got []session.Delivery
		err error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := ln.Accept(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		var got []session.Delivery
		err = session.New(stream, types.ConnMeta{}, session.Config{}, nil, nil).Run(ctx,
			session.HandlerFunc(func(_ context.Context, d session.Delivery) error {
				got = append(got, d)
				return nil
			}))
		done <- result{got: got, err: err}
	}()

	out, err := runApp(t, "", nil, "send", "--format", "json", "--seq", "5", ln.Addr().String(), "a", "bb", "ccc")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var resp SendResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Packets != 3 || resp.Bytes != 6 || resp.FirstSeq != 5 {
		t.Errorf("response = %+v, want 3 packets, 6 bytes, first seq 5", resp)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("receiver failed: %v", res.err)
	}
	if len(res.got) != 3 {
		t.Fatalf("received %d packets, want 3", len(res.got))
	}
	for i, want := range []string{"a", "bb", "ccc"} {
		d := res.got[i]
		if d.Packet.SequenceIndex != uint64(5+i) || string(d.Packet.Payload) != want || !d.Verified {
			t.Errorf("delivery %d = seq %d %q verified=%v, want seq %d %q verified", i,
				d.Packet.SequenceIndex, d.Packet.Payload, d.Verified, 5+i, want)
		}
	}
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no address", []string{"send"}},
		{"no payload", []string{"send", "127.0.0.1:1"}},
		{"bad transport", []string{"send", "--transport", "udp", "127.0.0.1:1", "a"}},
		{"quic without tls", []string{"send", "--transport", "quic", "127.0.0.1:1", "a"}},
		{"connection refused", []string{"send", "--dial-timeout", "1s", "127.0.0.1:1", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, "", nil, tt.args...)
			if got := exitCode(err); got != exitError {
				t.Errorf("exit code = %d, want %d (err: %v)", got, exitError, err)
			}
		})
	}
}

func TestListen_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	_, err := runAppContext(ctx, "", nil, "listen",
		"--addr", "127.0.0.1:0",
		"--log-level", "error",
		"--archive-backend", "fs",
		"--archive-path", dir,
	)
	if err != nil {
		t.Fatalf("listen = %v, want clean shutdown", err)
	}
}

func TestListen_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad checksum policy", []string{"listen", "--checksum-policy", "ignore"}},
		{"bad log level", []string{"listen", "--log-level", "loud"}},
		{"bad transport", []string{"listen", "--transport", "sctp"}},
		{"unresolvable address", []string{"listen", "--addr", "256.0.0.1:0"}},
		{"missing config", []string{"listen", "--config", "/nonexistent/tproto.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, "", nil, tt.args...)
			if got := exitCode(err); got != exitError {
				t.Errorf("exit code = %d, want %d (err: %v)", got, exitError, err)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "", nil, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Version != types.Version || resp.Commit != "abc123" {
		t.Errorf("version = %+v, want %s/abc123", resp, types.Version)
	}
}

func TestFlagPrecedence(t *testing.T) {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: "default:1"},
		&cli.IntFlag{Name: "n", Value: 8},
		&cli.DurationFlag{Name: "d", Value: time.Second},
	}

	tests := []struct {
		name     string
		args     []string
		wantAddr string
		wantN    int
		wantD    time.Duration
	}{
		{"config wins over default", nil, "config:2", 16, time.Minute},
		{"flag wins over config", []string{"--addr", "flag:3", "--n", "32", "--d", "5s"}, "flag:3", 32, 5 * time.Second},
		{"explicit zero flag wins", []string{"--n", "0"}, "config:2", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var addr string
			var n int
			var d time.Duration
			cmd := probe(flags, func(c *cli.Context) error {
				addr = stringFlag(c, "addr", "config:2")
				n = intFlag(c, "n", 16)
				d = durationFlag(c, "d", config.Duration{Duration: time.Minute})
				return nil
			})
			if _, err := runApp(t, "", []*cli.Command{cmd}, append([]string{"probe"}, tt.args...)...); err != nil {
				t.Fatalf("probe failed: %v", err)
			}
			if addr != tt.wantAddr || n != tt.wantN || d != tt.wantD {
				t.Errorf("got (%q, %d, %v), want (%q, %d, %v)", addr, n, d, tt.wantAddr, tt.wantN, tt.wantD)
			}
		})
	}
}

func TestSessionConfig_MergesFile(t *testing.T) {
	path := writeFile(t, "tproto.yaml", `
session:
  checksum_policy: drop
  read_buffer: 128
  max_field_length: 64
`)

	var got session.Config
	cmd := probe(ListenCommand().Flags, func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		got, err = sessionConfig(c, cfg.Session)
		return err
	})
	if _, err := runApp(t, "", []*cli.Command{cmd}, "probe", "--config", path, "--read-buffer", "256"); err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	want := session.Config{
		ReadBuffer:     256,
		ChecksumPolicy: session.ChecksumDrop,
		Limits:         frame.Limits{MaxPayloadSize: frame.DefaultMaxPayloadSize, MaxFieldSize: 64},
	}
	if got != want {
		t.Errorf("sessionConfig = %+v, want %+v", got, want)
	}
}

func TestBuildSinks(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{"log only", nil, []string{"log"}, false},
		{
			"webhook and fs archive",
			[]string{"--adapter", "webhook", "--adapter-url", "http://127.0.0.1:1/hook", "--archive-backend", "fs", "--archive-path", dir},
			[]string{"log", "webhook", "archive"},
			false,
		},
		{"redis", []string{"--adapter", "redis", "--adapter-url", "redis://127.0.0.1:1"}, []string{"log", "redis"}, false},
		{"unknown adapter", []string{"--adapter", "kafka", "--adapter-url", "x"}, nil, true},
		{"adapter without url", []string{"--adapter", "webhook"}, nil, true},
		{"unknown backend", []string{"--archive-backend", "gcs", "--archive-path", dir}, nil, true},
		{"backend without path", []string{"--archive-backend", "fs"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sinks []runtime.Sink
			cmd := probe(ListenCommand().Flags, func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				sinks, err = buildSinks(c.Context, c, cfg, nil, nil)
				return err
			})
			_, err := runApp(t, "", []*cli.Command{cmd}, append([]string{"probe"}, tt.args...)...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildSinks failed: %v", err)
			}
			defer closeSinks(sinks)

			got := sinkNames(sinks)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("sinks = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildTLS(t *testing.T) {
	tests := []struct {
		name       string
		files      transport.TLSFiles
		network    string
		selfSigned bool
		listening  bool
		wantNil    bool
		wantCert   bool
		wantErr    bool
	}{
		{name: "plain tcp dial", network: types.TransportTCP, wantNil: true},
		{name: "plain tcp listen", network: types.TransportTCP, listening: true, wantNil: true},
		{name: "quic dial without tls", network: types.TransportQUIC, wantErr: true},
		{name: "quic listen self-signs", network: types.TransportQUIC, listening: true, wantCert: true},
		{name: "tcp listen self-signed", network: types.TransportTCP, selfSigned: true, listening: true, wantCert: true},
		{name: "insecure dial", files: transport.TLSFiles{InsecureSkipVerify: true}, network: types.TransportQUIC},
		{name: "listen without cert", files: transport.TLSFiles{InsecureSkipVerify: true}, network: types.TransportTCP, listening: true, wantErr: true},
		{name: "missing cert file", files: transport.TLSFiles{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}, network: types.TransportTCP, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := buildTLS(tt.files, tt.network, tt.selfSigned, tt.listening)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildTLS failed: %v", err)
			}
			if (conf == nil) != tt.wantNil {
				t.Fatalf("conf nil = %v, want %v", conf == nil, tt.wantNil)
			}
			if tt.wantCert && len(conf.Certificates) == 0 {
				t.Error("expected a server certificate")
			}
		})
	}
}
