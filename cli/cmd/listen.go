package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/adapter"
	"github.com/justapithecus/tproto/adapter/redis"
	"github.com/justapithecus/tproto/adapter/webhook"
	"github.com/justapithecus/tproto/archive"
	"github.com/justapithecus/tproto/cli/config"
	"github.com/justapithecus/tproto/frame"
	"github.com/justapithecus/tproto/iox"
	"github.com/justapithecus/tproto/log"
	"github.com/justapithecus/tproto/metrics"
	"github.com/justapithecus/tproto/runtime"
	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/transport"
)

// DefaultListenAddr is used when neither --addr nor listen.address is set.
const DefaultListenAddr = "127.0.0.1:7400"

// ListenCommand returns the listen command.
// It accepts connections until SIGINT/SIGTERM and relays every packet
// to the log and any configured adapter and archive.
func ListenCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "Listen address",
			Value:   DefaultListenAddr,
		},
		&cli.BoolFlag{
			Name:  "self-signed",
			Usage: "Serve TLS with an ephemeral self-signed certificate",
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "QUIC idle timeout",
			Value: transport.DefaultIdleTimeout,
		},
		&cli.IntFlag{
			Name:  "max-conns",
			Usage: "Maximum concurrent connections (0 = unlimited)",
		},

		// Session
		&cli.StringFlag{
			Name:  "checksum-policy",
			Usage: "On checksum mismatch: deliver, drop, or close",
			Value: string(session.ChecksumDeliver),
		},
		&cli.IntFlag{
			Name:  "read-buffer",
			Usage: "Bytes per transport read",
			Value: session.DefaultReadBuffer,
		},
		&cli.IntFlag{
			Name:  "max-payload-size",
			Usage: "Reject frames declaring a larger payload",
			Value: frame.DefaultMaxPayloadSize,
		},

		// Adapter
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Relay adapter: redis or webhook",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Redis URL or webhook endpoint",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
			Value: redis.DefaultChannel,
		},
		&cli.BoolFlag{
			Name:  "adapter-channel-per-conn",
			Usage: "Publish each connection on <channel>:<conn_id>",
		},
		&cli.StringFlag{
			Name:  "adapter-encoding",
			Usage: "Event encoding: json or msgpack",
			Value: string(adapter.EncodingJSON),
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout (0 = adapter default)",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Retry attempts per publish",
			Value: webhook.DefaultRetries,
		},

		// Archive
		&cli.StringFlag{
			Name:  "archive-backend",
			Usage: "Archive backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "archive-path",
			Usage: "Directory (fs) or bucket/prefix (s3)",
		},
		&cli.StringFlag{
			Name:  "archive-dataset",
			Usage: "Archive dataset ID",
			Value: archive.DefaultDataset,
		},
		&cli.IntFlag{
			Name:  "archive-flush-count",
			Usage: "Records buffered per archive write",
			Value: archive.DefaultFlushCount,
		},
	}
	flags = append(flags, transportFlags()...)

	return &cli.Command{
		Name:   "listen",
		Usage:  "Accept connections and relay received packets",
		Flags:  flags,
		Action: listenAction,
	}
}

func listenAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	netw, err := network(c, cfg.Listen.Transport)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	selfSigned := c.Bool("self-signed") || cfg.TLS.SelfSigned
	files := tlsFiles(c, cfg.TLS)
	tlsConf, err := buildTLS(files, netw, selfSigned, true)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	sessCfg, err := sessionConfig(c, cfg.Session)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	logger, err := newLogger(c, cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer iox.DiscardErr(logger.Sync)
	if tlsConf != nil && files.CertFile == "" {
		logger.Sugar().Warnf("serving an ephemeral self-signed %s certificate valid for 24h; dialers need --tls-insecure", netw)
	}

	// SIGUSR1 dumps the in-memory counters to stderr.
	inmem := gometrics.NewInmemSink(10*time.Second, time.Minute)
	sig := gometrics.DefaultInmemSignal(inmem)
	defer sig.Stop()
	collector := metrics.NewCollector(netw, inmem)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sinks, err := buildSinks(ctx, c, cfg, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	ln, err := transport.Listen(ctx, transport.Config{
		Network:     netw,
		Address:     stringFlag(c, "addr", cfg.Listen.Address),
		TLS:         tlsConf,
		IdleTimeout: durationFlag(c, "idle-timeout", cfg.Listen.IdleTimeout),
	})
	if err != nil {
		closeSinks(sinks)
		return cli.Exit(fmt.Sprintf("listen: %v", err), exitError)
	}

	srv := runtime.NewServer(ln, runtime.Config{
		Session:  sessCfg,
		MaxConns: intFlag(c, "max-conns", cfg.Listen.MaxConns),
	}, sinks, logger, collector)

	logger.Info("relay configured", map[string]any{
		"tls":             tlsConf != nil,
		"checksum_policy": string(sessCfg.ChecksumPolicy),
		"sinks":           sinkNames(sinks),
	})

	serveErr := srv.Serve(ctx)

	snap := collector.Snapshot()
	logger.Info("shutdown", map[string]any{
		"conn_accepted":     snap.ConnAccepted,
		"packets_delivered": snap.PacketsDelivered,
		"packets_dropped":   snap.PacketsDropped,
		"checksum_failures": snap.ChecksumFailures,
		"frame_errors":      snap.FrameErrors,
		"publish_failure":   snap.PublishFailure,
		"archive_failure":   snap.ArchiveFailure,
	})

	if serveErr != nil {
		return cli.Exit(fmt.Sprintf("serve: %v", serveErr), exitError)
	}
	return nil
}

// sessionConfig merges session flags over the config file.
func sessionConfig(c *cli.Context, fromConfig config.SessionConfig) (session.Config, error) {
	policy, err := session.ParseChecksumPolicy(stringFlag(c, "checksum-policy", fromConfig.ChecksumPolicy))
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		ReadBuffer:     intFlag(c, "read-buffer", fromConfig.ReadBuffer),
		ChecksumPolicy: policy,
		Limits: frame.Limits{
			MaxPayloadSize: intFlag(c, "max-payload-size", fromConfig.MaxPayloadSize),
			MaxFieldSize:   fromConfig.MaxFieldLength,
		},
	}, nil
}

// buildSinks assembles the sink chain: the log sink always, then the
// adapter and archive when configured. On error, sinks already built are closed.
func buildSinks(ctx context.Context, c *cli.Context, cfg *config.Config, logger *log.Logger, collector *metrics.Collector) ([]runtime.Sink, error) {
	sinks := []runtime.Sink{runtime.NewLogSink(logger)}

	a, kind, err := buildAdapter(c, cfg.Adapter)
	if err != nil {
		return nil, err
	}
	if a != nil {
		sinks = append(sinks, runtime.NewAdapterSink(kind, a, collector))
	}

	arc, err := buildArchive(ctx, c, cfg.Archive)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}
	if arc != nil {
		sinks = append(sinks, runtime.NewArchiveSink(arc, collector))
	}
	return sinks, nil
}

// buildAdapter returns nil when no adapter type is configured.
func buildAdapter(c *cli.Context, fromConfig config.AdapterConfig) (adapter.Adapter, string, error) {
	kind := stringFlag(c, "adapter", fromConfig.Type)
	if kind == "" {
		return nil, "", nil
	}

	url := stringFlag(c, "adapter-url", fromConfig.URL)
	encoding := adapter.Encoding(stringFlag(c, "adapter-encoding", fromConfig.Encoding))
	timeout := durationFlag(c, "adapter-timeout", fromConfig.Timeout)
	retries := c.Int("adapter-retries")
	if !c.IsSet("adapter-retries") && fromConfig.Retries != nil {
		retries = *fromConfig.Retries
	}

	switch kind {
	case "redis":
		a, err := redis.New(redis.Config{
			URL:            url,
			Channel:        stringFlag(c, "adapter-channel", fromConfig.Channel),
			ChannelPerConn: c.Bool("adapter-channel-per-conn") || fromConfig.ChannelPerConn,
			Encoding:       encoding,
			Timeout:        timeout,
			Retries:        retries,
		})
		if err != nil {
			return nil, "", err
		}
		return a, kind, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:      url,
			Headers:  fromConfig.Headers,
			Encoding: encoding,
			Timeout:  timeout,
			Retries:  retries,
		})
		if err != nil {
			return nil, "", err
		}
		return a, kind, nil
	default:
		return nil, "", fmt.Errorf("invalid adapter %q (must be redis or webhook)", kind)
	}
}

// buildArchive returns nil when no archive backend is configured.
func buildArchive(ctx context.Context, c *cli.Context, fromConfig config.ArchiveConfig) (*archive.Archive, error) {
	backend := stringFlag(c, "archive-backend", fromConfig.Backend)
	if backend == "" {
		return nil, nil
	}

	path := stringFlag(c, "archive-path", fromConfig.Path)
	if path == "" {
		return nil, fmt.Errorf("--archive-path is required for backend %q", backend)
	}
	arcCfg := archive.Config{
		Dataset:    stringFlag(c, "archive-dataset", fromConfig.Dataset),
		FlushCount: intFlag(c, "archive-flush-count", fromConfig.FlushCount),
	}

	switch backend {
	case "fs":
		return archive.NewFS(arcCfg, path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(path)
		return archive.NewS3(ctx, arcCfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       fromConfig.Region,
			Endpoint:     fromConfig.Endpoint,
			UsePathStyle: fromConfig.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("invalid archive backend %q (must be fs or s3)", backend)
	}
}

func closeSinks(sinks []runtime.Sink) {
	for _, s := range sinks {
		_ = s.Close(context.Background())
	}
}

func sinkNames(sinks []runtime.Sink) []string {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}
