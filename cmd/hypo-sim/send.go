package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/frame"
	"github.com/callzhang/hypo/internal/config"
	"github.com/callzhang/hypo/keystore"
)

const defaultText = "Test clipboard from hypo-sim"

// clientFactory builds the sending client. Tests replace it.
var clientFactory = func(local hypo.Device, r hypo.KeyResolver, opts ...hypo.Option) (sender, error) {
	return hypo.NewClient(local, r, opts...)
}

// sender is the part of *hypo.Client that send uses.
type sender interface {
	Connect(ctx context.Context, url string) error
	Send(ctx context.Context, p *hypo.ClipboardPayload, to hypo.Recipient) (*hypo.SyncEnvelope, error)
	SendPlaintext(ctx context.Context, p *hypo.ClipboardPayload, target *string) (*hypo.SyncEnvelope, error)
	Receive(ctx context.Context) (*hypo.Message, error)
	Close() error
}

func runSend(ctx context.Context, args []string, cfg *Config) error {
	set := newFlagSet("send", "Seal one clipboard item and send it to the peer over LAN or the relay.", cfg)
	text := set.String("text", defaultText, "text to send")
	image := set.String("image", "", "image file to send, - for stdin")
	link := set.String("link", "", "URL to send as a link")
	format := set.String("format", "", "image format (default: file extension)")
	target := set.String("target", "", "target device id (default: peer)")
	broadcast := set.Bool("broadcast", false, "send without a target")
	noWait := set.Bool("no-wait", false, "do not wait for a reply")
	output := set.String("output", "", "append the framed envelope to this file (- for stdout) instead of connecting")

	conf, err := parse(set, args, cfg)
	if err != nil {
		return err
	}

	payload, err := buildPayload(cfg, *text, *image, *link, *format)
	if err != nil {
		return err
	}

	logger := conf.Logger(cfg.Stderr)
	store, err := conf.KeyStore()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	if *output != "" {
		return writeCapture(cfg, conf, logger, store, payload, destination(conf, *target, *broadcast), *output)
	}

	client, err := clientFactory(conf.Local(), keystore.NewResolver(store, keystore.WithLogger(logger)), conf.ClientOptions(logger)...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()

	url := conf.URL()
	if err := client.Connect(ctx, url); err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	logger.Info("connected", slog.String("url", url), slog.String("mode", conf.Transport.Mode))

	to := destination(conf, *target, *broadcast)
	var env *hypo.SyncEnvelope
	if conf.Plaintext {
		env, err = client.SendPlaintext(ctx, payload, to)
	} else {
		env, err = client.Send(ctx, payload, hypo.Recipient{KeyID: conf.Peer.ID, Target: to})
	}
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	enc := json.NewEncoder(cfg.Stdout)
	if err := enc.Encode(newMessageOutput("sent", env, payload)); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if *noWait {
		return nil
	}

	msg, err := client.Receive(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("no reply before timeout", slog.Duration("timeout", conf.Timeout))
		return nil
	case errors.Is(err, hypo.ErrConnectionClosed):
		logger.Info("peer closed the connection")
		return nil
	case err != nil:
		return fmt.Errorf("receive reply: %w", err)
	}
	if err := enc.Encode(newMessageOutput("received", msg.Envelope, msg.Payload)); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// destination is the envelope target: --target, else the peer, else none
// for a broadcast.
func destination(conf *config.Config, target string, broadcast bool) *string {
	if broadcast {
		return nil
	}
	if target == "" {
		target = conf.Peer.ID
	}
	if target == "" {
		return nil
	}
	return &target
}

// writeCapture seals payload without a connection and appends it as one
// frame to path. Captures are read back with "hypo-sim decode".
func writeCapture(cfg *Config, conf *config.Config, logger *slog.Logger, store *keystore.MemoryStore,
	payload *hypo.ClipboardPayload, to *string, path string) error {
	codec := hypo.NewCodec(conf.Local(), keystore.NewResolver(store, keystore.WithLogger(logger)),
		hypo.WithCodecLogger(logger))

	var (
		env *hypo.SyncEnvelope
		err error
	)
	if conf.Plaintext {
		env, err = codec.SealPlaintext(payload, to)
	} else {
		env, err = codec.Seal(payload, hypo.Recipient{KeyID: conf.Peer.ID, Target: to})
	}
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	data, err := hypo.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	w := cfg.Stdout
	if path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := frame.NewWriter(w).WriteFrame(data); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	logger.Info("wrote capture", slog.String("id", env.ID.String()), slog.String("path", path))

	if path == "-" {
		return nil
	}
	return json.NewEncoder(cfg.Stdout).Encode(newMessageOutput("sent", env, payload))
}

func buildPayload(cfg *Config, text, image, link, format string) (*hypo.ClipboardPayload, error) {
	if image != "" && link != "" {
		return nil, errors.New("--image and --link are mutually exclusive")
	}

	switch {
	case image != "":
		data, err := readImage(cfg, image)
		if err != nil {
			return nil, err
		}
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(image)), ".")
		}
		if format == "" {
			format = "png"
		}
		return hypo.NewImagePayload(data, format), nil
	case link != "":
		return hypo.NewLinkPayload(link), nil
	default:
		return hypo.NewTextPayload(text), nil
	}
}

func readImage(cfg *Config, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cfg.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
