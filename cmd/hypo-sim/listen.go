package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/internal/transport"
	"github.com/callzhang/hypo/keystore"
)

func runListen(ctx context.Context, args []string, cfg *Config) error {
	set := newFlagSet("listen", "Accept LAN connections, open every envelope and print it as a JSON line.", cfg)
	count := set.Int("count", 0, "exit after this many messages (0: until interrupted)")
	reply := set.Bool("reply", false, "answer each message with an acknowledgement")

	conf, err := parse(set, args, cfg)
	if err != nil {
		return err
	}

	logger := conf.Logger(cfg.Stderr)
	store, err := conf.KeyStore()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	codec := hypo.NewCodec(conf.Local(), keystore.NewResolver(store, keystore.WithLogger(logger)),
		hypo.WithCodecLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{enc: json.NewEncoder(cfg.Stdout), limit: *count, done: cancel}
	handler := func(ctx context.Context, conn *transport.Conn) {
		from := conn.Headers()
		sessionLog := logger.With(slog.String("session", from.DeviceID), slog.String("platform", from.Platform))
		for {
			data, err := conn.Receive(ctx)
			if err != nil {
				if !errors.Is(err, transport.ErrConnClosed) && ctx.Err() == nil {
					sessionLog.Warn("receive failed", slog.Any("error", err))
				}
				return
			}

			env, err := hypo.UnmarshalEnvelope(data)
			if err != nil {
				sessionLog.Warn("malformed envelope", slog.Int("bytes", len(data)), slog.Any("error", err))
				continue
			}
			payload, err := codec.Open(env)
			if err != nil {
				sessionLog.Warn("cannot open envelope",
					slog.String("id", env.ID.String()),
					slog.String("device_id", env.Payload.DeviceID),
					slog.Any("error", err))
				continue
			}
			sessionLog.Info("clipboard received",
				slog.String("id", env.ID.String()),
				slog.String("content_type", string(payload.ContentType)),
				slog.Int("bytes", len(payload.Data)))

			if *reply {
				if err := acknowledge(ctx, codec, conn, env, payload); err != nil {
					sessionLog.Warn("reply failed", slog.Any("error", err))
				}
			}
			if p.print(newMessageOutput("received", env, payload)) {
				return
			}
		}
	}

	l := transport.NewListener(handler,
		transport.WithLogger(logger),
		transport.WithHandshakeTimeout(conf.Timeout))

	ln, err := listenFunc("tcp", conf.Transport.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", conf.Transport.Listen, err)
	}
	return l.Serve(ctx, ln)
}

// printer serializes output lines from concurrent sessions and stops the
// listener once limit lines were printed.
type printer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	n     int
	limit int
	done  context.CancelFunc
}

func (p *printer) print(out MessageOutput) (finished bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(out)
	p.n++
	if p.limit > 0 && p.n >= p.limit {
		p.done()
		return true
	}
	return false
}

// acknowledge answers the sender the same way it wrote: sealed if the
// message was sealed, plaintext otherwise.
func acknowledge(ctx context.Context, codec *hypo.Codec, conn *transport.Conn, env *hypo.SyncEnvelope, p *hypo.ClipboardPayload) error {
	ack := hypo.NewTextPayload(fmt.Sprintf("ack %s %s", env.ID, p.ContentType))

	var (
		out *hypo.SyncEnvelope
		err error
	)
	if env.IsPlaintext() {
		sender := env.Payload.DeviceID
		out, err = codec.SealPlaintext(ack, &sender)
	} else {
		out, err = codec.Seal(ack, hypo.To(env.Payload.DeviceID))
	}
	if err != nil {
		return err
	}

	data, err := hypo.MarshalEnvelope(out)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}
