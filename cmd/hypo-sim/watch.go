package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/keystore"
)

func runWatch(ctx context.Context, args []string, cfg *Config) error {
	set := newFlagSet("watch", "Connect to the peer or relay and print clipboard items as they arrive.", cfg)
	count := set.Int("count", 0, "exit after this many messages (0: until interrupted)")
	only := set.String("type", "", "only print this content type (text, image, link)")

	conf, err := parse(set, args, cfg)
	if err != nil {
		return err
	}
	filter := hypo.ContentType(*only)
	if filter != "" && !filter.Valid() {
		return fmt.Errorf("unknown content type: %s", *only)
	}

	logger := conf.Logger(cfg.Stderr)
	store, err := conf.KeyStore()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	client, err := hypo.NewClient(conf.Local(), keystore.NewResolver(store, keystore.WithLogger(logger)), conf.ClientOptions(logger)...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	connectCtx, cancelConnect := context.WithTimeout(ctx, conf.Timeout)
	url := conf.URL()
	err = client.Connect(connectCtx, url)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	logger.Info("watching", slog.String("url", url), slog.String("mode", conf.Transport.Mode))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		seen int
		enc  = json.NewEncoder(cfg.Stdout)
	)
	client.OnContent(filter, func(msg *hypo.Message) {
		mu.Lock()
		defer mu.Unlock()
		if *count > 0 && seen >= *count {
			return
		}
		if err := enc.Encode(newMessageOutput("received", msg.Envelope, msg.Payload)); err != nil {
			logger.Warn("encode output", slog.Any("error", err))
		}
		seen++
		if *count > 0 && seen == *count {
			cancel()
		}
	})

	err = client.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
