package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/frame"
	"github.com/callzhang/hypo/keystore"
)

func runDecode(args []string, cfg *Config) error {
	set := newFlagSet("decode", "Read a capture of framed or line-delimited JSON envelopes, open each one and print it.", cfg)
	file := set.String("file", "-", "capture file, - for stdin")

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

	in := cfg.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer f.Close()
		in = f
	}

	enc := json.NewEncoder(cfg.Stdout)
	r := frame.NewReader(in)
	var total, failed int
	for {
		data, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", total, err)
		}
		total++

		env, err := hypo.UnmarshalEnvelope(data)
		if err != nil {
			failed++
			logger.Warn("malformed envelope", slog.Int("frame", total), slog.Any("error", err))
			continue
		}
		payload, err := codec.Open(env)
		if err != nil {
			failed++
			logger.Warn("cannot open envelope",
				slog.Int("frame", total),
				slog.String("device_id", env.Payload.DeviceID),
				slog.Any("error", err))
			continue
		}
		if err := enc.Encode(newMessageOutput("decoded", env, payload)); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d envelopes could not be decoded", failed, total)
	}
	return nil
}
