package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/callzhang/hypo/internal/crypto"
)

const defaultVectorsPath = "testdata/crypto_test_vectors.json"

func runVectors(args []string, cfg *Config) error {
	set := newFlagSet("vectors", "Re-encrypt and decrypt every case in a test-vector file.", cfg)
	path := set.String("file", defaultVectorsPath, "vector file")
	if err := set.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}

	vf, err := crypto.LoadVectors(*path)
	if err != nil {
		return err
	}

	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(cfg.Stdout, "FAIL %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(cfg.Stdout, "ok   %s\n", name)
	}

	if vf.HKDF != nil {
		report("hkdf", vf.HKDF.Verify())
	}
	for i := range vf.Cases {
		report(vf.Cases[i].Name, vf.Cases[i].Verify())
	}

	total := len(vf.Cases)
	if vf.HKDF != nil {
		total++
	}
	fmt.Fprintf(cfg.Stdout, "%d passed, %d failed\n", total-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d vectors failed", failed, total)
	}
	return nil
}
