package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/frame"
	"github.com/callzhang/hypo/internal/config"
	"github.com/callzhang/hypo/internal/crypto"
	"github.com/callzhang/hypo/internal/transport"
	"github.com/callzhang/hypo/keystore"
)

const vectorsFile = "../../testdata/crypto_test_vectors.json"

var testKey = bytes.Repeat([]byte{0x42}, 32)

func testConfig() (*Config, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Config{
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
		Getenv: func(string) string { return "" },
	}, &stdout, &stderr
}

// outputs decodes every JSON line written to stdout.
func outputs(t *testing.T, stdout *bytes.Buffer) []MessageOutput {
	t.Helper()
	var out []MessageOutput
	dec := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	for dec.More() {
		var m MessageOutput
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode output %q: %v", stdout.String(), err)
		}
		out = append(out, m)
	}
	return out
}

// macPeer serves the default peer id. Every envelope that opens is sent
// to got, and is answered with an acknowledgement when reply is set.
func macPeer(t *testing.T, reply bool) (host, port string, got <-chan *hypo.SyncEnvelope) {
	t.Helper()
	store := keystore.NewMemoryStore()
	store.Put(config.DefaultDeviceID, testKey)
	codec := hypo.NewCodec(hypo.Device{ID: config.DefaultPeerID, Name: "MacBook Air", Platform: "macos"},
		keystore.NewResolver(store))

	ch := make(chan *hypo.SyncEnvelope, 4)
	l := transport.NewListener(func(ctx context.Context, conn *transport.Conn) {
		for {
			data, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			env, err := hypo.UnmarshalEnvelope(data)
			if err != nil {
				t.Errorf("peer: UnmarshalEnvelope() error = %v", err)
				return
			}
			if _, err := codec.Open(env); err != nil {
				t.Errorf("peer: Open() error = %v", err)
				return
			}
			ch <- env
			if !reply {
				continue
			}
			ack, err := codec.Seal(hypo.NewTextPayload("copied"), hypo.To(env.Payload.DeviceID))
			if err != nil {
				t.Errorf("peer: Seal() error = %v", err)
				return
			}
			out, _ := hypo.MarshalEnvelope(ack)
			_ = conn.Send(ctx, out)
		}
	})
	srv := httptest.NewServer(l)
	t.Cleanup(func() {
		l.CloseAll()
		srv.Close()
	})

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	return host, port, ch
}

func sendArgs(host, port string, extra ...string) []string {
	args := []string{"hypo-sim", "send",
		"--host", host, "--port", port,
		"--key", crypto.ToBase64(testKey),
		"--timeout", "5s",
		"--log-level", "error",
	}
	return append(args, extra...)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Stdin != os.Stdin {
		t.Error("DefaultConfig().Stdin should be os.Stdin")
	}
	if cfg.Stdout != os.Stdout {
		t.Error("DefaultConfig().Stdout should be os.Stdout")
	}
	if cfg.Stderr != os.Stderr {
		t.Error("DefaultConfig().Stderr should be os.Stderr")
	}
	if cfg.Getenv == nil {
		t.Error("DefaultConfig().Getenv should be set")
	}
}

func TestRun_NoArgs(t *testing.T) {
	cfg, _, _ := testConfig()
	err := run([]string{"hypo-sim"}, cfg)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("run() error = %v, want usage", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	cfg, _, _ := testConfig()
	err := run([]string{"hypo-sim", "paste"}, cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("run() error = %v, want unknown command", err)
	}
}

func TestRun_Help(t *testing.T) {
	tests := [][]string{
		{"hypo-sim", "help"},
		{"hypo-sim", "send", "--help"},
		{"hypo-sim", "listen", "-h"},
		{"hypo-sim", "watch", "--help"},
		{"hypo-sim", "decode", "-h"},
		{"hypo-sim", "vectors", "--help"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			cfg, stdout, _ := testConfig()
			if err := run(args, cfg); err != nil {
				t.Fatalf("run() error = %v", err)
			}
			if !strings.Contains(stdout.String(), "usage: hypo-sim") {
				t.Errorf("stdout = %q, want usage text", stdout.String())
			}
		})
	}
}

func TestRunVectors(t *testing.T) {
	cfg, stdout, _ := testConfig()
	if err := run([]string{"hypo-sim", "vectors", "--file", vectorsFile}, cfg); err != nil {
		t.Fatalf("run() error = %v\n%s", err, stdout)
	}

	for _, want := range []string{"ok   hkdf", "ok   rfc5116-empty", "ok   text-payload-device-a", "7 passed, 0 failed"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunVectors_Mismatch(t *testing.T) {
	vf, err := crypto.LoadVectors(vectorsFile)
	if err != nil {
		t.Fatal(err)
	}
	vf.Cases[0].Tag = crypto.ToBase64(make([]byte, 16))
	data, err := json.Marshal(vf)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, stdout, _ := testConfig()
	err = run([]string{"hypo-sim", "vectors", "--file", path}, cfg)
	if err == nil {
		t.Fatal("run() returned no error for a tampered vector")
	}
	if !strings.Contains(stdout.String(), "FAIL "+vf.Cases[0].Name) {
		t.Errorf("stdout missing FAIL line:\n%s", stdout)
	}
}

func TestRunVectors_MissingFile(t *testing.T) {
	cfg, _, _ := testConfig()
	if err := run([]string{"hypo-sim", "vectors", "--file", "does-not-exist.json"}, cfg); err == nil {
		t.Error("run() returned no error")
	}
}

func TestRunSend_ReplyRoundTrip(t *testing.T) {
	host, port, got := macPeer(t, true)
	cfg, stdout, _ := testConfig()

	if err := run(sendArgs(host, port, "--text", "hello mac"), cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	env := <-got
	if env.IsPlaintext() || env.Payload.DeviceID != config.DefaultDeviceID {
		t.Errorf("peer got plaintext=%v from %s", env.IsPlaintext(), env.Payload.DeviceID)
	}
	if env.Payload.Target == nil || *env.Payload.Target != config.DefaultPeerID {
		t.Errorf("Target = %v, want %s", env.Payload.Target, config.DefaultPeerID)
	}

	out := outputs(t, stdout)
	if len(out) != 2 {
		t.Fatalf("got %d output lines, want 2:\n%s", len(out), stdout)
	}
	if out[0].Direction != "sent" || out[0].Text != "hello mac" || !out[0].Encrypted {
		t.Errorf("sent line = %+v", out[0])
	}
	if out[1].Direction != "received" || out[1].Text != "copied" || out[1].DeviceID != config.DefaultPeerID {
		t.Errorf("received line = %+v", out[1])
	}
}

func TestRunSend_PlaintextBroadcast(t *testing.T) {
	host, port, got := macPeer(t, false)
	cfg, stdout, _ := testConfig()

	args := sendArgs(host, port, "--plaintext", "--broadcast", "--no-wait", "--link", "https://example.com")
	if err := run(args, cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	env := <-got
	if !env.IsPlaintext() || !env.IsBroadcast() {
		t.Errorf("plaintext=%v broadcast=%v", env.IsPlaintext(), env.IsBroadcast())
	}
	if env.Payload.ContentType != hypo.ContentLink {
		t.Errorf("ContentType = %s", env.Payload.ContentType)
	}
	if out := outputs(t, stdout); len(out) != 1 || out[0].Encrypted {
		t.Errorf("outputs = %+v", out)
	}
}

func TestRunSend_ImageFromStdin(t *testing.T) {
	host, port, got := macPeer(t, false)
	cfg, stdout, _ := testConfig()
	cfg.Stdin = bytes.NewReader([]byte{0xff, 0xd8, 0xff, 0xe0})

	if err := run(sendArgs(host, port, "--image", "-", "--format", "jpeg", "--no-wait"), cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	<-got

	out := outputs(t, stdout)
	if len(out) != 1 {
		t.Fatalf("outputs = %+v", out)
	}
	if out[0].ContentType != "image" || out[0].Bytes != 4 || out[0].Text != "" {
		t.Errorf("output = %+v", out[0])
	}
	if out[0].Metadata["format"] != "jpeg" || out[0].Metadata["size"] != "4" {
		t.Errorf("Metadata = %v", out[0].Metadata)
	}
}

func TestRunSend_ImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.PNG")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, _ := testConfig()

	p, err := buildPayload(cfg, defaultText, path, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ContentType != hypo.ContentImage || p.Metadata["format"] != "png" {
		t.Errorf("payload = %+v", p)
	}
}

func TestRunSend_NoReplyIsNotAnError(t *testing.T) {
	host, port, _ := macPeer(t, false)
	cfg, stdout, _ := testConfig()

	args := sendArgs(host, port)
	args[len(args)-3] = "300ms"
	if err := run(args, cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if out := outputs(t, stdout); len(out) != 1 || out[0].Text != defaultText {
		t.Errorf("outputs = %+v", out)
	}
}

func TestRunSend_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"image and link", []string{"--image", "a.png", "--link", "https://x"}, "mutually exclusive"},
		{"missing image", []string{"--image", "/does/not/exist.png"}, "read image"},
		{"bad key", []string{"--key", "c2hvcnQ="}, "peer.key"},
		{"stray argument", []string{"extra"}, "unexpected argument"},
		{"refused", []string{"--port", "1", "--timeout", "1s"}, "connect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _ := testConfig()
			args := append([]string{"hypo-sim", "send", "--host", "127.0.0.1", "--log-level", "error"}, tt.args...)
			err := run(args, cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRunSend_ClientFactoryError(t *testing.T) {
	original := clientFactory
	defer func() { clientFactory = original }()
	clientFactory = func(hypo.Device, hypo.KeyResolver, ...hypo.Option) (sender, error) {
		return nil, errors.New("factory error")
	}

	cfg, _, _ := testConfig()
	err := run([]string{"hypo-sim", "send", "--log-level", "error"}, cfg)
	if err == nil || !strings.Contains(err.Error(), "create client") {
		t.Errorf("run() error = %v, want create client", err)
	}
}

func TestRunListen(t *testing.T) {
	addrs := make(chan string, 1)
	original := listenFunc
	defer func() { listenFunc = original }()
	listenFunc = func(network, _ string) (net.Listener, error) {
		ln, err := net.Listen(network, "127.0.0.1:0")
		if err == nil {
			addrs <- ln.Addr().String()
		}
		return ln, err
	}

	cfg, stdout, _ := testConfig()
	done := make(chan error, 1)
	go func() {
		done <- run([]string{"hypo-sim", "listen",
			"--device-id", config.DefaultPeerID,
			"--platform", "macos",
			"--peer", config.DefaultDeviceID,
			"--key", crypto.ToBase64(testKey),
			"--count", "1",
			"--reply",
			"--log-level", "error",
		}, cfg)
	}()

	var addr string
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("listen exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never started")
	}

	store := keystore.NewMemoryStore()
	store.Put(config.DefaultPeerID, testKey)
	client, err := hypo.NewClient(hypo.Device{ID: config.DefaultDeviceID, Platform: "android"},
		keystore.NewResolver(store), hypo.WithRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, "ws://"+addr+"/ws"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := client.Send(ctx, hypo.NewTextPayload("from android"), hypo.To(config.DefaultPeerID)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !strings.HasPrefix(msg.Payload.Text(), "ack ") {
		t.Errorf("reply = %q, want ack", msg.Payload.Text())
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop after --count 1")
	}

	out := outputs(t, stdout)
	if len(out) != 1 || out[0].Text != "from android" || out[0].DeviceID != config.DefaultDeviceID {
		t.Errorf("outputs = %+v", out)
	}
}

// pushingMac serves the default peer id and sends each payload sealed to
// the connecting device, then holds the connection open.
func pushingMac(t *testing.T, payloads ...*hypo.ClipboardPayload) (host, port string) {
	t.Helper()
	store := keystore.NewMemoryStore()
	store.Put(config.DefaultDeviceID, testKey)
	codec := hypo.NewCodec(hypo.Device{ID: config.DefaultPeerID, Name: "MacBook Air", Platform: "macos"},
		keystore.NewResolver(store))

	l := transport.NewListener(func(ctx context.Context, conn *transport.Conn) {
		for _, p := range payloads {
			env, err := codec.Seal(p, hypo.To(conn.Headers().DeviceID))
			if err != nil {
				t.Errorf("peer: Seal() error = %v", err)
				return
			}
			out, _ := hypo.MarshalEnvelope(env)
			if err := conn.Send(ctx, out); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
		case <-conn.Done():
		}
	})
	srv := httptest.NewServer(l)
	t.Cleanup(func() {
		l.CloseAll()
		srv.Close()
	})

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func TestRunWatch(t *testing.T) {
	host, port := pushingMac(t,
		hypo.NewTextPayload("one"),
		hypo.NewLinkPayload("https://example.com"),
		hypo.NewTextPayload("two"),
		hypo.NewTextPayload("three"),
	)

	cfg, stdout, _ := testConfig()
	args := []string{"hypo-sim", "watch",
		"--host", host, "--port", port,
		"--key", crypto.ToBase64(testKey),
		"--log-level", "error",
		"--count", "2", "--type", "text",
	}
	if err := run(args, cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	out := outputs(t, stdout)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2: %s", len(out), stdout.String())
	}
	for i, want := range []string{"one", "two"} {
		if out[i].Text != want || out[i].ContentType != "text" {
			t.Errorf("message %d = %+v, want text %q", i, out[i], want)
		}
		if out[i].DeviceID != config.DefaultPeerID || !out[i].Encrypted {
			t.Errorf("message %d from %s encrypted=%v", i, out[i].DeviceID, out[i].Encrypted)
		}
	}
}

func TestRunWatch_UnknownType(t *testing.T) {
	cfg, _, _ := testConfig()
	err := run([]string{"hypo-sim", "watch", "--type", "video"}, cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown content type") {
		t.Errorf("run() error = %v, want unknown content type", err)
	}
}

func TestRunSend_CaptureAndDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	key := crypto.ToBase64(testKey)

	for _, extra := range [][]string{
		{"--text", "first"},
		{"--link", "https://example.com"},
	} {
		cfg, stdout, _ := testConfig()
		args := append([]string{"hypo-sim", "send", "--key", key, "--output", path, "--log-level", "error"}, extra...)
		if err := run(args, cfg); err != nil {
			t.Fatalf("send %v error = %v", extra, err)
		}
		if out := outputs(t, stdout); len(out) != 1 || out[0].Direction != "sent" {
			t.Errorf("send output = %s", stdout.String())
		}
	}

	// Decode on the receiving side: the ids swap, the key is shared.
	cfg, stdout, _ := testConfig()
	err := run([]string{"hypo-sim", "decode",
		"--device-id", config.DefaultPeerID, "--peer", config.DefaultDeviceID,
		"--key", key, "--file", path, "--log-level", "error"}, cfg)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}

	out := outputs(t, stdout)
	if len(out) != 2 {
		t.Fatalf("decoded %d envelopes, want 2: %s", len(out), stdout.String())
	}
	for i, want := range []string{"first", "https://example.com"} {
		if out[i].Text != want || !out[i].Encrypted || out[i].DeviceID != config.DefaultDeviceID {
			t.Errorf("envelope %d = %+v, want encrypted %q", i, out[i], want)
		}
	}
}

func TestRunSend_OutputStdout(t *testing.T) {
	cfg, stdout, _ := testConfig()
	args := []string{"hypo-sim", "send", "--key", crypto.ToBase64(testKey), "--output", "-",
		"--text", "framed", "--log-level", "error"}
	if err := run(args, cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, rest, err := frame.Decode(stdout.Bytes())
	if err != nil || len(rest) != 0 {
		t.Fatalf("frame.Decode() = rest %d, error %v", len(rest), err)
	}
	env, err := hypo.UnmarshalEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Payload.Target == nil || *env.Payload.Target != config.DefaultPeerID {
		t.Errorf("Target = %v, want %s", env.Payload.Target, config.DefaultPeerID)
	}
}

func TestRunDecode_JSONLines(t *testing.T) {
	codec := hypo.NewCodec(hypo.Device{ID: config.DefaultPeerID, Name: "MacBook Air", Platform: "macos"},
		keystore.NewResolver(keystore.NewMemoryStore()))

	var lines bytes.Buffer
	for _, text := range []string{"one", "two"} {
		env, err := codec.SealPlaintext(hypo.NewTextPayload(text), nil)
		if err != nil {
			t.Fatal(err)
		}
		data, err := hypo.MarshalEnvelope(env)
		if err != nil {
			t.Fatal(err)
		}
		lines.Write(data)
		lines.WriteByte('\n')
	}

	cfg, stdout, _ := testConfig()
	cfg.Stdin = &lines
	if err := run([]string{"hypo-sim", "decode", "--log-level", "error"}, cfg); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	out := outputs(t, stdout)
	if len(out) != 2 || out[0].Text != "one" || out[1].Text != "two" {
		t.Fatalf("decoded = %+v", out)
	}
	if out[0].Encrypted {
		t.Error("plaintext envelope reported as encrypted")
	}
}

func TestRunDecode_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	cfg, _, _ := testConfig()
	if err := run([]string{"hypo-sim", "send", "--key", crypto.ToBase64(testKey), "--output", path, "--log-level", "error"}, cfg); err != nil {
		t.Fatal(err)
	}
	wrongKey := crypto.ToBase64(bytes.Repeat([]byte{0x07}, 32))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"wrong key", []string{"--peer", config.DefaultDeviceID, "--key", wrongKey, "--file", path}, "1 of 1 envelopes"},
		{"missing file", []string{"--file", "/does/not/exist"}, "open capture"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _ := testConfig()
			args := append([]string{"hypo-sim", "decode", "--log-level", "error"}, tt.args...)
			err := run(args, cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFatal(t *testing.T) {
	originalExitFunc := exitFunc
	defer func() { exitFunc = originalExitFunc }()

	var exitCode int
	exitFunc = func(code int) {
		exitCode = code
	}

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fatal("send: %s", "refused")

	w.Close()
	os.Stderr = oldStderr
	var buf bytes.Buffer
	buf.ReadFrom(r)

	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
	if buf.String() != "send: refused\n" {
		t.Errorf("output = %q, want %q", buf.String(), "send: refused\n")
	}
}
