//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/keystore"
)

var (
	relayURL    string
	environment string
)

func TestMain(m *testing.M) {
	// Load .env file if it exists (won't error if missing)
	if err := godotenv.Load("../.env"); err != nil {
		os.Stderr.WriteString("Note: .env file not found at project root\n")
	}

	relayURL = os.Getenv("HYPO_RELAY_URL")
	environment = os.Getenv("HYPO_ENVIRONMENT")

	if relayURL == "" {
		os.Stderr.WriteString("Skipping integration tests: HYPO_RELAY_URL not set\n")
		os.Exit(0)
	}

	os.Stderr.WriteString("Running integration tests...\n")
	os.Stderr.WriteString("Relay URL: " + relayURL + "\n")

	os.Exit(m.Run())
}

type pair struct {
	mac, android *hypo.Client
	macID        string
	androidID    string
}

// newPair creates two freshly paired devices with random ids so runs do
// not collide on the relay.
func newPair(t *testing.T, opts ...hypo.Option) pair {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	p := pair{
		macID:     uuid.NewString(),
		androidID: "android-" + uuid.NewString(),
	}

	macStore := keystore.NewMemoryStore()
	macStore.Put(p.androidID, key)
	androidStore := keystore.NewMemoryStore()
	androidStore.Put(p.macID, key)

	if environment != "" {
		opts = append(opts, hypo.WithEnvironment(environment))
	}

	var err error
	p.mac, err = hypo.NewClient(hypo.Device{ID: p.macID, Name: "integration mac", Platform: "macos"},
		keystore.NewResolver(macStore), opts...)
	if err != nil {
		t.Fatalf("NewClient(mac) error = %v", err)
	}
	p.android, err = hypo.NewClient(hypo.Device{ID: p.androidID, Name: "integration android", Platform: "android"},
		keystore.NewResolver(androidStore), opts...)
	if err != nil {
		t.Fatalf("NewClient(android) error = %v", err)
	}

	t.Cleanup(func() {
		p.mac.Close()
		p.android.Close()
	})
	return p
}

func connect(t *testing.T, ctx context.Context, clients ...*hypo.Client) {
	t.Helper()
	for _, c := range clients {
		if err := c.Connect(ctx, relayURL); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}
}

func TestIntegration_RelayRoundTrip(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	connect(t, ctx, p.mac, p.android)

	sent, err := p.mac.Send(ctx, hypo.NewTextPayload("integration hello"), hypo.To(p.androidID))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	t.Logf("Sent envelope %s", sent.ID)

	msg, err := p.android.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if msg.Envelope.ID != sent.ID {
		t.Errorf("received id %s, want %s", msg.Envelope.ID, sent.ID)
	}
	if got := msg.Payload.Text(); got != "integration hello" {
		t.Errorf("Text() = %q", got)
	}
}

func TestIntegration_RelayImage(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	connect(t, ctx, p.mac, p.android)

	image := make([]byte, 256<<10)
	if _, err := rand.Read(image); err != nil {
		t.Fatal(err)
	}
	if _, err := p.android.Send(ctx, hypo.NewImagePayload(image, "png"), hypo.To(p.macID)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msg, err := p.mac.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(msg.Payload.Data) != len(image) {
		t.Errorf("received %d bytes, want %d", len(msg.Payload.Data), len(image))
	}
}

func TestIntegration_DuplicateDevice(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	connect(t, ctx, p.mac)

	twin := newPair(t, hypo.WithSessionID(p.macID), hypo.WithRetries(0))
	err := twin.mac.Connect(ctx, relayURL)
	if !errors.Is(err, hypo.ErrDeviceAlreadyConnected) {
		t.Fatalf("Connect() error = %v, want ErrDeviceAlreadyConnected", err)
	}

	takeover := newPair(t, hypo.WithSessionID(p.macID), hypo.WithForceRegister(true))
	connect(t, ctx, takeover.mac)

	if _, err := p.mac.Receive(ctx); !errors.Is(err, hypo.ErrConnectionClosed) {
		t.Errorf("old session Receive() error = %v, want ErrConnectionClosed", err)
	}
}
