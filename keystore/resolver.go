package keystore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LegacyPrefix is the historical prefix some Android identifiers carry.
const LegacyPrefix = "android-"

// ErrKeyNotFound is returned when neither form of an identifier has a key.
var ErrKeyNotFound = errors.New("key not found")

// Resolver finds the key for a device identifier.
type Resolver struct {
	store  Lookup
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used to report prefix fallbacks.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver returns a Resolver over store.
func NewResolver(store Lookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a copy of the key for deviceID. The caller owns the
// returned slice and should zero it when done.
//
// The lookup is two steps: deviceID exactly as given, then its alternate
// form with [LegacyPrefix] prepended (or stripped, if already present).
func (r *Resolver) Resolve(deviceID string) ([]byte, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrKeyNotFound)
	}

	if key, ok := r.store.Get(deviceID); ok {
		return key, nil
	}

	alt := AlternateID(deviceID)
	if alt == "" {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, deviceID)
	}
	if key, ok := r.store.Get(alt); ok {
		r.logger.Debug("key resolved via legacy prefix",
			slog.String("device_id", deviceID),
			slog.String("matched_id", alt))
		return key, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, deviceID)
}

// AlternateID returns the other historical spelling of deviceID, or "" if
// stripping the prefix would leave nothing.
func AlternateID(deviceID string) string {
	if len(deviceID) >= len(LegacyPrefix) && strings.EqualFold(deviceID[:len(LegacyPrefix)], LegacyPrefix) {
		return deviceID[len(LegacyPrefix):]
	}
	return LegacyPrefix + deviceID
}
