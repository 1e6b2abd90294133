package transport

import (
	"fmt"
	"net/http"
)

// Connection header names.
const (
	HeaderDeviceID       = "X-Device-Id"
	HeaderDevicePlatform = "X-Device-Platform"
	HeaderClient         = "X-Hypo-Client"
	HeaderEnvironment    = "X-Hypo-Environment"
	HeaderForceRegister  = "X-Hypo-Force-Register"
)

// Headers is the out-of-band identity sent with the upgrade request.
// DeviceID is the session id; it may differ from the device_id inside the
// envelopes sent over the session.
type Headers struct {
	DeviceID      string
	Platform      string
	ClientVersion string
	Environment   string
	ForceRegister bool
}

// HTTPHeader returns h as request headers. Empty fields are omitted.
func (h Headers) HTTPHeader() http.Header {
	out := make(http.Header)
	set := func(name, value string) {
		if value != "" {
			out.Set(name, value)
		}
	}
	set(HeaderDeviceID, h.DeviceID)
	set(HeaderDevicePlatform, h.Platform)
	set(HeaderClient, h.ClientVersion)
	set(HeaderEnvironment, h.Environment)
	if h.ForceRegister {
		out.Set(HeaderForceRegister, "true")
	}
	return out
}

// ParseHeaders reads connection headers. The device id and platform are
// required; force-register is on only for the literal value "true".
func ParseHeaders(hdr http.Header) (Headers, error) {
	h := Headers{
		DeviceID:      hdr.Get(HeaderDeviceID),
		Platform:      hdr.Get(HeaderDevicePlatform),
		ClientVersion: hdr.Get(HeaderClient),
		Environment:   hdr.Get(HeaderEnvironment),
		ForceRegister: hdr.Get(HeaderForceRegister) == "true",
	}
	if h.DeviceID == "" || h.Platform == "" {
		return h, fmt.Errorf("%w: %s and %s are required", ErrMissingHeaders, HeaderDeviceID, HeaderDevicePlatform)
	}
	return h, nil
}
