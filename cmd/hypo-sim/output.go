package main

import (
	"time"

	"github.com/callzhang/hypo"
)

// MessageOutput is the JSON line printed for every sent or received
// envelope. Image bytes are summarized by size only.
type MessageOutput struct {
	Direction   string            `json:"direction"`
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	DeviceID    string            `json:"device_id"`
	DeviceName  string            `json:"device_name,omitempty"`
	ContentType string            `json:"content_type"`
	Target      string            `json:"target,omitempty"`
	Encrypted   bool              `json:"encrypted"`
	Bytes       int               `json:"bytes"`
	Text        string            `json:"text,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newMessageOutput(direction string, env *hypo.SyncEnvelope, p *hypo.ClipboardPayload) MessageOutput {
	out := MessageOutput{
		Direction:   direction,
		ID:          env.ID.String(),
		Timestamp:   env.Timestamp.Format(time.RFC3339Nano),
		DeviceID:    env.Payload.DeviceID,
		DeviceName:  env.Payload.DeviceName,
		ContentType: string(env.Payload.ContentType),
		Encrypted:   !env.IsPlaintext(),
		Bytes:       len(p.Data),
		Text:        p.Text(),
		Metadata:    p.Metadata,
	}
	if env.Payload.Target != nil {
		out.Target = *env.Payload.Target
	}
	return out
}
