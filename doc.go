// Package hypo implements the Hypo clipboard sync envelope: the payload
// model, the AES-256-GCM envelope codec, the JSON envelope serializer and a
// client that carries framed envelopes over a LAN or relay websocket.
//
// The ciphertext authenticates the sender's declared device id, so a key
// is always looked up by the envelope's device_id and the AAD is those
// exact bytes. Keys are supplied by a [KeyResolver], typically a
// keystore.Resolver.
//
// Basic usage:
//
//	store := keystore.NewMemoryStore()
//	store.Put(peerID, key)
//	resolver := keystore.NewResolver(store)
//
//	client, err := hypo.NewClient(hypo.Device{
//	    ID:       localID,
//	    Name:     "MacBook Air",
//	    Platform: "macos",
//	}, resolver)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx, hypo.DefaultRelayURL); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Seal with the key shared with peerID and route to it
//	_, err = client.Send(ctx, hypo.NewTextPayload("Hello"), hypo.To(peerID))
//
//	msg, err := client.Receive(ctx)
//	fmt.Println(msg.Payload.Text())
//
// # Watching
//
// Instead of calling Receive in a loop, register callbacks and let Watch
// drive the connection. Messages that fail to parse or open are skipped.
//
//	unsubscribe := client.OnContent(hypo.ContentText, func(msg *hypo.Message) {
//	    fmt.Println(msg.Payload.Text())
//	})
//	defer unsubscribe()
//
//	err := client.Watch(ctx)
package hypo
