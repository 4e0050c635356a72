// Package webhook receives Gitea webhook deliveries and relays them to chat
// groups.
//
// Each monitored repository has its own HMAC secret, so a delivery is
// handled in this order:
//
//  1. HTTP POST arrives at the configured path
//  2. Body size checked (413 if too large), event header required (400)
//  3. Repository URL read from the payload and matched by owner/repo path
//  4. HMAC-SHA256 of the raw body checked against the matched secret using
//     crypto/subtle
//  5. Payload parsed into a typed event and formatted
//  6. Message sent to the repository's group, bounded by dispatch_timeout
//
// # Security Model
//
//   - Unknown repository and bad signature get the same 401 body, so the
//     endpoint cannot be used to probe which repositories are monitored
//   - Secrets, signatures and bodies are never logged
//   - Optional per-IP rate limiting (429)
//
// # Responses
//
//   - 200 {"status":"delivered"} or {"status":"ignored"}
//   - 202 {"status":"dispatch_failed"}: accepted, the chat platform failed.
//     Gitea should not retry because of this.
//   - 400 missing event header, 401 unauthorized, 413 too large, 429 rate limited
//
// # Example Usage
//
//	handler := webhook.NewHandler(store, sender, logger,
//		webhook.WithDispatchTimeout(10*time.Second),
//	)
//	server := webhook.New(cfg, handler, store, logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
