// Package client is the Go client for the secpipeline HTTP API.
//
// It wraps the operator endpoints: submitting raw records, scoring
// canonical events, fetching reports and inspecting the audit ledger.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("SECPIPELINE_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := c.Score(ctx, client.Event{
//	    EntityID:   "alice@example.com",
//	    Action:     "CreateAccessKey",
//	    Attributes: map[string]string{"geo": "RU"},
//	})
//
// Errors for non-2xx responses are *APIError values; use errors.As to
// inspect the status code.
package client
