// Package client is the Go SDK for the vehicle service ledger.
//
// Reads are public; appends and verifications need an operator token when
// the server has authentication enabled.
//
// # Reading the ledger
//
//	c, _ := client.New("https://ledger.example.com")
//	rec, err := c.GetBlock(ctx, 42)
//	report, err := c.Audit(ctx)
//
// # Writing
//
// Give the client operator credentials and it fetches a token on the first
// write, refreshing it 60 seconds before expiry:
//
//	c, _ := client.New(ledgerURL, client.WithOperatorCredentials("alice", secret))
//	rec, err := c.Append(ctx, client.AppendRequest{
//	    OwnerID:    ownerID,
//	    VehicleID:  vehicleID,
//	    RecordType: client.RecordTypeMaintenance,
//	    Payload:    &payload,
//	})
//
// A token obtained elsewhere (e.g. 'ledgerctl token') can be attached with
// WithBearerToken instead.
//
// # Errors
//
// Non-2xx responses are returned as *APIError and match the sentinels:
//
//	if errors.Is(err, client.ErrNotFound) { ... }
package client
