// Package credential holds the short-lived access credential in memory.
//
// The credential is an opaque bearer string. It is never written to durable
// storage and is lost when the process exits:
//
//	store := credential.NewStore()
//	store.Set(accessToken, 15*time.Minute)
//	token, ok := store.Get()
//
// Store implements oauth2.TokenSource so consumers can hand it to
// oauth2.Transport. Claims decodes JWT-shaped credentials for diagnostics only;
// it does not verify signatures and must not be used for trust decisions.
package credential
