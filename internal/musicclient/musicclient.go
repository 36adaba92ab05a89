// Package musicclient defines the Music Client boundary contract (spec
// §6): best-effort control of a third-party music service. The core
// never inspects the concrete API; it only calls this interface and
// reads IsAvailable for the snapshot.
package musicclient

import "context"

// Client is the external collaborator contract.
type Client interface {
	Authenticate(ctx context.Context) error
	PlayContext(ctx context.Context, uri string) error
	Pause(ctx context.Context) error
	IsAvailable() bool
}
