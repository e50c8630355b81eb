package registry

import (
	"errors"
	"fmt"
)

// Configuration errors: surfaced synchronously, never retried, and they
// abort the current build or call. No partial registry is ever cached after
// one of these.
var (
	// ErrRequiredBlokMissing aborts a build when a required blok cannot be
	// found.
	ErrRequiredBlokMissing = errors.New("required blok not found")

	// ErrNamespaceCycle reports a cross-namespace inheritance cycle.
	ErrNamespaceCycle = errors.New("namespace resolution cycle")

	// ErrSessionNotInitialized is returned by session-facade access before
	// the registry finished loading.
	ErrSessionNotInitialized = errors.New("session not initialized")

	// ErrNoPolicyAssociated is returned by permission checks on a model
	// with no policy association.
	ErrNoPolicyAssociated = errors.New("no authorization policy associated")

	// ErrRegistryClosed is returned by operations on a closed registry.
	ErrRegistryClosed = errors.New("registry closed")
)

// NamespaceNotLoadedError reports a lookup of a namespace the registry does
// not hold.
type NamespaceNotLoadedError struct {
	Namespace string
}

func (e *NamespaceNotLoadedError) Error() string {
	return fmt.Sprintf("no namespace %q loaded", e.Namespace)
}
