// Package core contains the reconciler domain entities, store contracts, error
// taxonomy and the shared runtime pieces (config, retry, observability, job
// queue contracts). Adapters depend on this package; core must not depend on
// storage, transport or provider specific packages.
package core
