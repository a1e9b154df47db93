// Package oremetrics exposes the process-local prometheus collectors that
// the store, resolver and layout applier register themselves under.
package oremetrics

import "github.com/docker/go-metrics"

// NamespacePrefix is the namespace under which every ore metric is
// registered.
const NamespacePrefix = "ore"

var (
	// StoreNamespace covers content-addressable store puts/gets/bytes.
	StoreNamespace = metrics.NewNamespace(NamespacePrefix, "store", nil)

	// ResolverNamespace covers resolution graph construction.
	ResolverNamespace = metrics.NewNamespace(NamespacePrefix, "resolver", nil)

	// ApplierNamespace covers layout extraction and lifecycle scripts.
	ApplierNamespace = metrics.NewNamespace(NamespacePrefix, "applier", nil)
)

func init() {
	metrics.Register(StoreNamespace)
	metrics.Register(ResolverNamespace)
	metrics.Register(ApplierNamespace)
}
