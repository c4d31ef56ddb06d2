package confsync

import "strings"

// propertiesSuffix is the format suffix namespaces may carry; the
// notification protocol strips it before matching a long-poll response
// back to watched namespaces (spec §4.4's fanOutNotify, §4.5 step 1).
const propertiesSuffix = ".properties"

// NormalizeNamespace strips a trailing ".properties" suffix, returning the
// bare namespace name used as the notification-channel key. Namespaces
// without the suffix are returned unchanged.
func NormalizeNamespace(namespace string) string {
	return strings.TrimSuffix(namespace, propertiesSuffix)
}

// NamespaceVariants returns the set of spellings a registration might be
// found under: the namespace as given, and its other spelling (with
// ".properties" appended, or stripped if already present), matching
// fanOutNotify's "collect all repositories registered under
// namespaceName and under namespaceName + .properties" rule.
func NamespaceVariants(namespace string) []string {
	base := NormalizeNamespace(namespace)
	if base == namespace {
		return []string{base, base + propertiesSuffix}
	}
	return []string{namespace, base}
}
