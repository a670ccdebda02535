// Package resolver decorates a name resolver with a persistent key-value
// cache. A name is looked up in the store under "<prefix>.<name>"; on a miss
// the wrapped resolver is asked and its answer, found or not, is stored so the
// wrapped resolver is consulted at most once per name for the lifetime of the
// store. Entries are never invalidated.
package resolver
