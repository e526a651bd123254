package domain

import "errors"

// Sentinel errors for cache and sync operations
var (
	// ErrCacheMiss indicates the requested cache key has no entry
	ErrCacheMiss = errors.New("cache entry not found")

	// ErrShapeMismatch indicates a cache read with a type that does not
	// match the shape registered for the key
	ErrShapeMismatch = errors.New("cache payload shape mismatch")

	// ErrUnregisteredKey indicates a cache key outside the naming contract
	ErrUnregisteredKey = errors.New("cache key not registered")

	// ErrSyncActive indicates a sync run is already in flight
	ErrSyncActive = errors.New("sync already active")

	// ErrOffline indicates no usable network is available
	ErrOffline = errors.New("device is offline")

	// ErrSourceUnavailable indicates a backend source did not respond
	ErrSourceUnavailable = errors.New("source is unreachable")

	// ErrSourceNotFound indicates an unknown source id
	ErrSourceNotFound = errors.New("source not found")
)
