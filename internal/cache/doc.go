// Package cache provides the recency-ordered containers behind the terrain
// and vegetation caches.
//
// LRU is deliberately not synchronized: both owners already hold their own
// state mutex around every cache touch, and the caches must move in lock-step
// with maps guarded by that same mutex.
package cache
