// Package config loads Erathia configuration from YAML.
//
// Load and Parse start from Default, so a file only needs the keys it
// changes:
//
//	terrain:
//	  chunk_size: 32
//	  frame_budget: 6ms
//	  max_cached_chunks: 4096
//	vegetation:
//	  max_cache_entries: 500
//	backend: auto
//	log:
//	  level: debug
//	  format: json
//
// Watch reloads a file whenever it changes on disk.
package config
