// Package quota measures the dump root and evicts the least valuable dump
// directories once the configured size limit is reached.
//
// Each immediate subdirectory is weighted by size in KiB times age in whole
// minutes, so an old dump is evicted before a fresh one of similar size.
package quota
