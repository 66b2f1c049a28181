// Package iconfig holds the engine's tuning knobs: values that are not
// per-call arguments but still need to be adjustable without recompiling,
// in the spirit of the teacher repository's viper-backed configuration
// layers. Full directory-tree configuration remains a VFS-layer concern
// outside this package's scope (spec.md §1).
package iconfig

import (
	"time"

	"github.com/spf13/viper"
)

// Engine holds the normative default tunables referenced across §4.4,
// §4.5, and §6.5.
type Engine struct {
	// LeaseTimeout is the I/O queue's default lease timeout (§4.4).
	LeaseTimeout time.Duration
	// ZeroFillHWMBlocks is the chunk size, in blocks, used to zero-fill a
	// freshly created volume (§4.5's hwm_blocks, default 16).
	ZeroFillHWMBlocks int
	// ProgressIntervalBytes is how often create_empty reports progress
	// (§4.5, "every ≈5 MB by default").
	ProgressIntervalBytes int64
	// FBMCommitFrequency is how many data-block writes accumulate before a
	// write stream commits its FBM address appends (§6.5, default 16).
	FBMCommitFrequency int
	// ReadStreamChunkSize bounds a single read stream chunk (§6.5, default
	// 64 KiB).
	ReadStreamChunkSize int
}

// Defaults returns the normative defaults with no external configuration
// applied.
func Defaults() Engine {
	return Engine{
		LeaseTimeout:          3000 * time.Millisecond,
		ZeroFillHWMBlocks:     16,
		ProgressIntervalBytes: 5 * 1024 * 1024,
		FBMCommitFrequency:    16,
		ReadStreamChunkSize:   64 * 1024,
	}
}

// Load overlays Defaults() with any values found in the given viper
// instance, under the keys lease_timeout_ms, zero_fill_hwm_blocks,
// progress_interval_bytes, fbm_commit_frequency, and
// read_stream_chunk_size. A nil v returns the defaults unchanged.
func Load(v *viper.Viper) Engine {
	e := Defaults()
	if v == nil {
		return e
	}
	if v.IsSet("lease_timeout_ms") {
		e.LeaseTimeout = time.Duration(v.GetInt64("lease_timeout_ms")) * time.Millisecond
	}
	if v.IsSet("zero_fill_hwm_blocks") {
		e.ZeroFillHWMBlocks = v.GetInt("zero_fill_hwm_blocks")
	}
	if v.IsSet("progress_interval_bytes") {
		e.ProgressIntervalBytes = v.GetInt64("progress_interval_bytes")
	}
	if v.IsSet("fbm_commit_frequency") {
		e.FBMCommitFrequency = v.GetInt("fbm_commit_frequency")
	}
	if v.IsSet("read_stream_chunk_size") {
		e.ReadStreamChunkSize = v.GetInt("read_stream_chunk_size")
	}
	return e
}
