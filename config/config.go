/*
NAME
  config.go

DESCRIPTION
  config.go holds the authoring-pipeline's configuration: the CLI flags of
  spec §6.6 and the T-STD policy knobs of spec §5, as plain structs with
  small validating constructors.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config mirrors revid/config's style: plain structs of typed
// fields plus small validating constructors, no file-format parsing (that
// remains an external collaborator, spec §1) (SPEC_FULL.md, AMBIENT STACK).
package config

import (
	"fmt"
	"time"
)

// Config holds the per-run settings a dispatch.Run call needs.
type Config struct {
	// ExtractCore sets the extract-core bit of the ESMS script flags (the
	// --extract-core flag). No parser reads it: audio extension/dependent
	// substream frames are not skipped.
	ExtractCore bool

	// ForceRetiming makes the HDMV path recompute each display set's
	// decode_time from segment geometry (the --force-retiming flag); when
	// false, decode_time equals pres_time. In both cases pres_time comes from
	// a running clock seeded by InitialTimestamp; source PTS/DTS are not read.
	ForceRetiming bool

	// InitialTimestamp seeds the HDMV presentation clock, so it is the first
	// PGS/IGS display set's pres_time (the --initial-timestamp flag). The
	// AC-3, H.262 and H.264 paths do not read it.
	InitialTimestamp uint64

	// OrderIGSSegmentsByValue and OrderPGSSegmentsByValue carry the
	// --order-igs/pgs-segments-by-value flags. Nothing reads them: segments
	// are always emitted in parse order.
	OrderIGSSegmentsByValue bool
	OrderPGSSegmentsByValue bool

	TSTD TSTDPolicy
}

// TSTDPolicy carries the T-STD buffering-model knobs of spec §5. No package
// reads it: tstd.NewTree takes its abort-on-underflow setting as an argument,
// and tstd.Tree logs every underflow.
type TSTDPolicy struct {
	// AbortOnUnderflow makes a buffer underflow a fatal error rather than a
	// logged warning.
	AbortOnUnderflow bool

	// UnderflowWarnTimeout holds the re-log interval for a repeated underflow
	// on the same buffer; New rejects a negative value.
	UnderflowWarnTimeout time.Duration
}

// DefaultTSTDPolicy returns the zero-value policy: underflow non-fatal, with
// a zero underflow re-log interval.
func DefaultTSTDPolicy() TSTDPolicy {
	return TSTDPolicy{AbortOnUnderflow: false, UnderflowWarnTimeout: 0}
}

// New validates cfg's fields and returns a ready-to-use Config.
func New(cfg Config) (*Config, error) {
	if cfg.TSTD.UnderflowWarnTimeout < 0 {
		return nil, fmt.Errorf("config: negative underflow_warn_timeout")
	}
	return &cfg, nil
}
