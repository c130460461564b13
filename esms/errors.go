/*
NAME
  errors.go

DESCRIPTION
  errors.go collects the sentinel errors returned by package esms, matching
  the teacher's convention of package-level errors.New vars (see
  container/mts.ErrUnsupportedMedia) so callers can errors.Is them.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package esms

import "errors"

var (
	errShortHeader = errors.New("esms: buffer too short for header")

	// ErrTooManyDirectories is returned by header patching (UpdateHeader)
	// and by Parse if more than MaxDir directories are registered.
	ErrTooManyDirectories = errors.New("esms: too many directories")

	// ErrDuplicateDirectory is returned if the same directory id is
	// registered twice (spec §3.1 invariant).
	ErrDuplicateDirectory = errors.New("esms: duplicate directory id")

	// ErrDuplicateSourceFile is returned by AppendSourceFile for a path
	// already registered (spec §4.2).
	ErrDuplicateSourceFile = errors.New("esms: duplicate source file")

	// ErrFrameOpen is returned by Init*Frame if a previous frame is still
	// open (spec §4.2).
	ErrFrameOpen = errors.New("esms: a PES frame is already open")

	// ErrNoFrameOpen is returned by AppendCommand/SetExtensionData/WriteFrame
	// if no frame has been opened.
	ErrNoFrameOpen = errors.New("esms: no PES frame is open")

	// ErrInvalidSourceFileIndex is returned when a command references a
	// source-file index that is out of range.
	ErrInvalidSourceFileIndex = errors.New("esms: invalid source file index")

	// ErrInvalidDataBlockIndex is returned when a command references a
	// data-block index that is out of range.
	ErrInvalidDataBlockIndex = errors.New("esms: invalid data block index")

	// ErrTooManyDataBlocks is returned once the implementation-defined data
	// block count limit (MaxDataBlocks) is reached.
	ErrTooManyDataBlocks = errors.New("esms: too many data blocks")

	// ErrByteSwapUnaligned is returned when CHANGE_BYTEORDER's length is not
	// a multiple of its unit size (spec §6.4.2).
	ErrByteSwapUnaligned = errors.New("esms: byte swap length not a multiple of unit size")

	// ErrExtensionUnsupported is returned by SetExtensionData for a codec
	// that does not define an extension payload (spec §4.2).
	ErrExtensionUnsupported = errors.New("esms: codec does not support extension data")

	// ErrNotComplete is returned by UpdateHeader if Complete was never
	// called.
	ErrNotComplete = errors.New("esms: script was not completed")
)
