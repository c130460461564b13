/*
NAME
  dispatch.go

DESCRIPTION
  dispatch.go selects and drives the matching codec parser for one
  elementary-stream source file to completion, producing a finished ESMS
  script, per spec §2/§5's single-owner parser-loop contract.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package dispatch is the per-stream-type parser-selection loop of spec §2:
// given a stream type and an opened source file, it constructs the matching
// bitio.Reader, the matching codec parser and a fresh esms.Writer (no tstd
// instance is constructed), then drives the parse loop to completion or
// fatal error and finalizes the ESMS script. Grounded on revid/pipeline.go's
// single-owner, single-goroutine pipeline-construction idiom (SPEC_FULL.md,
// MODULE dispatch).
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ausocean/bdavcore/bitio"
	"github.com/ausocean/bdavcore/codec/ac3"
	"github.com/ausocean/bdavcore/codec/h262"
	"github.com/ausocean/bdavcore/codec/h264prop"
	"github.com/ausocean/bdavcore/config"
	"github.com/ausocean/bdavcore/esms"
	"github.com/ausocean/bdavcore/hdmv"
	"github.com/ausocean/bdavcore/hdmv/igs"
	"github.com/ausocean/bdavcore/hdmv/pgs"
	"github.com/ausocean/bdavcore/hdmv/segment"
	"github.com/ausocean/utils/logging"
)

// ErrUnsupportedCoding is returned for a (StreamType, CodingType) pair this
// package does not implement.
var ErrUnsupportedCoding = errors.New("dispatch: unsupported stream/coding type")

// Run parses srcPath as coding, drives the matching parser to completion,
// and writes the finished ESMS script to scriptPath. scriptPath must be a
// plain file, since esms.Writer.UpdateHeader reopens it by path to patch in
// the directory table once every section's offset is known.
func Run(srcPath, scriptPath string, st esms.StreamType, coding esms.CodingType, cfg config.Config, log logging.Logger) error {
	if log == nil {
		log = logging.New(logging.Error, io.Discard, true)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("dispatch: opening source file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(scriptPath)
	if err != nil {
		return fmt.Errorf("dispatch: creating script file: %w", err)
	}
	defer out.Close()

	w := esms.Create(st, coding, nil, esms.Options{ExtractCore: cfg.ExtractCore}, log)
	srcIdx, err := w.AppendSourceFile(srcPath)
	if err != nil {
		return fmt.Errorf("dispatch: registering source file: %w", err)
	}

	if err := w.WriteHeader(out); err != nil {
		return fmt.Errorf("dispatch: writing header: %w", err)
	}
	if err := w.BeginPESCutting(out, esms.HeaderSize); err != nil {
		return fmt.Errorf("dispatch: beginning PES cutting: %w", err)
	}

	r := bitio.NewReader(src)

	switch {
	case st == esms.StreamAudio && (coding == esms.CodingAC3 || coding == esms.CodingEAC3 || coding == esms.CodingMLP):
		err = runAC3(r, w, out, srcIdx, coding, log)
	case st == esms.StreamVideo && coding == esms.CodingH262:
		err = runH262(r, w, out, srcIdx, log)
	case st == esms.StreamVideo && coding == esms.CodingH264:
		err = runH264(r, w, out, srcIdx, log)
	case st == esms.StreamHDMV && coding == esms.CodingPGS:
		err = runHDMV(r, w, out, srcIdx, hdmv.KindPGS, cfg, log)
	case st == esms.StreamHDMV && coding == esms.CodingIGS:
		err = runHDMV(r, w, out, srcIdx, hdmv.KindIGS, cfg, log)
	default:
		err = fmt.Errorf("%w: stream=%v coding=%v", ErrUnsupportedCoding, st, coding)
	}
	if err != nil {
		return err
	}

	if err := w.EndPESCutting(out); err != nil {
		return fmt.Errorf("dispatch: ending PES cutting: %w", err)
	}

	pos, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("dispatch: locating script end: %w", err)
	}
	if err := w.Complete(out, pos); err != nil {
		return fmt.Errorf("dispatch: completing script: %w", err)
	}
	if err := w.UpdateHeader(scriptPath); err != nil {
		return fmt.Errorf("dispatch: patching header: %w", err)
	}
	return nil
}

func runAC3(r *bitio.Reader, w *esms.Writer, dst io.Writer, srcIdx uint8, coding esms.CodingType, log logging.Logger) error {
	p := ac3.New(r, w, dst, srcIdx, true, log)
	for {
		var err error
		if coding == esms.CodingMLP {
			_, err = p.ParseMLPFrame()
		} else {
			_, err = p.ParseFrame()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dispatch: parsing AC-3/MLP frame: %w", err)
		}
	}
}

func runH262(r *bitio.Reader, w *esms.Writer, dst io.Writer, srcIdx uint8, log logging.Logger) error {
	p := h262.New(r, w, dst, srcIdx, log)
	for {
		_, err := p.ParseNextPicture()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dispatch: parsing H.262 picture: %w", err)
		}
	}
}

// runH264 scans NAL units, emits one PES frame per access unit (a slice NAL
// immediately following the previous access unit's last NAL), and attaches
// the cpb_removal_time/dpb_output_time extension derived from h264prop.
func runH264(r *bitio.Reader, w *esms.Writer, dst io.Writer, srcIdx uint8, log logging.Logger) error {
	s := h264prop.New(r, log)

	const auTickRate = 27_000_000 // ESMS timestamps are 27 MHz ticks.
	var (
		auStart   int64
		auEnd     int64
		auOpen    bool
		pts       uint64
		cpbTime   uint64
		dpbTime   uint64
		frameTick uint64 = auTickRate / 25 // Constant 25 fps; the SPS frame rate is not consulted.
	)

	flush := func(size int) error {
		if !auOpen {
			return nil
		}
		if err := w.InitVideoFrame(esms.PictureI, true, pts, pts); err != nil {
			return err
		}
		cmd := &esms.AddPayloadData{SrcFileIdx: srcIdx, SrcOffset: uint64(auStart), Size: uint64(size)}
		if err := w.AppendCommand(cmd); err != nil {
			return err
		}
		sps := s.SPS()
		if sps != nil {
			props := h264prop.DeriveProps(sps, 0, 0, 0)
			ext := h264prop.ExtensionPayload(cpbTime, dpbTime)
			_ = props
			if err := w.SetExtensionData(ext); err != nil && !errors.Is(err, esms.ErrExtensionUnsupported) {
				return err
			}
		}
		cpbTime += frameTick
		dpbTime += frameTick
		pts += frameTick
		return w.WriteFrame(dst)
	}

	for {
		n, err := s.NextNALUnit()
		if err == io.EOF {
			return flush(int(auEnd - auStart))
		}
		if err != nil {
			return fmt.Errorf("dispatch: scanning H.264 NAL unit: %w", err)
		}
		if h264prop.IsSliceStart(n.Type) {
			if auOpen {
				if err := flush(int(n.Offset - auStart)); err != nil {
					return fmt.Errorf("dispatch: emitting H.264 access unit: %w", err)
				}
			}
			auStart = n.Offset
			auOpen = true
		}
		auEnd = n.Offset + int64(n.Size)
	}
}

// runHDMV drives the segment/display-set/epoch state machine for one PGS or
// IGS elementary stream to completion.
func runHDMV(r *bitio.Reader, w *esms.Writer, dst io.Writer, srcIdx uint8, kind hdmv.Kind, cfg config.Config, log logging.Logger) error {
	epoch := hdmv.NewEpoch(kind, log)

	var (
		ds           *hdmv.DisplaySet
		prevCheck    uint64
		havePrev     bool
		currentODSID uint16
		// clock is the running presentation-time cursor, seeded from
		// cfg.InitialTimestamp and advanced after each display set so
		// successive display sets get strictly increasing pres_times rather
		// than all sharing the same constant (spec §4.5.4).
		clock = cfg.InitialTimestamp
	)

	for {
		hdr, err := segment.ReadHeader(r)
		if err == io.EOF {
			if ds != nil {
				return fmt.Errorf("dispatch: source ended with an incomplete display set")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("dispatch: reading segment header: %w", err)
		}

		body := make([]byte, hdr.Size)
		if err := r.ReadBytes(body); err != nil {
			return fmt.Errorf("dispatch: reading segment payload: %w", err)
		}

		switch hdr.Type {
		case segment.TypePCS:
			pcs, err := pgs.DecodePCS(body)
			if err != nil {
				return fmt.Errorf("dispatch: decoding PCS: %w", err)
			}
			ds, err = epoch.Begin(hdmvCompositionFromPGS(pcs))
			if err != nil {
				return fmt.Errorf("dispatch: opening display set: %w", err)
			}
			if _, _, err := ds.AddSegment(hdr, body, 0); err != nil {
				return fmt.Errorf("dispatch: recording PCS: %w", err)
			}

		case segment.TypeICS:
			if len(body) < 1 {
				return fmt.Errorf("dispatch: empty ICS segment")
			}
			if segment.ParseFragFlags(body[0]).First {
				partial, err := igs.DecodeICS(body[1:])
				if err != nil {
					return fmt.Errorf("dispatch: decoding ICS header: %w", err)
				}
				ds, err = epoch.Begin(hdmvCompositionFromICS(partial))
				if err != nil {
					return fmt.Errorf("dispatch: opening display set: %w", err)
				}
			}
			if ds == nil {
				return fmt.Errorf("dispatch: ICS continuation with no open display set")
			}
			assembled, complete, err := ds.AddSegment(hdr, body, 0)
			if err != nil {
				return fmt.Errorf("dispatch: recording ICS: %w", err)
			}
			if complete {
				ics, err := igs.DecodeICS(assembled)
				if err != nil {
					return fmt.Errorf("dispatch: decoding assembled ICS: %w", err)
				}
				ds.SetIGSPageGeometry(ics.FirstPageInEffectArea(), ics.DefaultButtonArea())
			}

		case segment.TypeWDS:
			if ds == nil {
				return fmt.Errorf("dispatch: WDS segment with no open display set")
			}
			wds, err := pgs.DecodeWDS(body)
			if err != nil {
				return fmt.Errorf("dispatch: decoding WDS: %w", err)
			}
			if _, _, err := ds.AddSegment(hdr, body, 0); err != nil {
				return fmt.Errorf("dispatch: recording WDS: %w", err)
			}
			for _, win := range wds.Windows {
				ds.NotePGSWindow(win)
			}

		case segment.TypePDS:
			if ds == nil {
				return fmt.Errorf("dispatch: PDS segment with no open display set")
			}
			if len(body) < 1 {
				return fmt.Errorf("dispatch: empty PDS segment")
			}
			id := uint16(body[0]) // palette_id is a single byte (spec §4.5.1).
			if _, _, err := ds.AddSegment(hdr, body, id); err != nil {
				return fmt.Errorf("dispatch: recording PDS: %w", err)
			}
			ds.NotePalette(id)

		case segment.TypeODS:
			if ds == nil {
				return fmt.Errorf("dispatch: ODS segment with no open display set")
			}
			if len(body) < 3 {
				return fmt.Errorf("dispatch: ODS segment too short")
			}
			id := currentODSID
			if segment.ParseFragFlags(body[0]).First {
				id, _ = segment.ObjectIDFromHeader(body[1:])
				currentODSID = id
			}
			assembled, complete, err := ds.AddSegment(hdr, body, id)
			if err != nil {
				return fmt.Errorf("dispatch: recording ODS: %w", err)
			}
			ds.NoteObject(id)
			if complete {
				o, err := pgs.DecodeODS(assembled)
				if err != nil {
					return fmt.Errorf("dispatch: decoding assembled ODS: %w", err)
				}
				if kind == hdmv.KindIGS {
					ds.NoteIGSObject(o)
				} else {
					ds.NotePGSObject(o)
				}
			}

		case segment.TypeEND:
			if ds == nil {
				return fmt.Errorf("dispatch: END segment with no open display set")
			}
			if _, _, err := ds.AddSegment(hdr, body, 0); err != nil {
				return fmt.Errorf("dispatch: recording END: %w", err)
			}
			if err := epoch.Complete(ds, prevCheck, havePrev); err != nil {
				return fmt.Errorf("dispatch: completing display set: %w", err)
			}
			prevCheck, havePrev = ds.Checksum(), true

			presTime := clock
			decodeTime := presTime
			if cfg.ForceRetiming {
				decodeTime = epoch.ComputeDecodeTime(ds, presTime)
			}
			if err := epoch.ValidateOrdering(decodeTime, presTime); err != nil {
				return fmt.Errorf("dispatch: validating display set ordering: %w", err)
			}
			if err := ds.Emit(w, dst, srcIdx, decodeTime, presTime); err != nil {
				return fmt.Errorf("dispatch: emitting display set: %w", err)
			}

			// Advance the clock past this display set's own decode/pres
			// interval so the next one starts clear of it; with retiming off
			// that interval is zero-width, so step by one tick.
			duration := presTime - decodeTime
			if duration == 0 {
				duration = 1
			}
			clock = presTime + duration
			ds = nil

		default:
			return fmt.Errorf("dispatch: unexpected segment type %s", hdr.Type)
		}
	}
}

func hdmvCompositionFromPGS(pcs *pgs.PCS) hdmv.CompositionInfo {
	return hdmv.CompositionInfo{
		Video:             pcs.Video,
		CompositionNumber: pcs.CompositionNumber,
		CompositionState:  pcs.CompositionState,
	}
}

// hdmvCompositionFromICS mirrors hdmvCompositionFromPGS for IGS streams.
func hdmvCompositionFromICS(ics *igs.ICS) hdmv.CompositionInfo {
	return hdmv.CompositionInfo{
		Video:             ics.Video,
		CompositionNumber: ics.CompositionNumber,
		CompositionState:  ics.CompositionState,
	}
}
