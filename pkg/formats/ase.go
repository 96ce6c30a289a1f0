// Package formats provides parsers for sprite source file formats.
package formats

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ASE format errors.
var (
	ErrInvalidASEMagic       = errors.New("invalid ASE magic: expected 0xA5E0")
	ErrTruncatedASEData      = errors.New("truncated ASE data")
	ErrUnsupportedColorDepth = errors.New("unsupported ASE color depth")
	ErrBadCelReference       = errors.New("cel references unknown layer or frame")
)

// Chunk types we care about. Everything else is skipped.
const (
	aseChunkLayer = 0x2004
	aseChunkCel   = 0x2005
	aseChunkTags  = 0x2018
)

// Cel types.
const (
	aseCelRaw        = 0
	aseCelLinked     = 1
	aseCelCompressed = 2
)

const aseHeaderMagic = 0xA5E0
const aseFrameMagic = 0xF1FA

// ASELayer is one named layer of a document, in stacking order.
type ASELayer struct {
	Name    string
	Visible bool
}

// ASECel is the drawable content of one layer on one frame, already
// converted to RGBA. X/Y are the authored offset of the trimmed content
// within the document canvas and may be negative.
type ASECel struct {
	Layer  int
	X, Y   int
	Width  int
	Height int
	Pixels []byte // RGBA, 4 bytes per pixel
}

// ASEFrame holds the cels present on one frame.
type ASEFrame struct {
	DurationMS int
	Cels       []ASECel
}

// ASETag is a named frame range.
type ASETag struct {
	Name string
	From int
	To   int // inclusive
}

// ASE is a parsed Aseprite document.
type ASE struct {
	Width      int
	Height     int
	ColorDepth int // bits per pixel in the source file
	Layers     []ASELayer
	Frames     []ASEFrame
	Tags       []ASETag
}

// Cel returns the cel for the named layer (case-insensitive) on the given
// frame, or nil if the layer is absent or has no content on that frame.
func (a *ASE) Cel(frame int, layerName string) *ASECel {
	if frame < 0 || frame >= len(a.Frames) {
		return nil
	}
	layer := -1
	for i := range a.Layers {
		if strings.EqualFold(a.Layers[i].Name, layerName) {
			layer = i
			break
		}
	}
	if layer < 0 {
		return nil
	}
	cels := a.Frames[frame].Cels
	for i := range cels {
		if cels[i].Layer == layer {
			return &cels[i]
		}
	}
	return nil
}

// ParseASE parses an Aseprite document from raw bytes.
func ParseASE(data []byte) (*ASE, error) {
	if len(data) < 128 {
		return nil, ErrTruncatedASEData
	}

	magic := binary.LittleEndian.Uint16(data[4:6])
	if magic != aseHeaderMagic {
		return nil, ErrInvalidASEMagic
	}

	frameCount := int(binary.LittleEndian.Uint16(data[6:8]))
	width := int(binary.LittleEndian.Uint16(data[8:10]))
	height := int(binary.LittleEndian.Uint16(data[10:12]))
	depth := int(binary.LittleEndian.Uint16(data[12:14]))

	switch depth {
	case 32, 16:
	default:
		// Indexed documents would need palette resolution; authors export
		// sprite sources in RGBA or grayscale.
		return nil, fmt.Errorf("%w: %d bpp", ErrUnsupportedColorDepth, depth)
	}

	ase := &ASE{
		Width:      width,
		Height:     height,
		ColorDepth: depth,
		Frames:     make([]ASEFrame, 0, frameCount),
	}

	r := bytes.NewReader(data[128:])
	for i := 0; i < frameCount; i++ {
		if err := parseASEFrame(r, ase); err != nil {
			return nil, fmt.Errorf("parsing frame %d: %w", i, err)
		}
	}

	return ase, nil
}

// ParseASEFile parses an Aseprite document from disk.
func ParseASEFile(path string) (*ASE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ASE file: %w", err)
	}
	return ParseASE(data)
}

func parseASEFrame(r *bytes.Reader, ase *ASE) error {
	var hdr struct {
		Bytes     uint32
		Magic     uint16
		OldChunks uint16
		Duration  uint16
		_         [2]byte
		NewChunks uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return ErrTruncatedASEData
	}
	if hdr.Magic != aseFrameMagic {
		return fmt.Errorf("%w: bad frame magic 0x%X", ErrInvalidASEMagic, hdr.Magic)
	}

	chunks := int(hdr.NewChunks)
	if chunks == 0 {
		chunks = int(hdr.OldChunks)
	}

	frame := ASEFrame{DurationMS: int(hdr.Duration)}
	ase.Frames = append(ase.Frames, frame)
	self := len(ase.Frames) - 1

	for c := 0; c < chunks; c++ {
		var size uint32
		var ctype uint16
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return ErrTruncatedASEData
		}
		if err := binary.Read(r, binary.LittleEndian, &ctype); err != nil {
			return ErrTruncatedASEData
		}
		if size < 6 {
			return fmt.Errorf("%w: chunk size %d", ErrTruncatedASEData, size)
		}
		payload := make([]byte, size-6)
		if _, err := io.ReadFull(r, payload); err != nil {
			return ErrTruncatedASEData
		}

		switch ctype {
		case aseChunkLayer:
			if err := parseLayerChunk(payload, ase); err != nil {
				return err
			}
		case aseChunkCel:
			cel, err := parseCelChunk(payload, ase, self)
			if err != nil {
				return err
			}
			if cel != nil {
				ase.Frames[self].Cels = append(ase.Frames[self].Cels, *cel)
			}
		case aseChunkTags:
			if err := parseTagsChunk(payload, ase); err != nil {
				return err
			}
		default:
			// Palettes, color profiles, user data, slices: not needed.
		}
	}

	return nil
}

func parseLayerChunk(payload []byte, ase *ASE) error {
	if len(payload) < 18 {
		return ErrTruncatedASEData
	}
	flags := binary.LittleEndian.Uint16(payload[0:2])
	name, _, err := parseASEString(payload[16:])
	if err != nil {
		return err
	}
	ase.Layers = append(ase.Layers, ASELayer{
		Name:    name,
		Visible: flags&1 != 0,
	})
	return nil
}

func parseCelChunk(payload []byte, ase *ASE, frame int) (*ASECel, error) {
	if len(payload) < 16 {
		return nil, ErrTruncatedASEData
	}
	layer := int(binary.LittleEndian.Uint16(payload[0:2]))
	x := int(int16(binary.LittleEndian.Uint16(payload[2:4])))
	y := int(int16(binary.LittleEndian.Uint16(payload[4:6])))
	celType := int(binary.LittleEndian.Uint16(payload[7:9]))
	body := payload[16:]

	if layer >= len(ase.Layers) {
		return nil, fmt.Errorf("%w: layer %d", ErrBadCelReference, layer)
	}

	switch celType {
	case aseCelLinked:
		if len(body) < 2 {
			return nil, ErrTruncatedASEData
		}
		src := int(binary.LittleEndian.Uint16(body[0:2]))
		if src >= frame {
			return nil, fmt.Errorf("%w: link to frame %d", ErrBadCelReference, src)
		}
		for i := range ase.Frames[src].Cels {
			if ase.Frames[src].Cels[i].Layer == layer {
				linked := ase.Frames[src].Cels[i]
				return &linked, nil
			}
		}
		return nil, fmt.Errorf("%w: link to empty cel on frame %d", ErrBadCelReference, src)

	case aseCelRaw, aseCelCompressed:
		if len(body) < 4 {
			return nil, ErrTruncatedASEData
		}
		w := int(binary.LittleEndian.Uint16(body[0:2]))
		h := int(binary.LittleEndian.Uint16(body[2:4]))
		raw := body[4:]
		if celType == aseCelCompressed {
			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("cel zlib: %w", err)
			}
			defer zr.Close()
			raw, err = io.ReadAll(zr)
			if err != nil {
				return nil, fmt.Errorf("cel zlib: %w", err)
			}
		}
		pixels, err := celPixelsToRGBA(raw, w, h, ase.ColorDepth)
		if err != nil {
			return nil, err
		}
		return &ASECel{Layer: layer, X: x, Y: y, Width: w, Height: h, Pixels: pixels}, nil

	default:
		// Tilemap cels belong to the map pipeline, not sprite sheets.
		return nil, nil
	}
}

func parseTagsChunk(payload []byte, ase *ASE) error {
	if len(payload) < 10 {
		return ErrTruncatedASEData
	}
	count := int(binary.LittleEndian.Uint16(payload[0:2]))
	rest := payload[10:]
	for i := 0; i < count; i++ {
		if len(rest) < 17 {
			return ErrTruncatedASEData
		}
		from := int(binary.LittleEndian.Uint16(rest[0:2]))
		to := int(binary.LittleEndian.Uint16(rest[2:4]))
		name, n, err := parseASEString(rest[17:])
		if err != nil {
			return err
		}
		ase.Tags = append(ase.Tags, ASETag{Name: name, From: from, To: to})
		rest = rest[17+n:]
	}
	return nil
}

// parseASEString reads a length-prefixed UTF-8 string and returns the string
// plus the number of bytes consumed.
func parseASEString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, ErrTruncatedASEData
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+n {
		return "", 0, ErrTruncatedASEData
	}
	return string(data[2 : 2+n]), 2 + n, nil
}

// celPixelsToRGBA converts raw cel pixel data to RGBA.
func celPixelsToRGBA(raw []byte, w, h, depth int) ([]byte, error) {
	count := w * h
	switch depth {
	case 32:
		if len(raw) < count*4 {
			return nil, ErrTruncatedASEData
		}
		out := make([]byte, count*4)
		copy(out, raw[:count*4])
		return out, nil
	case 16:
		// Grayscale: value, alpha.
		if len(raw) < count*2 {
			return nil, ErrTruncatedASEData
		}
		out := make([]byte, count*4)
		for i := 0; i < count; i++ {
			v, a := raw[i*2], raw[i*2+1]
			out[i*4] = v
			out[i*4+1] = v
			out[i*4+2] = v
			out[i*4+3] = a
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d bpp", ErrUnsupportedColorDepth, depth)
	}
}
