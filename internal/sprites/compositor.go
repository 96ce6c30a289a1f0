package sprites

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/Faultbox/spriteforge/pkg/formats"
)

// Per-sheet validation errors. Each aborts only the owning sheet's build;
// artifacts from the previous successful build are left untouched.
var (
	ErrInvalidDimensions   = errors.New("invalid sprite strip dimensions")
	ErrMissingDiffuseLayer = errors.New("missing diffuse layer")
	ErrUnknownSpriteFormat = errors.New("unknown sprite source format")
)

// Static strips are named <name>-<W>x<H>.png.
var stripNameRe = regexp.MustCompile(`^(.+)-(\d+)x(\d+)$`)

// sourceKind is the tagged source variant, resolved once per file by
// extension.
type sourceKind int

const (
	sourceStrip sourceKind = iota
	sourceLayered
	sourceIgnored
)

func classifySource(filename string) sourceKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return sourceStrip
	case ".ase", ".aseprite":
		return sourceLayered
	default:
		return sourceIgnored
	}
}

// placement is one pixel buffer awaiting rasterization at a fixed spot.
type placement struct {
	img *image.RGBA
	at  image.Point
}

// compositeQueues holds the pending placements for each output channel.
// They are consumed exactly once per sheet, at finalize time.
type compositeQueues struct {
	placements [channelCount][]placement
}

func (q *compositeQueues) push(ch Channel, img *image.RGBA, at image.Point) {
	q.placements[ch] = append(q.placements[ch], placement{img: img, at: at})
}

// BuildSheet parses every source file in dir (in sorted discovery order) and
// accumulates sprite records and composite queues. Files must be processed
// sequentially: records stack vertically through the running atlas-height
// offset, threaded explicitly through each add call.
func BuildSheet(dir, name string) (*Sheet, *compositeQueues, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	sheet := NewSheet(name)
	queues := &compositeQueues{}
	y := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())

		switch classifySource(e.Name()) {
		case sourceStrip:
			y, err = addStaticStrip(sheet, queues, path, y)
		case sourceLayered:
			y, err = addLayeredDocument(sheet, queues, path, y)
		case sourceIgnored:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}

	sheet.Height = y
	return sheet, queues, nil
}

// addStaticStrip slices a horizontal frame strip into one sprite record and
// queues the whole strip for the diffuse channel. The normal and specular
// areas stay at their canvas background values.
func addStaticStrip(sheet *Sheet, queues *compositeQueues, path string, y int) (int, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := stripNameRe.FindStringSubmatch(base)
	if m == nil {
		return y, fmt.Errorf("%w: strip filename must be <name>-<W>x<H>", ErrUnknownSpriteFormat)
	}
	name := m[1]
	frameW, _ := strconv.Atoi(m[2])
	frameH, _ := strconv.Atoi(m[3])
	if frameW <= 0 || frameH <= 0 {
		return y, fmt.Errorf("%w: zero frame size", ErrInvalidDimensions)
	}

	f, err := os.Open(path)
	if err != nil {
		return y, err
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		return y, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}

	b := decoded.Bounds()
	if b.Dx()%frameW != 0 {
		return y, fmt.Errorf("%w: width %d is not a multiple of frame width %d", ErrInvalidDimensions, b.Dx(), frameW)
	}
	if b.Dy() != frameH {
		return y, fmt.Errorf("%w: height %d does not match frame height %d", ErrInvalidDimensions, b.Dy(), frameH)
	}

	strip := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(strip, image.Point{}, decoded, b, xdraw.Src, nil)

	frameCount := b.Dx() / frameW
	frames := make([]FrameRect, frameCount)
	for i := 0; i < frameCount; i++ {
		frames[i] = FrameRect{
			Left:   i * frameW,
			Top:    y,
			Right:  (i + 1) * frameW,
			Bottom: y + frameH,
		}
	}

	if _, err := sheet.Add(name, frameW, frameH, frames); err != nil {
		return y, err
	}
	queues.push(ChannelDiffuse, strip, image.Point{X: 0, Y: y})

	if b.Dx() > sheet.Width {
		sheet.Width = b.Dx()
	}
	return y + frameH, nil
}

// addLayeredDocument expands a layered document: every tag becomes one
// sprite record occupying its own atlas row, with each tagged frame laid out
// left to right across the four channel queues.
func addLayeredDocument(sheet *Sheet, queues *compositeQueues, path string, y int) (int, error) {
	doc, err := formats.ParseASEFile(path)
	if err != nil {
		return y, err
	}

	cellW, cellH := doc.Width, doc.Height
	target := image.Point{X: cellW, Y: cellH}

	tags := doc.Tags
	if len(tags) == 0 {
		// An untagged document is a single animation spanning every frame.
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		tags = []formats.ASETag{{Name: base, From: 0, To: len(doc.Frames) - 1}}
	}

	for _, tag := range tags {
		frameCount := tag.To - tag.From + 1
		frames := make([]FrameRect, 0, frameCount)

		for fi := 0; fi < frameCount; fi++ {
			frame := tag.From + fi
			at := image.Point{X: fi * cellW, Y: y}

			diffuse := doc.Cel(frame, "diffuse")
			if diffuse == nil {
				return y, fmt.Errorf("%w: tag %q frame %d", ErrMissingDiffuseLayer, tag.Name, frame)
			}
			queues.push(ChannelDiffuse, normalizedCel(diffuse, target), at)

			if emissive := doc.Cel(frame, "emissive"); emissive != nil {
				queues.push(ChannelEmissive, normalizedCel(emissive, target), at)
			}

			if height := doc.Cel(frame, "height"); height != nil {
				queues.push(ChannelNormal, SynthesizeNormalMap(normalizedCel(height, target)), at)
			} else {
				// Every atlas region needs a defined normal.
				queues.push(ChannelNormal, flatNormalCell(cellW, cellH), at)
			}

			if specular := doc.Cel(frame, "specular"); specular != nil {
				queues.push(ChannelSpecular, intensityCell(normalizedCel(specular, target)), at)
			} else {
				queues.push(ChannelSpecular, opaqueBlackCell(cellW, cellH), at)
			}

			frames = append(frames, FrameRect{
				Left:   fi * cellW,
				Top:    y,
				Right:  (fi + 1) * cellW,
				Bottom: y + cellH,
			})
		}

		if _, err := sheet.Add(tag.Name, cellW, cellH, frames); err != nil {
			return y, err
		}
		if stripW := frameCount * cellW; stripW > sheet.Width {
			sheet.Width = stripW
		}
		y += cellH
	}

	return y, nil
}

// normalizedCel pads or clips a trimmed cel to the document canvas size.
func normalizedCel(cel *formats.ASECel, target image.Point) *image.RGBA {
	return NormalizeCell(celImage(cel.Pixels, cel.Width, cel.Height), image.Point{X: cel.X, Y: cel.Y}, target)
}

// intensityCell forces an authored specular cel to a single intensity
// channel: the red channel masked by alpha, opaque in the output.
func intensityCell(cell *image.RGBA) *image.RGBA {
	out := image.NewRGBA(cell.Bounds())
	for i := 0; i < len(cell.Pix); i += 4 {
		v := cell.Pix[i]
		if a := cell.Pix[i+3]; a < v {
			v = a
		}
		out.Pix[i] = v
		out.Pix[i+1] = v
		out.Pix[i+2] = v
		out.Pix[i+3] = 255
	}
	return out
}

// opaqueBlackCell is the placeholder for sprites without a specular layer.
func opaqueBlackCell(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRGBA(img, 0, 0, 0, 255)
	return img
}
