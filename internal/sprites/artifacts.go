package sprites

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// SpriteMeta is the per-sprite entry of a sheet descriptor. Frame rects are
// already converted to the renderer's bottom-left origin.
type SpriteMeta struct {
	Index  int         `json:"index"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Frames []FrameRect `json:"frames"`
}

// SheetDescriptor is the lookup metadata emitted alongside the four atlas
// images. Index slot 0 is reserved empty: index 0 means "absent".
type SheetDescriptor struct {
	Name    string                `json:"name"`
	Width   int                   `json:"width"`
	Height  int                   `json:"height"`
	Atlases map[string]string     `json:"atlases"`
	Sprites map[string]SpriteMeta `json:"sprites"`
	Index   []string              `json:"index"`
}

func atlasFileName(sheet string, ch Channel) string {
	return fmt.Sprintf("%s-%s.png", sheet, ch)
}

func descriptorFileName(sheet string) string {
	return sheet + ".sheet.json"
}

func reverseIndexFileName(sheet string) string {
	return sheet + ".index.txt"
}

// artifactNames lists every file a sheet emits, relative to the output dir.
func artifactNames(sheet string) []string {
	names := make([]string, 0, int(channelCount)+2)
	for ch := Channel(0); ch < channelCount; ch++ {
		names = append(names, atlasFileName(sheet, ch))
	}
	return append(names, descriptorFileName(sheet), reverseIndexFileName(sheet))
}

// FinalizeSheet rasterizes the four composite queues, writes the atlas
// images, and emits the descriptor plus the flat reverse index consumed by
// the map-tile compositor. The four rasterizations are independent and run
// concurrently; the lookup metadata is written only after all four complete.
// Returns nil for an empty sheet without touching the output directory.
func FinalizeSheet(sheet *Sheet, queues *compositeQueues, outDir string, production bool) (*SheetDescriptor, error) {
	if sheet.Width == 0 || sheet.Height == 0 || len(sheet.Names()) == 0 {
		return nil, nil
	}

	level := png.BestSpeed
	if production {
		level = png.BestCompression
	}

	var encoded [channelCount][]byte
	var encodeErr [channelCount]error
	var wg sync.WaitGroup
	for ch := Channel(0); ch < channelCount; ch++ {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			encoded[ch], encodeErr[ch] = rasterizeChannel(sheet, queues, ch, level)
		}(ch)
	}
	wg.Wait()
	for ch := Channel(0); ch < channelCount; ch++ {
		if encodeErr[ch] != nil {
			return nil, fmt.Errorf("rasterizing %s: %w", ch, encodeErr[ch])
		}
	}

	desc := &SheetDescriptor{
		Name:    sheet.Name,
		Width:   sheet.Width,
		Height:  sheet.Height,
		Atlases: make(map[string]string, channelCount),
		Sprites: make(map[string]SpriteMeta, len(sheet.Names())),
		Index:   make([]string, 1, len(sheet.Names())+1), // slot 0 reserved
	}

	for ch := Channel(0); ch < channelCount; ch++ {
		name := atlasFileName(sheet.Name, ch)
		if err := os.WriteFile(filepath.Join(outDir, name), encoded[ch], 0644); err != nil {
			return nil, err
		}
		desc.Atlases[ch.String()] = name + "?v=" + contentHash(encoded[ch])
	}

	for _, name := range sheet.Names() {
		rec, _ := sheet.Record(name)
		flipped := make([]FrameRect, len(rec.Frames))
		for i, r := range rec.Frames {
			flipped[i] = flipRectY(r, sheet.Height)
		}
		desc.Sprites[name] = SpriteMeta{
			Index:  rec.Index,
			Width:  rec.Width,
			Height: rec.Height,
			Frames: flipped,
		}
		desc.Index = append(desc.Index, name)
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, descriptorFileName(sheet.Name)), append(data, '\n'), 0644); err != nil {
		return nil, err
	}

	var rev bytes.Buffer
	for _, name := range sheet.Names() {
		rec, _ := sheet.Record(name)
		fmt.Fprintf(&rev, "%s %d\n", name, rec.Index)
	}
	if err := os.WriteFile(filepath.Join(outDir, reverseIndexFileName(sheet.Name)), rev.Bytes(), 0644); err != nil {
		return nil, err
	}

	return desc, nil
}

// rasterizeChannel flattens one queue onto a canvas with the channel's
// background and encodes it as PNG.
func rasterizeChannel(sheet *Sheet, queues *compositeQueues, ch Channel, level png.CompressionLevel) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, sheet.Width, sheet.Height))
	switch ch {
	case ChannelNormal:
		fillRGBA(canvas, flatNormalR, flatNormalG, flatNormalB, 255)
	case ChannelSpecular:
		fillRGBA(canvas, 0, 0, 0, 255)
	default:
		// Diffuse and emissive stay transparent black.
	}

	for _, p := range queues.placements[ch] {
		xdraw.Copy(canvas, p.at, p.img, p.img.Bounds(), xdraw.Src, nil)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// contentHash is the cache-busting query value for an atlas URL.
func contentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:4])
}
