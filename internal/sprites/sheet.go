// Package sprites compiles sheet source directories into four-channel
// texture atlases plus lookup metadata.
package sprites

import "fmt"

// Channel is one of the four atlas output channels.
type Channel int

const (
	ChannelDiffuse Channel = iota
	ChannelNormal
	ChannelSpecular
	ChannelEmissive
	channelCount
)

// String returns the channel name used in artifact filenames.
func (c Channel) String() string {
	switch c {
	case ChannelDiffuse:
		return "diffuse"
	case ChannelNormal:
		return "normal"
	case ChannelSpecular:
		return "specular"
	case ChannelEmissive:
		return "emissive"
	default:
		return "unknown"
	}
}

// FrameRect locates one frame within the finished atlas, in pixels.
type FrameRect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// SpriteRecord is the metadata for one named graphic within a sheet.
// Index is 1-based; index 0 is reserved to mean "absent".
type SpriteRecord struct {
	Index  int
	Width  int
	Height int
	Frames []FrameRect
}

// Sheet accumulates sprite records for one source directory. Its in-memory
// state is rebuilt fresh on every (re)build; only emitted artifacts persist.
type Sheet struct {
	Name   string
	Width  int // max frame-strip width seen
	Height int // sum of sprite heights, strict vertical stacking

	order   []string
	records map[string]*SpriteRecord
}

// NewSheet returns an empty sheet.
func NewSheet(name string) *Sheet {
	return &Sheet{
		Name:    name,
		records: make(map[string]*SpriteRecord),
	}
}

// Add appends a sprite record. Insertion order determines numbering:
// the first sprite gets index 1.
func (s *Sheet) Add(name string, width, height int, frames []FrameRect) (*SpriteRecord, error) {
	if _, exists := s.records[name]; exists {
		return nil, fmt.Errorf("duplicate sprite name %q in sheet %s", name, s.Name)
	}
	rec := &SpriteRecord{
		Index:  len(s.order) + 1,
		Width:  width,
		Height: height,
		Frames: frames,
	}
	s.order = append(s.order, name)
	s.records[name] = rec
	return rec, nil
}

// Record returns the record for a sprite name.
func (s *Sheet) Record(name string) (*SpriteRecord, bool) {
	rec, ok := s.records[name]
	return rec, ok
}

// Names returns sprite names in insertion order.
func (s *Sheet) Names() []string {
	return s.order
}

// flipRectY converts a frame rect from image convention (Y grows down) to
// the renderer's bottom-left origin. This is the only place the renderer
// convention leaks into the compositor; it runs once, at finalize time.
func flipRectY(r FrameRect, atlasHeight int) FrameRect {
	return FrameRect{
		Left:   r.Left,
		Top:    atlasHeight - r.Bottom,
		Right:  r.Right,
		Bottom: atlasHeight - r.Top,
	}
}
