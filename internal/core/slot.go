package core

// Slot is the unique small index (and derived colour) held by a participant.
// A nil Index means unassigned.
type Slot struct {
	Index     *int   `json:"index"`
	Color     string `json:"color"`
	TextColor string `json:"textColor"`
	ColorName string `json:"colorName"`
	Timestamp int64  `json:"timestamp"`
}

type paletteColor struct {
	name string
	hex  string
	dark bool
}

const (
	defaultColorName = "gray"
	defaultColor     = "#878291"
	lightText        = "#fff"
	darkText         = "#26242a"
)

// ordered, index in the slot pool maps to position here
var palette = []paletteColor{
	{"turquoise", "#31E0B0", false},
	{"orange", "#FF6D6D", true},
	{"brightblue", "#3A98FF", true},
	{"lightgreen", "#8BE06F", false},
	{"purple", "#A458FF", true},
	{"yellow", "#FAD32C", false},
	{"pink", "#F26DB6", true},
	{"cyan", "#00C4E8", false},
	{"green", "#17B26A", true},
	{"red", "#E14B4B", true},
	{"teal", "#0EA5A5", true},
	{"lilac", "#C39BFF", false},
	{"peach", "#FFB38A", false},
	{"navy", "#2E4C9A", true},
	{"lime", "#C6E34A", false},
	{"magenta", "#D2359B", true},
	{"skyblue", "#7FC8FF", false},
	{"olive", "#7A8B2B", true},
	{"coral", "#FF7F66", false},
	{"indigo", "#5B4CE0", true},
	{"mint", "#9EF0D0", false},
	{"brown", "#8A5A3C", true},
	{"gold", "#E0B12E", false},
	{"violet", "#8E3FD6", true},
	{"salmon", "#F49A8C", false},
	{"cobalt", "#1F62D1", true},
	{"sand", "#E6CB97", false},
	{"crimson", "#B8203E", true},
	{"aqua", "#5CE1E6", false},
	{"forest", "#2E7D32", true},
	{"lavender", "#B8A9F2", false},
	{"rust", "#B5502A", true},
	{"lemon", "#F4EC6E", false},
	{"plum", "#7E3A76", true},
	{"seafoam", "#71D6B4", false},
	{"denim", "#3C5F8F", true},
	{"apricot", "#FBC78F", false},
	{"emerald", "#109A6E", true},
	{"rose", "#F58BA8", false},
	{"ocean", "#1B7FA6", true},
	{"pistachio", "#B9D98B", false},
	{"wine", "#8C1D40", true},
	{"ice", "#BDE8F5", false},
	{"grape", "#6A3FA0", true},
	{"butter", "#F7DD8C", false},
	{"pine", "#1E6152", true},
	{"blush", "#F3B6C8", false},
	{"steel", "#4F6D85", true},
	{"khaki", "#CFC28A", false},
	{"charcoal", "#3D3A44", true},
}

// PaletteSize is the number of distinct colours; pools larger than this wrap.
var PaletteSize = len(palette)

// NewSlot derives the slot colours from index
func NewSlot(index int, timestamp int64) Slot {
	c := palette[index%len(palette)]
	textColor := darkText
	if c.dark {
		textColor = lightText
	}
	i := index

	return Slot{
		Index:     &i,
		Color:     c.hex,
		TextColor: textColor,
		ColorName: c.name,
		Timestamp: timestamp,
	}
}

// DefaultSlot is the neutral, unassigned slot
func DefaultSlot(timestamp int64) Slot {
	return Slot{
		Index:     nil,
		Color:     defaultColor,
		TextColor: lightText,
		ColorName: defaultColorName,
		Timestamp: timestamp,
	}
}

func (s Slot) Clone() Slot {
	c := s
	if s.Index != nil {
		i := *s.Index
		c.Index = &i
	}
	return c
}
