package service

import (
	"sort"
	"strings"
)

// Slot is a named placeholder inside an admin-configured message text.
type Slot string

const (
	SlotUser  Slot = "[[USER]]"
	SlotGroup Slot = "[[GROUP]]"
)

// Template is an admin-configured message text with named slots.
type Template struct {
	text string
}

// NewTemplate wraps the configured text.
func NewTemplate(text string) Template {
	return Template{text: text}
}

// Render replaces every occurrence of each slot. Slots absent from values stay verbatim.
func (t Template) Render(values map[Slot]string) string {
	if len(values) == 0 {
		return t.text
	}
	slots := make([]string, 0, len(values))
	for slot := range values {
		slots = append(slots, string(slot))
	}
	sort.Strings(slots)

	pairs := make([]string, 0, len(slots)*2)
	for _, slot := range slots {
		pairs = append(pairs, slot, values[Slot(slot)])
	}
	return strings.NewReplacer(pairs...).Replace(t.text)
}
