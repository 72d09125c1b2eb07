package ewaste

import "strings"

// Category is an e-waste item type from a closed taxonomy.
type Category string

const (
	Laptop   Category = "LAPTOP"
	Phone    Category = "PHONE"
	Tablet   Category = "TABLET"
	Monitor  Category = "MONITOR"
	Desktop  Category = "DESKTOP"
	Keyboard Category = "KEYBOARD"
	Mouse    Category = "MOUSE"
	Printer  Category = "PRINTER"
	Speaker  Category = "SPEAKER"
	Other    Category = "OTHER"
)

// Categories lists the taxonomy in its canonical order.
var Categories = []Category{
	Laptop, Phone, Tablet, Monitor, Desktop, Keyboard, Mouse, Printer, Speaker, Other,
}

// labelAliases maps detector class names (COCO and friends) onto the taxonomy.
var labelAliases = map[string]Category{
	"notebook":       Laptop,
	"cell phone":     Phone,
	"cellphone":      Phone,
	"mobile phone":   Phone,
	"smartphone":     Phone,
	"ipad":           Tablet,
	"tv":             Monitor,
	"television":     Monitor,
	"screen":         Monitor,
	"display":        Monitor,
	"computer":       Desktop,
	"pc":             Desktop,
	"desktop pc":     Desktop,
	"tower":          Desktop,
	"computer mouse": Mouse,
	"loudspeaker":    Speaker,
}

// Valid reports whether c is part of the taxonomy.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory matches s case-insensitively against the taxonomy. Anything
// unmatched, including names with surrounding whitespace, becomes Other.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(s))
	if c.Valid() {
		return c
	}
	return Other
}

// CategoryFromLabel maps a raw model label to a Category. It accepts the
// taxonomy names plus common detector class names; unknown labels become Other.
func CategoryFromLabel(label string) Category {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	if c, ok := labelAliases[normalized]; ok {
		return c
	}
	return ParseCategory(strings.ReplaceAll(normalized, " ", ""))
}
