// ABOUTME: Utilities provider: clock, timezone conversion, UUIDs, color swatches.
// ABOUTME: Stateless, always activated, enabled by default.

package builtins

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlink/hearthd/internal/capability"
)

// UtilitiesProvider exposes small host utilities that need no OS authorization.
type UtilitiesProvider struct{}

// NewUtilities creates the utilities provider.
func NewUtilities() *UtilitiesProvider {
	return &UtilitiesProvider{}
}

// ID returns the stable provider identity.
func (u *UtilitiesProvider) ID() string { return "utilities" }

// IsActivated always reports true; utilities need no OS-level permission.
func (u *UtilitiesProvider) IsActivated(_ context.Context) bool { return true }

// Activate is a no-op for utilities.
func (u *UtilitiesProvider) Activate(_ context.Context) error { return nil }

// Tools returns the utility tool descriptors in declaration order.
func (u *UtilitiesProvider) Tools() []capability.ToolDescriptor {
	return []capability.ToolDescriptor{
		{
			Name:        "time_now",
			Description: "Get the current time, optionally in a specific IANA timezone",
			InputSchema: []byte(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone name, e.g. Europe/Berlin"}}}`),
			Annotations: capability.Annotations{Title: "Current Time", ReadOnlyHint: true},
		},
		{
			Name:        "time_convert",
			Description: "Convert an RFC 3339 timestamp between timezones",
			InputSchema: []byte(`{"type":"object","properties":{"time":{"type":"string","format":"date-time"},"to":{"type":"string","description":"target IANA timezone"}},"required":["time","to"]}`),
			Annotations: capability.Annotations{Title: "Convert Time", ReadOnlyHint: true},
		},
		{
			Name:        "generate_uuid",
			Description: "Generate a random UUID",
			InputSchema: []byte(`{"type":"object","properties":{}}`),
			Annotations: capability.Annotations{Title: "Generate UUID", ReadOnlyHint: true},
		},
		{
			Name:        "color_swatch",
			Description: "Render a solid 64x64 PNG swatch for a hex color like #336699",
			InputSchema: []byte(`{"type":"object","properties":{"color":{"type":"string","description":"hex color, #RRGGBB"}},"required":["color"]}`),
			Annotations: capability.Annotations{Title: "Color Swatch", ReadOnlyHint: true},
		},
	}
}

// Call dispatches a utilities tool by name.
func (u *UtilitiesProvider) Call(ctx context.Context, tool string, args map[string]any) (*capability.Result, error) {
	switch tool {
	case "time_now":
		return u.timeNow(args)
	case "time_convert":
		return u.timeConvert(args)
	case "generate_uuid":
		return capability.TextResult(map[string]any{"uuid": uuid.New().String()})
	case "color_swatch":
		return u.colorSwatch(args)
	default:
		return nil, capability.ErrUnknownTool
	}
}

func (u *UtilitiesProvider) timeNow(args map[string]any) (*capability.Result, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
	}

	now := time.Now()
	return capability.TextResult(map[string]any{
		"time":     now.In(loc).Format(time.RFC3339),
		"utc":      capability.Timestamp(now),
		"timezone": loc.String(),
		"unix":     now.Unix(),
	})
}

func (u *UtilitiesProvider) timeConvert(args map[string]any) (*capability.Result, error) {
	raw, ok := args["time"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("time is required")
	}
	target, ok := args["to"].(string)
	if !ok || target == "" {
		return nil, fmt.Errorf("to is required")
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parsing time: %w", err)
	}
	loc, err := time.LoadLocation(target)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", target)
	}

	return capability.TextResult(map[string]any{
		"input":    raw,
		"time":     t.In(loc).Format(time.RFC3339),
		"timezone": loc.String(),
	})
}

func (u *UtilitiesProvider) colorSwatch(args map[string]any) (*capability.Result, error) {
	hex, ok := args["color"].(string)
	if !ok || hex == "" {
		return nil, fmt.Errorf("color is required")
	}

	c, err := parseHexColor(hex)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding swatch: %w", err)
	}
	return capability.BinaryResult("image/png", buf.Bytes()), nil
}

// parseHexColor parses a #RRGGBB string.
func parseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("color must be #RRGGBB, got %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color must be #RRGGBB, got %q", s)
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}
