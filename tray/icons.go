package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/yllada/vpn-session/session"
)

// iconSize is the tray icon edge in pixels.
const iconSize = 22

type iconKind int

const (
	iconDisconnected iconKind = iota
	iconBusy
	iconConnected
)

// palette colors one icon variant.
type palette struct {
	fill   color.RGBA
	border color.RGBA
	accent color.RGBA
	symbol color.RGBA
}

var palettes = map[iconKind]palette{
	iconDisconnected: {
		fill:   color.RGBA{117, 117, 117, 255},
		border: color.RGBA{158, 158, 158, 255},
		accent: color.RGBA{189, 189, 189, 255},
		symbol: color.RGBA{255, 255, 255, 255},
	},
	iconBusy: {
		fill:   color.RGBA{230, 145, 0, 255},
		border: color.RGBA{255, 183, 77, 255},
		accent: color.RGBA{255, 224, 178, 255},
		symbol: color.RGBA{255, 255, 255, 255},
	},
	iconConnected: {
		fill:   color.RGBA{56, 142, 60, 255},
		border: color.RGBA{76, 175, 80, 255},
		accent: color.RGBA{200, 230, 201, 255},
		symbol: color.RGBA{255, 255, 255, 255},
	},
}

// Rendered once; systray copies the bytes on every SetIcon.
var icons = map[iconKind][]byte{
	iconDisconnected: renderIcon(iconDisconnected),
	iconBusy:         renderIcon(iconBusy),
	iconConnected:    renderIcon(iconConnected),
}

// iconFor maps a Stage to its icon variant.
func iconFor(st session.Stage) iconKind {
	switch st {
	case session.StageConnected:
		return iconConnected
	case session.StagePreparing, session.StageAwaitingPermission, session.StageConnecting,
		session.StageAuthenticating, session.StageWaitConnection, session.StageReconnecting:
		return iconBusy
	default:
		return iconDisconnected
	}
}

// renderIcon draws a shield with a state symbol and returns it as PNG.
func renderIcon(kind iconKind) []byte {
	p := palettes[kind]
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))

	drawShield(img, p)
	switch kind {
	case iconConnected:
		drawCheckmark(img, p.symbol)
	case iconBusy:
		drawDots(img, p.symbol)
	default:
		drawLock(img, p.symbol)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		// Encoding an in-memory RGBA image cannot fail.
		panic(err)
	}
	return buf.Bytes()
}

// inShield reports whether the point lies inside the shield outline:
// straight sides for the top half, a parabolic taper below.
func inShield(x, y float64) bool {
	const top, bottom = 1.0, iconSize - 2.0
	const halfWidth = (iconSize - 4.0) / 2
	rel := (y - top) / (bottom - top)
	if rel < 0 || rel > 1 {
		return false
	}
	w := halfWidth - rel*0.5
	if rel >= 0.5 {
		t := (rel - 0.5) * 2
		w = (halfWidth - 0.25) * (1 - t*t)
	}
	const center = iconSize / 2.0
	return x >= center-w && x <= center+w
}

func drawShield(img *image.RGBA, p palette) {
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inShield(fx, fy) {
				continue
			}
			edge := !inShield(fx-1, fy) || !inShield(fx+1, fy) ||
				!inShield(fx, fy-1) || !inShield(fx, fy+1)
			switch {
			case edge:
				img.Set(x, y, p.border)
			case float64(y)/iconSize < 0.3:
				img.Set(x, y, p.accent)
			default:
				img.Set(x, y, p.fill)
			}
		}
	}
}

func drawCheckmark(img *image.RGBA, c color.RGBA) {
	for _, pt := range []image.Point{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	} {
		img.Set(pt.X, pt.Y, c)
	}
}

// drawDots draws three dots across the middle of the shield.
func drawDots(img *image.RGBA, c color.RGBA) {
	for _, cx := range []int{7, 11, 15} {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				img.Set(cx-1+dx, 10+dy, c)
			}
		}
	}
}

func drawLock(img *image.RGBA, c color.RGBA) {
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				img.Set(x, y, c)
			}
		}
	}
	for y := 6; y <= 8; y++ {
		img.Set(9, y, c)
		img.Set(13, y, c)
	}
	for x := 9; x <= 13; x++ {
		img.Set(x, 6, c)
	}
}
