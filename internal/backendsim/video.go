package backendsim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/npratt/dobi/internal/backend"
)

const (
	frameWidth  = 640
	frameHeight = 480
	jpegQuality = 80
	// Boundary is the multipart boundary of the /video stream.
	Boundary = "frame"
)

var (
	background = color.RGBA{A: 255}
	dimGray    = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	safeGreen  = color.RGBA{G: 255, A: 255}
	alertRed   = color.RGBA{R: 255, A: 255}
)

// video streams frames until the client goes away.
func (s *Server) video(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	for {
		frame, err := s.renderFrame()
		if err != nil {
			s.logger.Warn("render frame failed", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// renderFrame draws the latest detections, or the no-signal placeholder
// when no stream is attached.
func (s *Server) renderFrame() ([]byte, error) {
	s.mu.Lock()
	running := s.running
	lastError := s.lastError
	dets := append([]backend.Detection(nil), s.detections...)
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	if !running {
		drawText(img, "No Video Signal", 180, 240, dimGray)
		if lastError != "" {
			if len(lastError) > 50 {
				lastError = lastError[:50]
			}
			drawText(img, lastError, 50, 280, dimGray)
		}
		return encode(img)
	}

	for _, d := range dets {
		if len(d.Box) != 4 {
			continue
		}
		c := safeGreen
		label := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		if d.IsPerson() {
			label += fmt.Sprintf(" (%s)", d.PPEStatus)
			if !d.PPEStatus.Compliant() {
				c = alertRed
			}
		}
		drawBox(img, image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3]), c)
		drawText(img, label, d.Box[0], d.Box[1]-4, c)
	}
	return encode(img)
}

func drawText(img draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawBox(img draw.Image, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	src := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		{Min: r.Min, Max: image.Pt(r.Max.X, r.Min.Y+2)},
		{Min: image.Pt(r.Min.X, r.Max.Y-2), Max: r.Max},
		{Min: r.Min, Max: image.Pt(r.Min.X+2, r.Max.Y)},
		{Min: image.Pt(r.Max.X-2, r.Min.Y), Max: r.Max},
	} {
		draw.Draw(img, edge, src, image.Point{}, draw.Src)
	}
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
