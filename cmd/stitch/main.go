// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Offline stitcher: composite previously captured frames into one tall
// receipt image without running a live session.
//
//	stitch -out receipt.png frame0.png frame1.png ...
package main

import (
	"flag"
	"image"
	"log"
	"os"

	_ "image/jpeg"
	"image/png"

	"github.com/relabs-tech/scroll_capture/internal/frame"
	"github.com/relabs-tech/scroll_capture/internal/stitch"
)

func main() {
	out := flag.String("out", "receipt.png", "output PNG path")
	overlap := flag.Float64("overlap", stitch.DefaultConfig().OverlapRatio, "overlap ratio between frames")
	strip := flag.Int("strip", stitch.DefaultConfig().StripHeight, "blend strip height in px")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("no input frames; usage: stitch -out receipt.png frame0.png frame1.png ...")
	}

	buf := frame.NewBuffer()
	for _, path := range flag.Args() {
		img, err := loadImage(path)
		if err != nil {
			log.Fatalf("load %s: %v", path, err)
		}
		if _, err := buf.Append(img); err != nil {
			log.Fatalf("append %s: %v", path, err)
		}
	}

	comp := stitch.NewCompositor(stitch.Config{OverlapRatio: *overlap, StripHeight: *strip})
	result, err := comp.Composite(buf.Frames())
	if err != nil {
		log.Fatalf("composite: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	if err := png.Encode(f, result); err != nil {
		log.Fatalf("encode %s: %v", *out, err)
	}

	b := result.Bounds()
	log.Printf("wrote %s (%dx%d from %d frames)", *out, b.Dx(), b.Dy(), buf.Count())
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
