package main

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/urfave/cli/v2"
	"golang.org/x/image/colornames"
	"golang.org/x/sync/errgroup"

	"github.com/makeworld-the-better-one/palettize/octree"
)

// parsePercentArg takes a string like "0.5" or "50%" and will return a float
// like 50 or 0.5, depending on the second argument. An empty string returns 0.
//
// If `maxOne` is true, then "50%" will return 0.5. Otherwise it will return 50.
func parsePercentArg(arg string, maxOne bool) (float64, error) {
	if arg == "" {
		return 0, nil
	}
	if strings.HasSuffix(arg, "%") {
		arg = arg[:len(arg)-1]
		f64, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, err
		}
		if maxOne {
			f64 /= 100.0
		}
		return f64, nil
	}
	f64, err := strconv.ParseFloat(arg, 64)
	if !maxOne {
		f64 *= 100.0
	}
	return f64, err
}

// globalFlag returns the value of flag at the top level of the command.
// For example, with the command:
//
//	palettize --threads 1 edm -s Simple2D
//
// "threads" is a global flag, and "s" is a flag local to the edm subcommand.
func globalFlag(flag string, c *cli.Context) interface{} {
	ancestor := c.Lineage()[len(c.Lineage())-1]
	if len(ancestor.Args().Slice()) == 0 {
		// When the global context calls this func, the last in the lineage
		// has no args for some reason. So return the second-last instead.
		return c.Lineage()[len(c.Lineage())-2].Value(flag)
	}
	return ancestor.Value(flag)
}

// globalIsSet returns a bool indicating whether the provided global flag
// was actually set.
func globalIsSet(flag string, c *cli.Context) bool {
	ancestor := c.Lineage()[len(c.Lineage())-1]
	if len(ancestor.Args().Slice()) == 0 {
		// See globalFlag for why this if statement exists
		return c.Lineage()[len(c.Lineage())-2].IsSet(flag)
	}
	return ancestor.IsSet(flag)
}

func hexToColor(hex string) (octree.Color, error) {
	cc, err := colorful.Hex("#" + strings.TrimPrefix(strings.ToLower(hex), "#"))
	if err != nil {
		return octree.Color{}, fmt.Errorf("%s is not a hex color", hex)
	}
	r, g, b := cc.RGB255()
	return octree.Color{R: r, G: g, B: b}, nil
}

func rgbToColor(s string) (octree.Color, error) {
	format := "%d,%d,%d"
	var r, g, b uint8
	n, err := fmt.Sscanf(s, format, &r, &g, &b)
	if err != nil {
		return octree.Color{}, err
	}
	if n != 3 {
		return octree.Color{}, fmt.Errorf("%s is not an RGB tuple", s)
	}
	return octree.Color{R: r, G: g, B: b}, nil
}

// parseColor turns a flag value into a color. It accepts RGB tuples, numbers
// 0-255 for grays, hex codes, and SVG color names.
func parseColor(flag, arg string) (octree.Color, error) {
	arg = strings.TrimSpace(arg)

	if strings.Count(arg, ",") == 2 {
		rgbColor, err := rgbToColor(arg)
		if err != nil {
			return octree.Color{}, fmt.Errorf("%s: %s is not a valid RGB tuple. Example: 25,200,150", flag, arg)
		}
		return rgbColor, nil
	}

	// Numbers go before hex codes, "255" is also a short hex code
	n, err := strconv.Atoi(arg)
	if err == nil {
		if n > 255 || n < 0 {
			return octree.Color{}, fmt.Errorf("%s: single numbers like %d must be in the range 0-255", flag, n)
		}
		return octree.Color{R: uint8(n), G: uint8(n), B: uint8(n)}, nil
	}

	hexColor, err := hexToColor(arg)
	if err == nil {
		return hexColor, nil
	}

	htmlColor, ok := colornames.Map[strings.ToLower(arg)]
	if ok {
		return octree.FromColor(htmlColor), nil
	}

	return octree.Color{}, fmt.Errorf("%s: %s not recognized as an RGB tuple, hex code, number 0-255, or SVG color name", flag, arg)
}

// getInputImage takes an input image arg and returns an image that has
// modifications applied.
func getInputImage(arg string, c *cli.Context) (image.Image, error) {
	var img image.Image
	var err error

	if arg == "-" {
		img, err = imaging.Decode(os.Stdin, autoOrientation)
	} else {
		img, err = imaging.Open(arg, autoOrientation)
	}
	if err != nil {
		return nil, err
	}

	if width != 0 || height != 0 {
		// Box sampling is quick and fast, and better then others at downscaling
		// https://pkg.go.dev/github.com/disintegration/imaging#ResampleFilter
		img = imaging.Resize(img, width, height, imaging.Box)
	}

	if grayscale {
		img = imaging.Grayscale(img)
	}
	if saturation != 0 {
		img = imaging.AdjustSaturation(img, saturation)
	}
	if contrast != 0 {
		img = imaging.AdjustContrast(img, contrast)
	}
	if brightness != 0 {
		img = imaging.AdjustBrightness(img, brightness)
	}

	return img, nil
}

func copyImage(dst draw.Image, src image.Image) {
	draw.Draw(dst, src.Bounds(), src, src.Bounds().Min, draw.Src)
}

// postProcImage upscales the image if needed. Nearest neighbour scaling
// only repeats pixels, so the palette is unchanged.
func postProcImage(img *image.Paletted) *image.Paletted {
	if upscale == 1 {
		return img
	}

	scaled := imaging.Resize(
		img,
		img.Bounds().Dx()*upscale,
		0,
		imaging.NearestNeighbor,
	)

	pi := image.NewPaletted(scaled.Bounds(), img.Palette)
	copyImage(pi, scaled)
	return pi
}

// outputPath returns where the image read from inputPath should be written.
func outputPath(outPath, inputPath string) string {
	if outPath == "-" || !outIsDir {
		return outPath
	}
	// Inside output directory
	// Same name as input file but potentially different extension
	return filepath.Join(
		outPath,
		strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))+"."+outFormat,
	)
}

// openOutput opens path for writing, "-" being stdout. The returned name is
// for error messages.
func openOutput(path string) (io.WriteCloser, string, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, "stdout", nil
	}
	file, err := os.OpenFile(path, outFileFlags, 0644)
	if err != nil {
		return nil, path, fmt.Errorf("'%s': %w", path, err)
	}
	return file, path, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeImage encodes a single paletted image in the output format.
func writeImage(img *image.Paletted, path string) error {
	file, name, err := openOutput(path)
	if err != nil {
		return err
	}

	if outFormat == "png" {
		err = (&png.Encoder{CompressionLevel: compLevel}).Encode(file, img)
		if err != nil {
			defer file.Close() // Keep (possibly stdout) open to write error messages then close
			return fmt.Errorf("error writing PNG to '%s': %w", name, err)
		}
		return file.Close()
	}

	// The image is already paletted and small enough, so the gif package
	// writes it as is.
	err = gif.Encode(file, img, &gif.Options{NumColors: len(img.Palette)})
	if err != nil {
		defer file.Close()
		return fmt.Errorf("error writing GIF to '%s': %w", name, err)
	}
	return file.Close()
}

// processImages quantizes all the input images and writes them.
// It handles all image I/O.
//
// Each image gets its own tree, so images are quantized concurrently.
func processImages(quantize quantizeFunc, c *cli.Context) error {
	outPath := globalFlag("out", c).(string)

	isAnimGIF := len(inputImages) > 1 && outFormat == "gif" && !outIsDir

	var delays []int
	var loopCount int
	if isAnimGIF {
		if !globalIsSet("fps", c) {
			return errors.New("output will be animated GIF, but --fps flag is not set")
		}

		delays = make([]int, len(inputImages))
		for i := range delays {
			// Round to the nearest possible frame rate supported by the GIF format
			// See for details: https://superuser.com/a/1449370
			//
			// Lowest allowed delay is 1, or 100 FPS.
			delays[i] = int(math.Max(math.Round(100.0/globalFlag("fps", c).(float64)), 1))
		}

		loopCount = int(globalFlag("loop", c).(uint))
		if loopCount == 1 {
			// Looping once is set using -1 in the image/gif library
			loopCount = -1
		} else if loopCount != 0 {
			// The CLI flag is equal to the number of times looped
			// But for gif.GIF.LoopCount, "the animation is looped LoopCount+1 times."
			loopCount -= 1
		}
	}

	frames := make([]*image.Paletted, len(inputImages))

	g := new(errgroup.Group)
	g.SetLimit(threads)
	for i, inputPath := range inputImages {
		i, inputPath := i, inputPath
		g.Go(func() error {
			img, err := getInputImage(inputPath, c)
			if err != nil {
				return fmt.Errorf("error loading '%s': %w", inputPath, err)
			}
			pi, err := quantize(img)
			if err != nil {
				return fmt.Errorf("error quantizing '%s': %w", inputPath, err)
			}
			pi = postProcImage(pi)
			logger.Debug("quantized image", "path", inputPath, "colors", len(pi.Palette))

			if isAnimGIF {
				frames[i] = pi
				return nil
			}
			return writeImage(pi, outputPath(outPath, inputPath))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !isAnimGIF {
		return nil
	}

	for i := 1; i < len(frames); i++ {
		if !frames[i].Bounds().Eq(frames[0].Bounds()) {
			return fmt.Errorf(
				"image '%s' isn't the same size as '%s', all sizes must match to create an animated GIF",
				inputImages[i], inputImages[0],
			)
		}
	}

	animGIF := gif.GIF{
		Image:     frames,
		Delay:     delays,
		LoopCount: loopCount,
	}
	if transparent != nil {
		// Transparent pixels must not show the previous frame
		animGIF.Disposal = make([]byte, len(frames))
		for i := range animGIF.Disposal {
			animGIF.Disposal[i] = gif.DisposalBackground
		}
	}

	file, name, err := openOutput(outPath)
	if err != nil {
		return err
	}
	err = gif.EncodeAll(file, &animGIF)
	if err != nil {
		defer file.Close()
		return fmt.Errorf("error writing GIF to '%s': %w", name, err)
	}
	return file.Close()
}
