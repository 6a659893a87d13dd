package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/makeworld-the-better-one/dither/v2"
	"github.com/mccutchen/palettor"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"

	"github.com/makeworld-the-better-one/palettize/octree"
)

const (
	unsupportedFormat string = "'%s' is an unsupported format, only 'png' or 'gif' are accepted"
)

var (
	// transparent is the color reserved as palette index 0, or nil.
	transparent *octree.Color

	maxColors int
	bits      int

	grayscale bool

	// Range -100,100

	saturation float64
	brightness float64
	contrast   float64

	autoOrientation imaging.DecodeOption

	inputImages []string
	outFormat   string // "png" or "gif"
	outIsDir    bool

	compLevel png.CompressionLevel

	outFileFlags int // For os.OpenFile

	width  int
	height int
	// upscale will always be 1 or above
	upscale int

	// threads bounds how many images are quantized at once. Always 1 or above.
	threads int

	// range [-1, 1]
	strength float32

	logger *slog.Logger
)

// quantizeFunc turns one decoded input image into a paletted image.
type quantizeFunc func(img image.Image) (*image.Paletted, error)

// preProcess is automatically called by the app before anything else.
// It's run in the global context.
func preProcess(c *cli.Context) error {
	logger = newLogger(c.App.ErrWriter, c.Bool("verbose"))
	octree.Logger = logger

	runtime.GOMAXPROCS(int(c.Uint("threads")))
	threads = runtime.GOMAXPROCS(0)

	var err error

	maxColors = int(c.Uint("colors"))
	if maxColors < octree.MinColors || maxColors > octree.MaxColors {
		return fmt.Errorf("colors: must be in the range %d-%d", octree.MinColors, octree.MaxColors)
	}
	bits = int(c.Uint("bits"))
	if bits < octree.MinBits || bits > octree.MaxBits {
		return fmt.Errorf("bits: must be in the range %d-%d", octree.MinBits, octree.MaxBits)
	}

	transparent = nil
	if c.String("transparent") != "" {
		tc, err := parseColor("transparent", c.String("transparent"))
		if err != nil {
			return err
		}
		transparent = &tc
	}

	grayscale = c.Bool("grayscale")
	saturation, err = parsePercentArg(c.String("saturation"), false)
	if err != nil {
		return fmt.Errorf("saturation: %w", err)
	}
	if saturation <= -100 {
		grayscale = true
		saturation = 0
	}
	brightness, err = parsePercentArg(c.String("brightness"), false)
	if err != nil {
		return fmt.Errorf("brightness: %w", err)
	}
	contrast, err = parsePercentArg(c.String("contrast"), false)
	if err != nil {
		return fmt.Errorf("contrast: %w", err)
	}

	autoOrientation = imaging.AutoOrientation(!c.Bool("no-exif-rotation"))

	inputImages = make([]string, 0)
	for _, path := range c.StringSlice("in") {
		if strings.Contains(path, "*") {
			// Parse as glob
			paths, err := filepath.Glob(path)
			if err != nil {
				return fmt.Errorf("bad glob pattern '%s': %w", path, err)
			}
			inputImages = append(inputImages, paths...)
		} else {
			inputImages = append(inputImages, path)
		}
	}
	if len(inputImages) == 0 {
		return errors.New("no input images")
	}

	formatVal := c.String("format")
	if formatVal != "png" && formatVal != "gif" {
		return fmt.Errorf(unsupportedFormat, formatVal)
	}

	// Figure out output format

	outVal := c.String("out")
	outIsDir = false

	if outVal == "-" {
		// Outputting to stdout, so just use whatever the flag is
		outFormat = formatVal
	} else {
		// Outputting to dir or file

		outFI, err := os.Stat(outVal)

		if err == nil && outFI.IsDir() {
			// Exists and is a directory
			// Just use what the flag is
			outFormat = formatVal
			outIsDir = true

		} else {
			// Outputting to file, that already exists
			// Or something that doesn't exist - assumed to be a file

			if !c.IsSet("format") {
				// Format wasn't set, so ignore default value of "png"
				// Try to figure out format from output filename
				ext := strings.TrimPrefix(filepath.Ext(outVal), ".")
				if ext == "png" || ext == "gif" {
					// Acceptable extension
					outFormat = ext
				} else if ext == "" {
					// No extension, use default format
					outFormat = "png"
				} else {
					// Unsupported extension and no format flag override
					return fmt.Errorf(unsupportedFormat, ext)
				}
			} else {
				// Format flag was set, so ignore what the file looks like
				outFormat = formatVal
			}
		}

	}

	// Multiple input images are only valid if the output is GIF,
	// or if the output points to a directory.
	if len(inputImages) > 1 && (outFormat != "gif" && !outIsDir) {
		return fmt.Errorf("multiple input images are only allowed if the output format is GIF, or an existing directory")
	}

	// Set PNG compression type

	switch c.String("compression") {
	case "default":
		compLevel = png.DefaultCompression
	case "no":
		compLevel = png.NoCompression
	case "speed":
		compLevel = png.BestSpeed
	case "size":
		compLevel = png.BestCompression
	default:
		return fmt.Errorf("invalid compression type '%s'", c.String("compression"))
	}

	if c.Bool("no-overwrite") {
		outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	} else {
		outFileFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	// Set here for convenience
	width = int(c.Uint("width"))
	height = int(c.Uint("height"))
	upscale = int(c.Uint("upscale"))
	if upscale == 0 {
		// Invalid
		upscale = 1
	}

	tmp, err := parsePercentArg(c.String("strength"), true)
	if err != nil {
		return fmt.Errorf("strength: %w", err)
	}
	strength = float32(tmp)
	if strength == 0 {
		// Ignore
		strength = 1
	}

	logger.Debug("options",
		"colors", maxColors,
		"bits", bits,
		"transparent", transparent != nil,
		"inputs", len(inputImages),
		"format", outFormat,
	)
	return nil
}

// quantOptions returns the engine options set by the global flags.
func quantOptions() octree.Options {
	return octree.Options{
		MaxColors:        maxColors,
		Bits:             bits,
		Transparent:      transparent,
		TransparentAlpha: true,
	}
}

func octreeQuantize(img image.Image) (*image.Paletted, error) {
	pi, _, err := octree.Quantize(img, quantOptions())
	return pi, err
}

func octreeCmd(c *cli.Context) error {
	if c.Args().Len() != 0 {
		return errors.New("octree takes no arguments")
	}
	return processImages(octreeQuantize, c)
}

var edmName = map[string]dither.ErrorDiffusionMatrix{
	"simple2d":            dither.Simple2D,
	"floydsteinberg":      dither.FloydSteinberg,
	"falsefloydsteinberg": dither.FalseFloydSteinberg,
	"jarvisjudiceninke":   dither.JarvisJudiceNinke,
	"atkinson":            dither.Atkinson,
	"stucki":              dither.Stucki,
	"burkes":              dither.Burkes,
	"sierra":              dither.Sierra,
	"sierra3":             dither.Sierra3,
	"tworowsierra":        dither.TwoRowSierra,
	"sierralite":          dither.SierraLite,
	"sierra2_4a":          dither.Sierra2_4A,
	"stevenpigeon":        dither.StevenPigeon,
}

// parseEDM takes a matrix name, inline JSON, or a path to a JSON file.
func parseEDM(arg string) (dither.ErrorDiffusionMatrix, error) {
	matrix, ok := edmName[strings.ReplaceAll(strings.ToLower(arg), "-", "_")]
	if ok {
		return matrix, nil
	}

	// Either inline JSON, path to file, or an error
	err := json.Unmarshal([]byte(arg), &matrix)
	if err != nil {
		bytes, err := os.ReadFile(arg)
		if err != nil {
			return nil, errors.New("couldn't process argument as matrix name, inline JSON, or path to accessible JSON file")
		}
		err = json.Unmarshal(bytes, &matrix)
		if err != nil {
			return nil, errors.New("couldn't process argument as matrix name, inline JSON, or path to accessible JSON file")
		}
	}

	// Validate matrix

	if len(matrix) == 0 {
		return nil, errors.New("matrix is empty")
	}
	// Is it rectangular?
	width := len(matrix[0])
	if width == 0 {
		return nil, errors.New("matrix has empty row")
	}
	for _, row := range matrix {
		if len(row) != width {
			return nil, errors.New("matrix is not rectangular, all rows must be the same length")
		}
	}
	return matrix, nil
}

// ditherQuantize returns a quantizeFunc that picks the palette with the
// octree, then error diffuses the image onto that palette. The transparent
// entry is kept out of the diffusion, and transparent pixels stay at index 0.
func ditherQuantize(matrix dither.ErrorDiffusionMatrix, serpentine bool) quantizeFunc {
	return func(img image.Image) (*image.Paletted, error) {
		pi, palette, err := octree.Quantize(img, quantOptions())
		if err != nil {
			return nil, err
		}

		opaque := palette
		if transparent != nil {
			opaque = palette[1:]
		}
		if len(opaque) < 2 {
			// Nothing to diffuse between
			return pi, nil
		}

		colors := make([]color.Color, len(opaque))
		for i, pc := range opaque {
			colors[i] = pc.NRGBA(255)
		}
		d := dither.NewDitherer(colors)
		d.Matrix = dither.ErrorDiffusionStrength(matrix, strength)
		d.Serpentine = serpentine

		dithered := d.DitherPaletted(img)
		if transparent == nil {
			return dithered, nil
		}

		b := pi.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if pi.ColorIndexAt(x, y) == 0 {
					continue
				}
				pi.SetColorIndex(x, y, dithered.ColorIndexAt(x, y)+1)
			}
		}
		return pi, nil
	}
}

func edm(c *cli.Context) error {
	args := c.Args().Slice()

	if len(args) != 1 {
		return errors.New("edm only accepts one argument")
	}

	matrix, err := parseEDM(args[0])
	if err != nil {
		return err
	}

	return processImages(ditherQuantize(matrix, c.Bool("serpentine")), c)
}

// paletteCmd prints the palette of the first input image, one hex code per
// line. With --kmeans it prints a k-means palette instead, for comparison.
func paletteCmd(c *cli.Context) error {
	img, err := getInputImage(inputImages[0], c)
	if err != nil {
		return fmt.Errorf("error loading '%s': %w", inputImages[0], err)
	}

	var colors []color.Color

	if k := int(c.Uint("kmeans")); k > 0 {
		// Resize: keep palettor.Extract fast. See the palettor CLI source:
		// https://github.com/mccutchen/palettor/blob/3eaed180/cmd/palettor/palettor.go#L57
		thumbnail := imaging.Resize(img, 200, 200, imaging.NearestNeighbor)
		p, err := palettor.Extract(k, 500, thumbnail)
		if err != nil {
			return fmt.Errorf("error extracting image palette: %w", err)
		}
		colors = p.Colors()
	} else {
		_, palette, err := octree.Quantize(img, quantOptions())
		if err != nil {
			return err
		}
		colors = make([]color.Color, len(palette))
		for i, pc := range palette {
			colors[i] = pc
		}
	}

	for _, pc := range colors {
		cc, _ := colorful.MakeColor(pc)
		fmt.Fprintln(c.App.Writer, cc.Hex())
	}
	return nil
}
