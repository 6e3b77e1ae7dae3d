package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/pkg/palette"
	"github.com/cyclopcam/tally/pkg/storage"
	"github.com/cyclopcam/tally/server/annotate"
	"github.com/cyclopcam/tally/server/framesrc"
	"github.com/cyclopcam/tally/server/resultdb"
	"github.com/cyclopcam/tally/server/session"
	"github.com/cyclopcam/tally/server/tracks"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

// options are the command line arguments
type options struct {
	labelFile     string
	rawFile       string
	width         int
	height        int
	frameDir      string
	annotatedRaw  string
	jpegDir       string
	jpegEvery     int
	weightBearing string
	noTrack       bool
	dbFile        string
}

func main() {
	parser := argparse.NewParser("tally", "Count unique objects in a labelled video, and estimate relative bird weight")
	labelFile := parser.String("l", "labels", &argparse.Options{Help: "Label file (VideoLabels JSON, or JSON lines)", Required: true})
	rawFile := parser.String("r", "raw", &argparse.Options{Help: "Raw RGB24 frames, eg from 'ffmpeg -i in.mp4 -f rawvideo -pix_fmt rgb24 frames.rgb'", Default: ""})
	width := parser.Int("", "width", &argparse.Options{Help: "Width of raw frames", Default: 0})
	height := parser.Int("", "height", &argparse.Options{Help: "Height of raw frames", Default: 0})
	frameDir := parser.String("d", "framedir", &argparse.Options{Help: "Directory of JPEG frames, in name order", Default: ""})
	output := parser.String("o", "output", &argparse.Options{Help: "Write summary JSON here instead of stdout", Default: ""})
	annotatedRaw := parser.String("", "annotated", &argparse.Options{Help: "Write annotated raw RGB24 frames here", Default: ""})
	jpegDir := parser.String("j", "jpegdir", &argparse.Options{Help: "Write annotated JPEG frames into this directory", Default: ""})
	jpegEvery := parser.Int("", "every", &argparse.Options{Help: "Write one in this many JPEG frames", Default: 1})
	weightBearing := parser.String("w", "weight", &argparse.Options{Help: "Comma-separated classes that get a weight index", Default: "bird"})
	noTrack := parser.Flag("", "notrack", &argparse.Options{Help: "Skip objects without a track id, instead of tracking them ourselves", Default: false})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Also save the result to this sqlite database", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sum, runErr := run(ctx, logger, options{
		labelFile:     *labelFile,
		rawFile:       *rawFile,
		width:         *width,
		height:        *height,
		frameDir:      *frameDir,
		annotatedRaw:  *annotatedRaw,
		jpegDir:       *jpegDir,
		jpegEvery:     *jpegEvery,
		weightBearing: *weightBearing,
		noTrack:       *noTrack,
		dbFile:        *dbFile,
	})
	if sum == nil {
		check(runErr)
	}

	out := os.Stdout
	if *output != "" {
		out, err = os.Create(*output)
		check(err)
		defer out.Close()
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(sum))

	if runErr != nil {
		logger.Errorf("%v", runErr)
		os.Exit(1)
	}
}

// run tallies one video. If the session fails part way through, the partial summary is
// returned along with the error. A nil summary means that the session never started.
func run(ctx context.Context, logger logs.Log, opt options) (*session.Summary, error) {
	lf, err := os.Open(opt.labelFile)
	if err != nil {
		return nil, err
	}
	labels, err := tracks.ReadLabels(lf)
	lf.Close()
	if err != nil {
		return nil, fmt.Errorf("Failed to read %v: %w", opt.labelFile, err)
	}
	logger.Infof("Loaded %v detections over %v frames from %v", labels.NumDetections(), labels.NumFrames(), opt.labelFile)

	var src session.FrameSource
	if opt.rawFile != "" {
		f, err := os.Open(opt.rawFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if src, err = framesrc.NewRawSource(f, opt.width, opt.height); err != nil {
			return nil, err
		}
	} else if opt.frameDir != "" {
		if src, err = framesrc.NewDirSource(opt.frameDir); err != nil {
			return nil, err
		}
	} else {
		src = framesrc.NewBlankSource(labels.NumFrames(), 0, 0)
	}

	sinks := framesrc.Tee{}
	if opt.annotatedRaw != "" {
		f, err := os.Create(opt.annotatedRaw)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sinks = append(sinks, framesrc.NewRawSink(f, opt.width, opt.height))
	}
	if opt.jpegDir != "" {
		store, err := storage.NewStorageFS(logger, opt.jpegDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, framesrc.NewJPEGSink(ctx, store, "", opt.jpegEvery, 85))
	}

	ann, err := annotate.New(palette.Default())
	if err != nil {
		return nil, err
	}
	cfg := session.DefaultConfig()
	cfg.WeightBearing = strings.Split(opt.weightBearing, ",")
	cfg.Annotator = ann
	sess := session.New(logger, cfg)
	det := tracks.NewDetector(logger, labels, !opt.noTrack, tracks.DefaultTrackerConfig())
	sum, runErr := sess.Run(ctx, src, det, sinks)

	if opt.dbFile != "" {
		db, err := resultdb.OpenSqlite(logger, opt.dbFile)
		if err != nil {
			return sum, err
		}
		_, err = db.Save(opt.labelFile, sum)
		db.Close()
		if err != nil {
			return sum, err
		}
	}
	return sum, runErr
}
