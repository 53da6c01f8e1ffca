package main

import (
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/thesyncim/velvet"
)

type extractOptions struct {
	dir    string
	stream string
	engine string
	every  int
	limit  int
	seek   time.Duration
}

func extractCmd(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	var opts extractOptions
	fs.StringVar(&opts.dir, "o", ".", "output directory")
	fs.StringVar(&opts.stream, "stream", "", "stream name (default: first video stream)")
	fs.StringVar(&opts.engine, "engine", "", "engine: builtin or ffmpeg (default: best available)")
	fs.IntVar(&opts.every, "every", 1, "write every n-th frame")
	fs.IntVar(&opts.limit, "limit", 0, "stop after this many files (0 = no limit)")
	fs.DurationVar(&opts.seek, "seek", 0, "start position")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: extract takes one file", velvet.ErrInvalidConfig)
	}
	n, err := extract(fs.Arg(0), opts, slog.Default())
	if err != nil {
		return err
	}
	slog.Info("extracted", "files", n, "dir", opts.dir)
	return nil
}

// extract writes decoded frames of one stream as <stream>-<pts>.png and
// returns the number of files written.
func extract(path string, opts extractOptions, log *slog.Logger) (int, error) {
	if opts.every <= 0 {
		opts.every = 1
	}
	d, f, err := openDemuxer(path, opts.engine)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	defer d.Close()

	var s *velvet.VideoStream
	if opts.stream != "" {
		s = d.Video(opts.stream)
	} else if videos := d.Videos(); len(videos) > 0 {
		s = videos[0]
	}
	if s == nil {
		return 0, fmt.Errorf("%w: %s: video stream %q", velvet.ErrStreamNotFound, path, opts.stream)
	}
	if opts.seek > 0 {
		if err := s.Seek(opts.seek.Nanoseconds()); err != nil {
			return 0, err
		}
	}
	if err := os.MkdirAll(opts.dir, 0o755); err != nil {
		return 0, err
	}

	seen, written := 0, 0
	for opts.limit == 0 || written < opts.limit {
		more, err := s.NextPacket(func(vf *velvet.VideoFrame) error {
			seen++
			if (seen-1)%opts.every != 0 {
				return nil
			}
			name := filepath.Join(opts.dir, fmt.Sprintf("%s-%06d.png", s.Name(), vf.PTS))
			if err := writePNG(name, vf); err != nil {
				return err
			}
			written++
			log.Debug("frame written", "file", name, "at", vf.Timestamp())
			return nil
		})
		if err != nil {
			return written, err
		}
		if !more {
			break
		}
	}
	return written, nil
}

func writePNG(name string, vf *velvet.VideoFrame) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, vf.Image); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
