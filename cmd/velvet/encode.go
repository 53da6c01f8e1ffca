package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/thesyncim/velvet"
)

func encodeCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	var (
		job    encodeJob
		stream streamJob
	)
	fs.StringVar(&job.Output, "o", "", "output file")
	fs.StringVar(&job.Format, "format", defaultFormat, "container format")
	fs.StringVar(&job.Engine, "engine", "", "engine: builtin or ffmpeg (default: best available)")
	fs.IntVar(&job.Frames, "frames", defaultFrames, "number of frames")
	fs.StringVar(&stream.Name, "name", "video", "stream name")
	fs.StringVar(&stream.Codec, "codec", defaultCodec, "encoder name")
	fs.StringVar(&stream.Size, "size", "640x480", "picture size")
	fs.IntVar(&stream.FPS, "fps", velvet.DefaultFramerate, "frame rate")
	fs.Int64Var(&stream.Bitrate, "bitrate", velvet.DefaultBitrate, "bitrate in bits per second")
	fs.StringVar(&stream.Pattern, "pattern", defaultPattern, "bars, gradient, checker, solid, noise or box")
	fs.BoolVar(&stream.Animated, "animate", false, "scroll static patterns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	job.Streams = []streamJob{stream}
	if err := job.applyDefaults(); err != nil {
		return err
	}
	return runEncode(ctx, &job, slog.Default())
}

// runEncode renders the job's patterns and muxes them. Every stream gets
// frame i at pts i.
func runEncode(ctx context.Context, job *encodeJob, log *slog.Logger) error {
	cfg, err := job.muxerConfig()
	if err != nil {
		return err
	}
	cfg.Logger = log.With("output", job.Output)

	out, err := os.Create(job.Output)
	if err != nil {
		return err
	}
	m, err := velvet.NewMuxer(out, cfg)
	if err != nil {
		out.Close()
		os.Remove(job.Output)
		return err
	}

	patterns := make([]*velvet.TestPattern, len(job.Streams))
	for i, s := range job.Streams {
		w, h, _ := parseSize(s.Size)
		p, _ := velvet.ParsePatternType(s.Pattern)
		pc := velvet.DefaultTestPatternConfig()
		pc.Width, pc.Height, pc.Pattern, pc.Animated = w, h, p, s.Animated
		patterns[i] = velvet.NewTestPattern(pc)
	}

	start := time.Now()
	for i := 0; i < job.Frames; i++ {
		if err := ctx.Err(); err != nil {
			m.Close()
			return err
		}
		for k, s := range job.Streams {
			if err := m.Video(s.Name).Encode(patterns[k].Frame(int64(i)), int64(i)); err != nil {
				m.Close()
				return fmt.Errorf("%s: frame %d: %w", job.Output, i, err)
			}
		}
	}
	if err := m.Close(); err != nil {
		return err
	}

	var bytes uint64
	for _, p := range m.Videos() {
		bytes += p.Stats().BytesWritten
	}
	log.Info("encoded", "output", job.Output, "engine", m.Engine().Name(), "frames", job.Frames,
		"streams", len(job.Streams), "payload_bytes", bytes, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
