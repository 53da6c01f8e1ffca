package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thesyncim/velvet"
)

// jobFile is the document read by `velvet run`.
type jobFile struct {
	// Concurrency limits the jobs running at once. 0 uses the -j flag.
	Concurrency int         `yaml:"concurrency"`
	Jobs        []encodeJob `yaml:"jobs"`
}

// encodeJob writes test pattern streams into one container.
type encodeJob struct {
	Output   string            `yaml:"output"`
	Format   string            `yaml:"format"`
	Engine   string            `yaml:"engine"`
	Frames   int               `yaml:"frames"`
	Metadata map[string]string `yaml:"metadata"`
	Streams  []streamJob       `yaml:"streams"`
}

type streamJob struct {
	Name     string            `yaml:"name"`
	Codec    string            `yaml:"codec"`
	Size     string            `yaml:"size"`
	FPS      int               `yaml:"fps"`
	Bitrate  int64             `yaml:"bitrate"`
	Pattern  string            `yaml:"pattern"`
	Animated bool              `yaml:"animated"`
	Params   map[string]string `yaml:"params"`
	Metadata map[string]string `yaml:"metadata"`
}

const (
	defaultFormat  = "mp4"
	defaultCodec   = "mjpeg"
	defaultFrames  = 90
	defaultPattern = "bars"
)

func loadJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseJobFile(data)
}

func parseJobFile(data []byte) (*jobFile, error) {
	var f jobFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs", velvet.ErrInvalidConfig)
	}
	for i := range f.Jobs {
		if err := f.Jobs[i].applyDefaults(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return &f, nil
}

func (j *encodeJob) applyDefaults() error {
	if j.Output == "" {
		return fmt.Errorf("%w: output is required", velvet.ErrInvalidConfig)
	}
	if j.Format == "" {
		j.Format = defaultFormat
	}
	if j.Frames <= 0 {
		j.Frames = defaultFrames
	}
	if len(j.Streams) == 0 {
		j.Streams = []streamJob{{Name: "video"}}
	}
	for i := range j.Streams {
		s := &j.Streams[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("video%d", i)
		}
		if s.Codec == "" {
			s.Codec = defaultCodec
		}
		if s.Size == "" {
			s.Size = fmt.Sprintf("%dx%d", velvet.DefaultWidth, velvet.DefaultHeight)
		}
		if _, _, err := parseSize(s.Size); err != nil {
			return fmt.Errorf("stream %s: %w", s.Name, err)
		}
		if s.FPS <= 0 {
			s.FPS = velvet.DefaultFramerate
		}
		if s.Bitrate <= 0 {
			s.Bitrate = velvet.DefaultBitrate
		}
		if s.Pattern == "" {
			s.Pattern = defaultPattern
		}
		if _, err := velvet.ParsePatternType(s.Pattern); err != nil {
			return fmt.Errorf("stream %s: %w", s.Name, err)
		}
	}
	return nil
}

// muxerConfig translates the job into a muxer configuration.
func (j *encodeJob) muxerConfig() (velvet.MuxerConfig, error) {
	id, err := velvet.ParseEngineID(j.Engine)
	if err != nil {
		return velvet.MuxerConfig{}, err
	}
	cfg := velvet.DefaultMuxerConfig(j.Format)
	cfg.EngineID = id
	for k, v := range j.Metadata {
		cfg = cfg.WithMetadata(k, v)
	}
	for _, s := range j.Streams {
		w, h, _ := parseSize(s.Size)
		enc := velvet.DefaultEncoderConfig(s.Codec)
		enc.Width, enc.Height = w, h
		enc.Framerate = s.FPS
		enc.Bitrate = s.Bitrate
		for k, v := range s.Params {
			enc = enc.WithParam(k, v)
		}
		for k, v := range s.Metadata {
			enc = enc.WithMetadata(k, v)
		}
		cfg = cfg.WithVideo(s.Name, enc)
	}
	return cfg, nil
}

// parseSize parses WIDTHxHEIGHT.
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: size %q, want WIDTHxHEIGHT", velvet.ErrInvalidConfig, s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: size %q", velvet.ErrInvalidConfig, s)
	}
	return w, h, nil
}
