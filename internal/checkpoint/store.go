package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"emotiond/internal/common/fsutil"
)

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "pb"
)

// ParseFormat accepts "", "json" and "pb"/"protobuf". An empty string
// means "infer from the file extension".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "json":
		return FormatJSON, nil
	case "pb", "protobuf", "proto":
		return FormatProtobuf, nil
	default:
		return "", fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// FormatForPath infers the format from the extension; anything that is not
// .pb is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb", ".bin":
		return FormatProtobuf
	default:
		return FormatJSON
	}
}

// Store writes and reads checkpoint files.
type Store struct {
	Format Format
	log    zerolog.Logger
}

// NewStore returns a store writing in format f ("" infers per path).
func NewStore(f Format) *Store {
	return &Store{Format: f, log: zerolog.Nop()}
}

// SetLogger sets the logger used for save/load lines.
func (s *Store) SetLogger(l zerolog.Logger) { s.log = l }

// Save writes c to path atomically and returns the number of bytes written.
func (s *Store) Save(path string, c *Checkpoint) (int64, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return 0, err
	}
	if c.Version == 0 {
		c.Version = Version
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	f := s.Format
	if f == "" {
		f = FormatForPath(path)
	}
	data, err := encode(c, f)
	if err != nil {
		return 0, err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("save checkpoint: %w", err)
	}
	s.log.Info().
		Str("path", path).
		Str("format", string(f)).
		Int("epoch", c.Epoch).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("checkpoint saved")
	return int64(len(data)), nil
}

// Load reads a checkpoint, sniffing the encoding from the content.
func (s *Store) Load(path string) (*Checkpoint, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	s.log.Debug().Str("path", path).Int("epoch", c.Epoch).Msg("checkpoint loaded")
	return c, nil
}

// Load reads a checkpoint without logging.
func Load(path string) (*Checkpoint, error) { return NewStore("").Load(path) }

func encode(c *Checkpoint, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatProtobuf:
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		st := &structpb.Struct{}
		if err := protojson.Unmarshal(raw, st); err != nil {
			return nil, fmt.Errorf("encode pb: %w", err)
		}
		return proto.Marshal(st)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format %q", f)
	}
}

func decode(data []byte) (*Checkpoint, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var c Checkpoint
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, err
	}
	raw, err := protojson.Marshal(st)
	if err != nil {
		return nil, err
	}
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
