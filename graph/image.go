package graph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tickflow/ipc"
	"github.com/pithecene-io/tickflow/types"
)

// ImageExt is the file extension of graph images.
const ImageExt = ".tfi"

// ErrImageVersion is returned when an image was written by an incompatible version.
var ErrImageVersion = errors.New("unsupported image version")

// Image is a compiled graph stored as msgpack. It carries the protocol bytes
// plus what the stream cannot express: node labels and initial packets.
type Image struct {
	Version   string          `msgpack:"version"`
	Name      string          `msgpack:"name"`
	CreatedAt time.Time       `msgpack:"created_at"`
	Labels    []string        `msgpack:"labels"`
	Program   []byte          `msgpack:"program"`
	Initial   []InitialPacket `msgpack:"initial"`
}

// NewImage builds an image from a compiled program.
func NewImage(p *Program, now time.Time) (*Image, error) {
	data, err := p.Bytes()
	if err != nil {
		return nil, err
	}
	return &Image{
		Version:   types.ImageVersion,
		Name:      p.Name,
		CreatedAt: now.UTC(),
		Labels:    p.Labels,
		Program:   data,
		Initial:   p.Initial,
	}, nil
}

// Commands decodes the program bytes.
func (img *Image) Commands() ([]ipc.Command, error) {
	return ipc.Decode(bytes.NewReader(img.Program))
}

// WriteImage encodes img to w.
func WriteImage(w io.Writer, img *Image) error {
	if err := msgpack.NewEncoder(w).Encode(img); err != nil {
		return fmt.Errorf("failed to encode graph image: %w", err)
	}
	return nil
}

// ReadImage decodes an image from r and checks its version.
func ReadImage(r io.Reader) (*Image, error) {
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("failed to decode graph image: %w", err)
	}
	if img.Version != types.ImageVersion {
		return nil, fmt.Errorf("%w: %q (want %q)", ErrImageVersion, img.Version, types.ImageVersion)
	}
	return &img, nil
}
