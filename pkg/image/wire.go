// Package image serializes compiled programs and caches them by source
// digest. The wire format is canonical CBOR behind a fixed magic/version
// header, so identical programs encode to identical bytes.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// magic opens every image file.
var magic = [4]byte{'P', 'D', 'O', 'T'}

// wireVersion is the image container version, independent of the bytecode
// format version carried inside the program.
const wireVersion uint16 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is one distributable compiled program with its build identity.
type Image struct {
	BuildID   string            `cbor:"1,keyasint"`
	BuiltAt   int64             `cbor:"2,keyasint"` // unix seconds
	SourceSum []byte            `cbor:"3,keyasint,omitempty"`
	Program   *bytecode.Program `cbor:"4,keyasint"`
}

// New wraps a compiled program in an image, stamping a fresh build ID.
// source is the text the program was compiled from; it is digested, not
// stored.
func New(program *bytecode.Program, source []byte) *Image {
	img := &Image{
		BuildID: uuid.NewString(),
		BuiltAt: time.Now().Unix(),
		Program: program,
	}
	if source != nil {
		sum := sha256.Sum256(source)
		img.SourceSum = sum[:]
	}
	return img
}

// Marshal encodes an image: magic, container version, then canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	if img.Program == nil {
		return nil, fmt.Errorf("image: marshal: image has no program")
	}
	body, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	out := make([]byte, 0, len(body)+6)
	out = append(out, magic[:]...)
	out = binary.BigEndian.AppendUint16(out, wireVersion)
	out = append(out, body...)
	return out, nil
}

// Unmarshal decodes an image, checking the magic and both versions.
func Unmarshal(data []byte) (*Image, error) {
	if len(data) < 6 || !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("image: not a peridot image")
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != wireVersion {
		return nil, fmt.Errorf("image: container version %d, reader supports %d", v, wireVersion)
	}
	var img Image
	if err := cbor.Unmarshal(data[6:], &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Program == nil {
		return nil, fmt.Errorf("image: unmarshal: image has no program")
	}
	if img.Program.Version != bytecode.FormatVersion {
		return nil, fmt.Errorf("image: bytecode version %d, runtime supports %d",
			img.Program.Version, bytecode.FormatVersion)
	}
	return &img, nil
}

// SourceDigest computes the cache key for a source text.
func SourceDigest(source []byte) []byte {
	sum := sha256.Sum256(source)
	return sum[:]
}
