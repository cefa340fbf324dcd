package payload

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/charmbracelet/log"
)

// EntryName is the name of the JSON document inside the zip container.
const EntryName = "GTD_SYNC.json"

// maxEntrySize caps how much of a single zip entry is read.
const maxEntrySize = 256 << 20

var (
	// ErrEmptyPayload is returned when there is nothing to decode.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrNoPayloadEntry is returned when a zip container has no JSON entry.
	ErrNoPayloadEntry = errors.New("no payload entry in container")
)

var zipMagic = []byte("PK\x03\x04")

// Codec converts between payload documents and their wire form.
type Codec struct {
	logger *log.Logger
}

// NewCodec creates a codec. A nil logger uses a default stderr logger.
func NewCodec(logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "payload"})
	}
	return &Codec{logger: logger}
}

// Decode parses a zip container or a bare JSON document.
func (c *Codec) Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPayload
	}

	body := data
	if bytes.HasPrefix(data, zipMagic) {
		var err error
		body, err = readEntry(data)
		if err != nil {
			return nil, err
		}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.Version > Version {
		c.logger.Warn("payload written by a newer version, unknown fields are ignored",
			"version", doc.Version, "supported", Version)
	}
	c.logger.Debug("decoded payload", "version", doc.Version, "records", doc.Len(),
		"device", doc.Metadata.DeviceID)
	return &doc, nil
}

// Encode writes the document as a zip container with a single JSON entry.
func (c *Codec) Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = NewDocument()
	}
	if doc.Version == 0 {
		doc.Version = Version
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(EntryName)
	if err != nil {
		return nil, fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("failed to write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	c.logger.Debug("encoded payload", "records", doc.Len(), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// readEntry returns the payload entry, preferring EntryName and falling back
// to the first .json file in the archive.
func readEntry(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip container: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if name == EntryName {
			entry = f
			break
		}
		if entry == nil && strings.EqualFold(path.Ext(name), ".json") {
			entry = f
		}
	}
	if entry == nil {
		return nil, ErrNoPayloadEntry
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", entry.Name, err)
	}
	return body, nil
}
