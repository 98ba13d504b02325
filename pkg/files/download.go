package files

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"rmeyers/peerster/pkg/logger"
)

// Mode says why a download is running; it picks the output filename prefix.
type Mode int

const (
	UserDownload Mode = iota
	PrimaryFetch
	RedundantFetch
)

func (m Mode) prefix() string {
	switch m {
	case PrimaryFetch:
		return "dht_"
	case RedundantFetch:
		return "red_"
	default:
		return "download_"
	}
}

// Download is the state of the single in-flight block-request pipeline.
// The first awaited reply is the block list (metafile); every later reply
// is a data chunk appended to the output file.
type Download struct {
	Target   string // origin the blocks are requested from
	Expected []byte // hash of the next awaited reply
	Mode     Mode

	BaseName string // name without prefix, the DHT archive key
	file     File
	out      *os.File
	written  int64
}

// NewDownload starts download state for the file named name served by
// target, addressed by its metafile hash. The output lands in dir under
// the mode's prefix.
func NewDownload(target string, metaHash []byte, name string, mode Mode, dir string) *Download {
	base := filepath.Base(name)
	return &Download{
		Target:   target,
		Expected: append([]byte(nil), metaHash...),
		Mode:     mode,
		BaseName: base,
		file: File{
			Name:     mode.prefix() + base,
			Path:     filepath.Join(dir, mode.prefix()+base),
			MetaHash: append([]byte(nil), metaHash...),
		},
	}
}

// Matches validates a block reply: right origin, the hash we asked for,
// and data whose SHA-1 equals that hash. Anything else is dropped and the
// retransmit timer stays armed.
func (d *Download) Matches(origin string, hash, data []byte) bool {
	if origin != d.Target {
		logger.Sugar.Debugf("[Download] reply from %s, expected %s", origin, d.Target)
		return false
	}
	if !bytes.Equal(hash, d.Expected) {
		logger.Sugar.Debugf("[Download] unrequested reply %x", hash)
		return false
	}
	sum := sha1.Sum(data)
	if !bytes.Equal(sum[:], hash) {
		logger.Sugar.Warnf("[Download] hash mismatch on reply %x", hash)
		return false
	}
	return true
}

// HaveMetafile reports whether the block list has arrived yet.
func (d *Download) HaveMetafile() bool {
	return len(d.file.BlockList) > 0
}

// CostKB is the DHT capacity charge of the file being fetched. Only valid
// once the metafile has arrived.
func (d *Download) CostKB() int64 {
	return d.file.DHTCostKB()
}

// Absorb consumes a validated reply. It returns the hash to request next,
// or done=true when the final block has been written and the output file
// closed.
func (d *Download) Absorb(data []byte) (next []byte, done bool, err error) {
	if !d.HaveMetafile() {
		// First reply is the block list.
		d.file.BlockList = append([]byte(nil), data...)
		if d.file.Blocks() == 0 {
			return nil, false, fmt.Errorf("empty block list for %s", d.file.Name)
		}
		d.Expected = d.file.BlockHash(0)
		return d.Expected, false, nil
	}

	if d.written == 0 {
		logger.Sugar.Infof("[Download] saving file as %s", d.file.Name)
		d.out, err = os.Create(d.file.Path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create %s: %w", d.file.Path, err)
		}
	}
	if _, err := d.out.Write(data); err != nil {
		return nil, false, fmt.Errorf("failed to write %s: %w", d.file.Path, err)
	}
	d.file.Size += int64(len(data))
	d.written++

	if d.written == d.file.Blocks() {
		if err := d.out.Close(); err != nil {
			return nil, false, err
		}
		d.out = nil
		return nil, true, nil
	}
	d.Expected = d.file.BlockHash(d.written)
	return d.Expected, false, nil
}

// Result is the completed file, ready for archiving.
func (d *Download) Result() File {
	return d.file
}

// Abort closes and removes any partial output.
func (d *Download) Abort() {
	if d.out != nil {
		d.out.Close()
		d.out = nil
		os.Remove(d.file.Path)
	}
}
