package files

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rmeyers/peerster/pkg/logger"
)

const (
	// BlockSize is the fixed chunk size; the final chunk may be shorter.
	BlockSize = 8000
	// HashLen is the length of a SHA-1 digest.
	HashLen = 20
)

// File describes a shared or downloaded file. BlockList is the
// concatenation of the SHA-1 digests of its BlockSize-byte chunks;
// MetaHash is the SHA-1 of the block list and serves as the file's
// content address.
type File struct {
	Name      string // relative name, the archive key
	Path      string // where the bytes live on disk
	Size      int64
	BlockList []byte
	MetaHash  []byte
}

// Blocks returns the chunk count.
func (f File) Blocks() int64 {
	return int64(len(f.BlockList)) / HashLen
}

// BlockHash returns the stored digest of chunk i.
func (f File) BlockHash(i int64) []byte {
	return f.BlockList[i*HashLen : (i+1)*HashLen]
}

// DHTCostKB is the capacity charge of holding this file in a DHT archive.
func (f File) DHTCostKB() int64 {
	return (f.Blocks() + 1) * 8
}

// Index chunks the file at path and computes its block list and metafile
// hash. The archived name is the final path component.
func Index(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	file := File{Name: filepath.Base(path), Path: path}
	buf := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			file.BlockList = append(file.BlockList, sum[:]...)
			file.Size += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return File{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	sum := sha1.Sum(file.BlockList)
	file.MetaHash = sum[:]
	logger.Sugar.Infof("[Files] indexed %s: %d bytes, %d blocks, hash %x",
		file.Name, file.Size, file.Blocks(), file.MetaHash)
	return file, nil
}

// Kind distinguishes the three archives a file can live in.
type Kind int

const (
	Local Kind = iota
	Primary
	Redundant
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Primary:
		return "dht-primary"
	case Redundant:
		return "dht-redundant"
	}
	return "unknown"
}

// Archive holds the node's files: user-shared, DHT-owned, and redundant
// copies. Owned by the event loop; no locking.
type Archive struct {
	local     map[string]File
	primary   map[string]File
	redundant map[string]File
}

func NewArchive() *Archive {
	return &Archive{
		local:     make(map[string]File),
		primary:   make(map[string]File),
		redundant: make(map[string]File),
	}
}

func (a *Archive) byKind(k Kind) map[string]File {
	switch k {
	case Primary:
		return a.primary
	case Redundant:
		return a.redundant
	default:
		return a.local
	}
}

// Add stores the file under its name. A name already present in the target
// archive keeps its existing entry. A file may not be both a primary and a
// redundant copy, so adding to one DHT archive removes it from the other.
func (a *Archive) Add(k Kind, f File) bool {
	m := a.byKind(k)
	if _, ok := m[f.Name]; ok {
		logger.Sugar.Infof("[Files] file %s already in %s archive", f.Name, k)
		return false
	}
	switch k {
	case Primary:
		delete(a.redundant, f.Name)
	case Redundant:
		delete(a.primary, f.Name)
	}
	m[f.Name] = f
	return true
}

// Get looks up a file by name in the given archive.
func (a *Archive) Get(k Kind, name string) (File, bool) {
	f, ok := a.byKind(k)[name]
	return f, ok
}

// Remove drops the entry without touching the disk.
func (a *Archive) Remove(k Kind, name string) (File, bool) {
	m := a.byKind(k)
	f, ok := m[name]
	if ok {
		delete(m, name)
	}
	return f, ok
}

// Names lists the filenames held in the given archive.
func (a *Archive) Names(k Kind) []string {
	m := a.byKind(k)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// DHTUsageKB is the combined capacity charge of both DHT archives.
func (a *Archive) DHTUsageKB() int64 {
	var total int64
	for _, f := range a.primary {
		total += f.DHTCostKB()
	}
	for _, f := range a.redundant {
		total += f.DHTCostKB()
	}
	return total
}

// EvictDHT removes the file from whichever DHT archive holds it and deletes
// its copy on disk. Local files are never touched.
func (a *Archive) EvictDHT(name string) {
	for _, k := range []Kind{Primary, Redundant} {
		if f, ok := a.Remove(k, name); ok {
			if err := os.Remove(f.Path); err != nil {
				logger.Sugar.Warnf("[Files] failed to delete %s: %v", f.Path, err)
			}
			logger.Sugar.Infof("[Files] evicted %s from %s archive", name, k)
			return
		}
	}
}

// FindBlock is the content-addressed lookup behind block service. It
// searches the DHT-primary archive, then redundant copies, then local
// files. A request matching a metafile hash yields the block list; a
// request matching a block-list stride yields that chunk read from disk.
// Returns the archive and name of the file hit so the caller can refresh
// recency bookkeeping.
func (a *Archive) FindBlock(req []byte) (data []byte, kind Kind, name string) {
	for _, k := range []Kind{Primary, Redundant, Local} {
		for _, f := range a.byKind(k) {
			if bytes.Equal(f.MetaHash, req) {
				logger.Sugar.Debugf("[Files] found block list of %s", f.Name)
				return append([]byte(nil), f.BlockList...), k, f.Name
			}
			for i := int64(0); i < f.Blocks(); i++ {
				if !bytes.Equal(f.BlockHash(i), req) {
					continue
				}
				block, err := readBlock(f.Path, i)
				if err != nil {
					logger.Sugar.Errorf("[Files] error reading %s: %v", f.Path, err)
					return nil, k, ""
				}
				logger.Sugar.Debugf("[Files] found data block %d of %s", i, f.Name)
				return block, k, f.Name
			}
		}
	}
	return nil, Local, ""
}

// readBlock opens the file just long enough to read one chunk.
func readBlock(path string, i int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, BlockSize)
	n, err := f.ReadAt(buf, i*BlockSize)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
