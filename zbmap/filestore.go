package zbmap

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/go-errors/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const fileStoreMagic = "zbstore"

// fileStoreMeta is persisted next to the data file so a store can be
// reopened with its logical length intact.
type fileStoreMeta struct {
	Magic   string `msgpack:"magic"`
	Version int    `msgpack:"version"`
	Length  int64  `msgpack:"length"`
}

// FileStore is a Store backed by a memory mapped file. The file grows by
// doubling and is remapped when a write reaches past the mapped size.
type FileStore struct {
	path     string
	file     *os.File
	mapped   mmap.MMap
	fileSize int64
	length   int64
	closed   bool
}

// NewFileStore opens (or creates) a file backed store at path. The data is
// written to path and a small metadata header to path + ".meta".
func NewFileStore(path string, initialSize int64) (*FileStore, error) {
	s := &FileStore{path: path}

	initialSize = pageAligned(initialSize)
	if !doesFileExist(path) {
		if err := createFile(path, initialSize); err != nil {
			return nil, err
		}
	}

	meta, err := s.readMeta()
	if err != nil {
		return nil, err
	}
	s.length = meta.Length

	if err := s.open(initialSize); err != nil {
		return nil, err
	}
	return s, nil
}

func doesFileExist(fileName string) bool {
	_, err := os.Stat(fileName)
	return !os.IsNotExist(err)
}

func createFile(filename string, size int64) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer f.Close()

	if _, err := f.Seek(size-1, 0); err != nil {
		return errors.Wrap(err, 0)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return errors.Wrap(err, 0)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *FileStore) open(minSize int64) error {
	file, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", s.path, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file %s: %w", s.path, err)
	}

	size := fi.Size()
	if size < minSize {
		if err := growFile(file, minSize); err != nil {
			file.Close()
			return err
		}
		size = minSize
	}

	applyFadvise(int(file.Fd()), size)

	mapped, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to mmap file %s: %w", s.path, err)
	}

	applyMadvise(mapped)

	s.file = file
	s.mapped = mapped
	s.fileSize = size
	return nil
}

func growFile(f *os.File, size int64) error {
	if _, err := f.Seek(size-1, 0); err != nil {
		return errors.Wrap(err, 0)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return errors.Wrap(err, 0)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return errors.Wrap(err, 0)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

// grow doubles the file until end fits, then remaps.
func (s *FileStore) grow(end int64) error {
	newSize := s.fileSize
	for newSize < end {
		newSize *= 2
	}
	if err := s.mapped.Unmap(); err != nil {
		return errors.Wrap(err, 0)
	}
	if err := growFile(s.file, newSize); err != nil {
		return err
	}
	mapped, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to remap file %s: %w", s.path, err)
	}
	s.mapped = mapped
	s.fileSize = newSize
	return nil
}

func (s *FileStore) Read(dst []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrStoreClosed
	}
	end := position + int64(len(dst))
	if end > s.fileSize {
		if err := s.grow(end); err != nil {
			return 0, err
		}
	}
	return copy(dst, s.mapped[position:end]), nil
}

func (s *FileStore) Write(src []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrStoreClosed
	}
	end := position + int64(len(src))
	if end > s.fileSize {
		if err := s.grow(end); err != nil {
			return 0, err
		}
	}
	n := copy(s.mapped[position:end], src)
	if end > s.length {
		s.length = end
	}
	return n, nil
}

func (s *FileStore) Length() int64 {
	return s.length
}

func (s *FileStore) metaPath() string {
	return s.path + ".meta"
}

func (s *FileStore) readMeta() (fileStoreMeta, error) {
	meta := fileStoreMeta{Magic: fileStoreMagic, Version: 1}
	data, err := os.ReadFile(s.metaPath())
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, errors.Wrap(err, 0)
	}
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return meta, errors.Wrap(err, 0)
	}
	if meta.Magic != fileStoreMagic {
		return meta, errors.Errorf("file %s is not a zbmap store", s.path)
	}
	return meta, nil
}

func (s *FileStore) writeMeta() error {
	data, err := msgpack.Marshal(fileStoreMeta{
		Magic:   fileStoreMagic,
		Version: 1,
		Length:  s.length,
	})
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return os.WriteFile(s.metaPath(), data, 0644)
}

// Sync flushes the mapping and metadata to disk.
func (s *FileStore) Sync() error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.mapped.Flush(); err != nil {
		return errors.Wrap(err, 0)
	}
	return s.writeMeta()
}

func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	if err := s.Sync(); err != nil {
		return err
	}
	s.closed = true
	if err := s.mapped.Unmap(); err != nil {
		return errors.Wrap(err, 0)
	}
	return s.file.Close()
}
