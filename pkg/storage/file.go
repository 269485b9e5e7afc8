package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystem is the local filesystem engine.
type FileSystem struct {
	perm os.FileMode
}

var _ Engine = (*FileSystem)(nil)

func NewFileSystem() *FileSystem {
	return &FileSystem{perm: 0666}
}

func (f *FileSystem) Get(_ context.Context, u *URI) (Reader, error) {
	r, err := os.Open(u.Path)
	if err != nil {
		return nil, wrapFileError(u, err)
	}
	return r, nil
}

func (f *FileSystem) Put(_ context.Context, u *URI) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(u.Path), 0755); err != nil {
		return nil, wrapFileError(u, err)
	}
	w, err := os.OpenFile(u.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, f.perm)
	if err != nil {
		return nil, wrapFileError(u, err)
	}
	return w, nil
}

func (f *FileSystem) Delete(_ context.Context, u *URI) error {
	return wrapFileError(u, os.Remove(u.Path))
}

func (f *FileSystem) DeleteByPrefix(_ context.Context, u *URI) error {
	return os.RemoveAll(u.Path)
}

func (f *FileSystem) Size(_ context.Context, u *URI) (int64, error) {
	info, err := os.Stat(u.Path)
	if err != nil {
		return 0, wrapFileError(u, err)
	}
	return info.Size(), nil
}

func (f *FileSystem) Exists(_ context.Context, u *URI) (bool, error) {
	_, err := os.Stat(u.Path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapFileError(u, err)
	}
	return true, nil
}

func (f *FileSystem) List(_ context.Context, u *URI) ([]Info, error) {
	entries, err := os.ReadDir(u.Path)
	if err != nil {
		return nil, wrapFileError(u, err)
	}
	infos := make([]Info, len(entries))
	for i, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos[i] = Info{Name: e.Name(), Size: info.Size()}
	}
	return infos, nil
}

func wrapFileError(u *URI, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", u, ErrNotExist)
	}
	return err
}
