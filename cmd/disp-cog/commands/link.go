package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// linkOutput points name, in the output's directory, at the output with a
// relative symlink. Where symlinks are unavailable the file is copied.
// It returns the path of the link.
func linkOutput(outfile, name string) (string, error) {
	if filepath.Base(name) != name {
		return "", fmt.Errorf("link name %q must not contain a directory", name)
	}
	dir := filepath.Dir(outfile)
	link := filepath.Join(dir, name)
	if link == filepath.Clean(outfile) {
		return "", fmt.Errorf("link name %q is the output itself", name)
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to replace %s: %w", link, err)
	}
	if err := symlink(filepath.Base(outfile), link); err == nil {
		return link, nil
	}
	if err := copyFile(outfile, link); err != nil {
		return "", fmt.Errorf("failed to link %s: %w", link, err)
	}
	return link, nil
}

var symlink = os.Symlink

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
