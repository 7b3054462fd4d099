package loader

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/shiki/pkg/registry"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

var ErrRegistration = errors.New("hook registration declined")

// ImageCallback is invoked once per matching image load
type ImageCallback func(img *Image)

// ProcessCallback is invoked when a launched executable matches a process hook
type ProcessCallback func(exec string, p registry.Process)

// Host is the load notification facility. A host may invoke the callbacks from inside the
// registration call for images and processes that are already loaded.
type Host interface {
	RegisterProcessLoadHook(procs []registry.Process, cb ProcessCallback) error
	RegisterImageLoadHook(paths []string, cb ImageCallback) error
}

// FileHost serves images from a system root on disk. Loading an image reads it into memory
// and notifies the registered callback, much like the kernel's image activation hooks.
type FileHost struct {
	// Root is prepended to every image path (a mounted system volume or an extracted tree)
	Root string

	mu      sync.Mutex
	images  map[string]ImageCallback
	procs   []registry.Process
	procsCB ProcessCallback
}

// NewFileHost returns a host serving images below root
func NewFileHost(root string) *FileHost {
	return &FileHost{Root: root, images: make(map[string]ImageCallback)}
}

// RegisterImageLoadHook registers cb for each of paths
func (h *FileHost) RegisterImageLoadHook(paths []string, cb ImageCallback) error {
	if cb == nil {
		return errors.Wrap(ErrRegistration, "nil image callback")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range paths {
		if _, dup := h.images[p]; dup {
			return errors.Wrapf(ErrRegistration, "image %s already hooked", p)
		}
	}
	for _, p := range paths {
		h.images[p] = cb
	}
	return nil
}

// RegisterProcessLoadHook registers the process table
func (h *FileHost) RegisterProcessLoadHook(procs []registry.Process, cb ProcessCallback) error {
	if cb == nil {
		return errors.Wrap(ErrRegistration, "nil process callback")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.procsCB != nil {
		return errors.Wrap(ErrRegistration, "process hook already registered")
	}
	h.procs = append([]registry.Process(nil), procs...)
	h.procsCB = cb
	return nil
}

// File maps an image path to the file on disk
func (h *FileHost) File(path string) string {
	return filepath.Join(h.Root, filepath.FromSlash(path))
}

// Hooked lists the registered image paths
func (h *FileHost) Hooked() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	paths := make([]string, 0, len(h.images))
	for p := range h.images {
		paths = append(paths, p)
	}
	return paths
}

// Load reads the image at path and notifies its callback
func (h *FileHost) Load(path string) error {
	h.mu.Lock()
	cb, ok := h.images[path]
	h.mu.Unlock()
	if !ok {
		return errors.Errorf("no hook registered for %s", path)
	}

	img, err := ReadImage(path, h.File(path))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"image": path, "size": img.Size()}).Debug("Image loaded")
	cb(img)
	return nil
}

// LoadAll loads every hooked image that exists below Root; missing images are skipped.
// When only is not empty, hooked images outside of it are skipped as well.
func (h *FileHost) LoadAll(only ...string) (int, error) {
	var n int
	for _, p := range h.Hooked() {
		if len(only) > 0 && !slices.Contains(only, p) {
			log.WithField("image", p).Debug("Image not selected")
			continue
		}
		if _, err := os.Stat(h.File(p)); err != nil {
			log.WithField("image", p).Debug("Image not present")
			continue
		}
		if err := h.Load(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Launch notifies the process hook for every entry matching exec
func (h *FileHost) Launch(exec string) int {
	h.mu.Lock()
	procs, cb := h.procs, h.procsCB
	h.mu.Unlock()

	var n int
	for _, p := range procs {
		if p.Matches(exec) {
			cb(exec, p)
			n++
		}
	}
	return n
}

// Watch reloads a hooked image every time its file is written, until ctx is done
func (h *FileHost) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	byFile := make(map[string]string)
	dirs := make(map[string]bool)
	for _, p := range h.Hooked() {
		f := h.File(p)
		byFile[f] = p
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Warn("Failed to watch")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p, hooked := byFile[event.Name]
			if !hooked || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			log.WithField("event", event.String()).Debug("Image changed")
			if err := h.Load(p); err != nil {
				log.WithError(err).WithField("image", p).Error("Failed to reload image")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("Watcher error")
		}
	}
}
