package storage

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrInvalidName wird bei Dateinamen mit Pfadanteilen zurückgegeben
var ErrInvalidName = errors.New("invalid snapshot name")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SnapshotStore legt Beweisbilder in einem flachen Verzeichnis ab
type SnapshotStore struct {
	fs      afero.Fs
	dir     string
	baseURL string
}

// NewSnapshotStore erstellt einen Store auf dem Betriebssystem-Dateisystem
func NewSnapshotStore(dir, baseURL string) *SnapshotStore {
	return NewSnapshotStoreFs(afero.NewOsFs(), dir, baseURL)
}

// NewSnapshotStoreFs erstellt einen Store auf einem beliebigen afero.Fs
func NewSnapshotStoreFs(fs afero.Fs, dir, baseURL string) *SnapshotStore {
	return &SnapshotStore{fs: fs, dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// SnapshotName bildet den Dateinamen aus Kamera, Zeitstempel und Track
func SnapshotName(cameraID string, ts time.Time, trackID string) string {
	return fmt.Sprintf("%s_%d_%s.jpg", sanitize(cameraID), ts.UnixNano(), sanitize(trackID))
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

func (s *SnapshotStore) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Write speichert ein Bild atomar (temp + rename) und liefert den Dateinamen
func (s *SnapshotStore) Write(name string, data []byte) (string, error) {
	full, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := full + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return name, nil
}

// Open öffnet einen Snapshot zum Lesen
func (s *SnapshotStore) Open(name string) (afero.File, os.FileInfo, error) {
	full, err := s.resolve(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(full)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, os.ErrNotExist
	}
	return f, info, nil
}

// Read liefert den Inhalt eines Snapshots
func (s *SnapshotStore) Read(name string) ([]byte, error) {
	f, _, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove löscht einen Snapshot; fehlende Dateien sind kein Fehler
func (s *SnapshotStore) Remove(name string) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL liefert die öffentliche Adresse eines Snapshots
func (s *SnapshotStore) URL(name string) string {
	if name == "" {
		return ""
	}
	// url.JoinPath erhält das "//" nach dem Schema absoluter Basis-URLs
	if u, err := url.JoinPath(s.baseURL, name); err == nil {
		return u
	}
	return s.baseURL + "/" + name
}
