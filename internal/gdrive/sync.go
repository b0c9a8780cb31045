// Package gdrive archives call artifacts (recordings and the call
// database) to a Google Drive folder for off-box retention.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type Archiver struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewArchiver(ctx context.Context, credPath, folderID string) (*Archiver, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Archiver{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// ArchiveRecording uploads one finished call recording. Re-archiving
// the same call replaces the previous upload.
func (a *Archiver) ArchiveRecording(localPath string) error {
	name := filepath.Base(localPath)
	return a.upload(localPath, name, mimeTypeFor(name))
}

// ArchiveDatabase uploads a snapshot of the call database under a
// per-date name, so repeated snapshots within a day update in place.
func (a *Archiver) ArchiveDatabase(dbPath, date string) error {
	name := fmt.Sprintf("voice-gateway-calls-%s.db", date)
	return a.upload(dbPath, name, "application/octet-stream")
}

func (a *Archiver) upload(localPath, name, mimeType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := a.fileIDs[name]; ok {
		_, err = a.service.Files.Update(fileID, &drive.File{}).Media(f).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := a.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{a.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	a.fileIDs[name] = doc.Id
	return nil
}

func mimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
