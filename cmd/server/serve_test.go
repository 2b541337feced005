package main

import (
	"context"
	"path/filepath"
	"testing"

	"facewatch/config"
	"facewatch/internal/core/models"
	"facewatch/internal/db"
	"facewatch/internal/db/repository"
	"facewatch/internal/integrations/frigate"
	"facewatch/internal/integrations/opencv"
	"facewatch/internal/security"
)

func TestNewFrameSourceByScheme(t *testing.T) {
	cfg := &config.Config{}

	cases := map[string]bool{
		"frigate://nvr:5000/garage":   true,
		"http://cam.local/still.jpg":  true,
		"rtsp://cam.local/stream":     false,
		"http://cam.local/video.mjpg": false,
		"/videos/test.mp4":            false,
	}
	for uri, snapshot := range cases {
		src := newFrameSource(cfg, uri)
		switch src.(type) {
		case *frigate.SnapshotSource:
			if !snapshot {
				t.Errorf("%s: unexpected snapshot source", uri)
			}
		case *opencv.Capture:
			if snapshot {
				t.Errorf("%s: expected snapshot source", uri)
			}
		default:
			t.Errorf("%s: unexpected source %T", uri, src)
		}
	}
}

func newTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	conn, err := db.Open(config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return repository.NewGormRepository(conn)
}

func TestBootstrapAdmin(t *testing.T) {
	repo := newTestRepo(t)
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true, AdminEmail: "Admin@Example.com", AdminPassword: "supersecret"}}

	if err := bootstrapAdmin(context.Background(), cfg, repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	user, err := repo.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if user.Role != models.RoleAdmin || !security.CheckPassword(user.HashedPassword, "supersecret") {
		t.Fatalf("unexpected admin %+v", user)
	}

	// zweiter Start legt kein weiteres Konto an
	cfg.Auth.AdminEmail = "other@example.com"
	if err := bootstrapAdmin(context.Background(), cfg, repo); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if n, _ := repo.CountUsers(context.Background()); n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

func TestBootstrapAdminWithoutPassword(t *testing.T) {
	repo := newTestRepo(t)
	cfg := &config.Config{Auth: config.AuthConfig{Enabled: true, AdminEmail: "admin@example.com"}}

	if err := bootstrapAdmin(context.Background(), cfg, repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if n, _ := repo.CountUsers(context.Background()); n != 0 {
		t.Fatalf("no account expected without password, got %d", n)
	}
}
