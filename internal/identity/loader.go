package identity

import (
	"context"

	"facewatch/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// IdentityLister ist der lesende Teil des Repositories
type IdentityLister interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
}

// Decrypter entschlüsselt gespeicherte Embeddings
type Decrypter interface {
	Decrypt(encoded string) ([]float32, error)
}

// StoreLoader lädt Identitäten aus der Datenbank und entschlüsselt die Embeddings
type StoreLoader struct {
	repo   IdentityLister
	cipher Decrypter
}

func NewStoreLoader(repo IdentityLister, cipher Decrypter) *StoreLoader {
	return &StoreLoader{repo: repo, cipher: cipher}
}

// LoadIdentities überspringt Datensätze mit beschädigtem Embedding
func (l *StoreLoader) LoadIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := l.repo.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Identity, 0, len(rows))
	for _, row := range rows {
		emb, err := l.cipher.Decrypt(row.Embedding)
		if err != nil {
			log.WithError(err).WithField("identity_id", row.ID).Warn("Skipping identity with unreadable embedding")
			continue
		}
		out = append(out, Identity{ID: row.ID, Name: row.Name, Embedding: emb})
	}
	return out, nil
}
