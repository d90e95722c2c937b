package scripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
)

const (
	scriptsCollection = "scripts"
	activeCollection  = "activeScripts"
)

type scriptDoc struct {
	UserID          string            `firestore:"userId"`
	Name            string            `firestore:"name"`
	Format          string            `firestore:"format"`
	Genre           string            `firestore:"genre"`
	Content         string            `firestore:"content"`
	AnalysisResults map[string]string `firestore:"analysisResults"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

type activeDoc struct {
	ScriptID *string `firestore:"scriptId"`
}

// FirestoreStore keeps one document per script in "scripts" and the
// active pointer in "activeScripts/{userId}". Result payloads are stored
// as JSON strings so they round-trip byte for byte.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (f *FirestoreStore) scripts() *firestore.CollectionRef { return f.client.Collection(scriptsCollection) }

func (f *FirestoreStore) active(userID string) *firestore.DocumentRef {
	return f.client.Collection(activeCollection).Doc(userID)
}

func (f *FirestoreStore) Insert(ctx context.Context, sc *Script) error {
	doc := scriptDoc{
		UserID:          sc.UserID,
		Name:            sc.Name,
		Format:          string(sc.Format),
		Genre:           sc.Genre,
		Content:         sc.Content,
		AnalysisResults: map[string]string{},
		CreatedAt:       sc.CreatedAt,
		UpdatedAt:       sc.UpdatedAt,
	}
	id := sc.ID
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(f.scripts().Doc(id), doc); err != nil {
			return err
		}
		return tx.Set(f.active(sc.UserID), activeDoc{ScriptID: &id})
	})
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (f *FirestoreStore) Get(ctx context.Context, userID, id string) (*Script, error) {
	snap, err := f.scripts().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get script %s: %w", id, err)
	}
	return decodeOwned(snap, userID)
}

func (f *FirestoreStore) List(ctx context.Context, userID string) ([]*Script, error) {
	iter := f.scripts().Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	out := []*Script{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list scripts: %w", err)
		}
		sc, err := decodeOwned(snap, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	sortRecent(out)
	return out, nil
}

func (f *FirestoreStore) Apply(ctx context.Context, userID, id string, p Patch, at time.Time) (*Script, error) {
	var out *Script
	ref := f.scripts().Doc(id)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		sc, err := decodeOwned(snap, userID)
		if err != nil {
			return err
		}
		p.apply(sc, at)
		out = sc
		return tx.Update(ref, updates(p, at))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update script %s: %w", id, err)
	}
	return out, nil
}

func updates(p Patch, at time.Time) []firestore.Update {
	var u []firestore.Update
	if p.Name != nil {
		u = append(u, firestore.Update{Path: "name", Value: *p.Name})
	}
	if p.Format != nil {
		u = append(u, firestore.Update{Path: "format", Value: string(*p.Format)})
	}
	if p.Genre != nil {
		u = append(u, firestore.Update{Path: "genre", Value: *p.Genre})
	}
	if p.Content != nil {
		u = append(u, firestore.Update{Path: "content", Value: *p.Content})
	}
	if p.Result != nil {
		u = append(u, firestore.Update{
			FieldPath: firestore.FieldPath{"analysisResults", string(p.Result.Kind)},
			Value:     string(p.Result.Payload),
		})
	}
	return append(u, firestore.Update{Path: "updatedAt", Value: at})
}

func (f *FirestoreStore) Delete(ctx context.Context, userID, id string) error {
	ref := f.scripts().Doc(id)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		if _, err := decodeOwned(snap, userID); err != nil {
			return err
		}
		current, err := f.txActiveID(tx, userID)
		if err != nil {
			return err
		}
		var next *string
		if current == id {
			snaps, err := tx.Documents(f.scripts().Where("userId", "==", userID)).GetAll()
			if err != nil {
				return err
			}
			var rest []*Script
			for _, s := range snaps {
				if s.Ref.ID == id {
					continue
				}
				sc, err := decodeOwned(s, userID)
				if err != nil {
					return err
				}
				rest = append(rest, sc)
			}
			if len(rest) > 0 {
				sortRecent(rest)
				next = &rest[0].ID
			}
		}
		if err := tx.Delete(ref); err != nil {
			return err
		}
		if current == id {
			return tx.Set(f.active(userID), activeDoc{ScriptID: next})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete script %s: %w", id, err)
	}
	return nil
}

func (f *FirestoreStore) SetActive(ctx context.Context, userID, id string) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if id == "" {
			return tx.Set(f.active(userID), activeDoc{})
		}
		snap, err := tx.Get(f.scripts().Doc(id))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		if _, err := decodeOwned(snap, userID); err != nil {
			return err
		}
		return tx.Set(f.active(userID), activeDoc{ScriptID: &id})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set active script: %w", err)
	}
	return nil
}

func (f *FirestoreStore) ActiveID(ctx context.Context, userID string) (string, error) {
	snap, err := f.active(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("get active script: %w", err)
	}
	return activeFrom(snap)
}

func (f *FirestoreStore) txActiveID(tx *firestore.Transaction, userID string) (string, error) {
	snap, err := tx.Get(f.active(userID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	return activeFrom(snap)
}

func activeFrom(snap *firestore.DocumentSnapshot) (string, error) {
	var a activeDoc
	if err := snap.DataTo(&a); err != nil {
		return "", fmt.Errorf("decode active script: %w", err)
	}
	if a.ScriptID == nil {
		return "", nil
	}
	return *a.ScriptID, nil
}

// decodeOwned converts the snapshot, hiding scripts of other users.
func decodeOwned(snap *firestore.DocumentSnapshot, userID string) (*Script, error) {
	var d scriptDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode script %s: %w", snap.Ref.ID, err)
	}
	if d.UserID != userID {
		return nil, ErrNotFound
	}
	sc := &Script{
		ID:              snap.Ref.ID,
		UserID:          d.UserID,
		Name:            d.Name,
		Format:          Format(d.Format),
		Genre:           d.Genre,
		Content:         d.Content,
		AnalysisResults: make(map[analysis.Kind]json.RawMessage, len(d.AnalysisResults)),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for k, v := range d.AnalysisResults {
		sc.AnalysisResults[analysis.Kind(k)] = json.RawMessage(v)
	}
	return sc, nil
}

func sortRecent(s []*Script) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
