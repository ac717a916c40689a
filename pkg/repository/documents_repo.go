package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// DocumentsCollection is the MongoDB collection holding user documents.
const DocumentsCollection = "users"

// DocumentsRepository stores user documents in MongoDB, one document per
// user keyed by the user ID.
type DocumentsRepository struct {
	coll *mongo.Collection
}

// NewDocumentsRepository creates a repository over db.
func NewDocumentsRepository(db *mongo.Database) *DocumentsRepository {
	return &DocumentsRepository{coll: db.Collection(DocumentsCollection)}
}

// ConnectMongo connects and pings a MongoDB deployment.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Fields    bson.M    `bson:"fields"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Get retrieves the user's document.
func (r *DocumentsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Document, error) {
	var doc mongoDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain()
}

// Put creates or replaces the user's document, keeping its creation time.
func (r *DocumentsRepository) Put(ctx context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error) {
	if err := CheckFieldNames(fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}

	update := bson.M{
		"$set":         bson.M{"fields": fields, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc mongoDocument
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": userID.String()}, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain()
}

// Merge sets the given top-level fields on an existing document.
func (r *DocumentsRepository) Merge(ctx context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error) {
	if err := CheckFieldNames(fields); err != nil {
		return nil, err
	}

	set := bson.M{"updated_at": now}
	for k, v := range fields {
		set["fields."+k] = v
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoDocument
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": userID.String()}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain()
}

// Delete removes the user's document. Deleting a missing document is not an
// error.
func (r *DocumentsRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": userID.String()})
	return err
}

func (d *mongoDocument) toDomain() (*domain.Document, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	fields, _ := plain(d.Fields).(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return &domain.Document{
		UserID:    id,
		Fields:    fields,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// plain converts decoded BSON containers into plain maps and slices so the
// fields encode as ordinary JSON.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = plain(e)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = plain(e)
		}
		return s
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}
