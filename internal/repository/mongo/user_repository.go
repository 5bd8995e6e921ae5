// Package mongo stores users as documents in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"otp-auth/internal/domain"
	"otp-auth/internal/repository"
)

// UsersCollection is the collection name used for user documents.
const UsersCollection = "users"

// caseInsensitive matches emails regardless of case, both in the unique index and in lookups.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type userDocument struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	Email        string     `bson:"email"`
	PasswordHash string     `bson:"password_hash"`
	Role         string     `bson:"role"`
	IsVerified   bool       `bson:"is_verified"`
	OTPCode      int        `bson:"otp_code,omitempty"`
	OTPExpiresAt *time.Time `bson:"otp_expires_at,omitempty"`
	RefreshToken string     `bson:"refresh_token"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

type UserRepository struct {
	coll          collection
	ensureIndexes func(ctx context.Context) error
}

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewUserRepository(db *mongo.Database) repository.UserRepository {
	coll := db.Collection(UsersCollection)
	return &UserRepository{
		coll: coll,
		ensureIndexes: func(ctx context.Context) error {
			_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetCollation(caseInsensitive),
			})
			return err
		},
	}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if r.ensureIndexes == nil {
		return nil
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, toDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert user %s: %w", user.Email, repository.ErrUserExists)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	res := r.coll.FindOne(ctx, bson.M{"email": email}, options.FindOne().SetCollation(caseInsensitive))
	return decodeUser(res)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return decodeUser(r.coll.FindOne(ctx, bson.M{"_id": id}))
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": user.ID}, toDocument(user))
	if err != nil {
		return fmt.Errorf("replace user: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *UserRepository) ReplaceRefreshToken(ctx context.Context, id, expected, next string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "refresh_token": expected},
		bson.M{"$set": bson.M{"refresh_token": next, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("replace refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrRefreshTokenMismatch
	}
	return nil
}

func decodeUser(res *mongo.SingleResult) (*domain.User, error) {
	var doc userDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return fromDocument(doc), nil
}

func toDocument(u *domain.User) userDocument {
	doc := userDocument{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsVerified:   u.IsVerified,
		OTPCode:      u.OTPCode,
		RefreshToken: u.RefreshToken,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
	if u.OTPExpiresAt != nil {
		exp := u.OTPExpiresAt.UTC()
		doc.OTPExpiresAt = &exp
	}
	return doc
}

func fromDocument(doc userDocument) *domain.User {
	return &domain.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Role:         domain.Role(doc.Role),
		IsVerified:   doc.IsVerified,
		OTPCode:      doc.OTPCode,
		OTPExpiresAt: doc.OTPExpiresAt,
		RefreshToken: doc.RefreshToken,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
