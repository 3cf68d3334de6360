package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
)

const collectionTerminals = "terminals"

// MongoTerminalStore is the MongoDB-backed terminal store
type MongoTerminalStore struct {
	db     *mongo.Database
	cipher *crypto.FieldCipher
}

// NewMongoTerminalStore creates a terminal store over db
func NewMongoTerminalStore(db *mongo.Database, cipher *crypto.FieldCipher) *MongoTerminalStore {
	return &MongoTerminalStore{db: db, cipher: cipher}
}

func (s *MongoTerminalStore) collection() *mongo.Collection {
	return s.db.Collection(collectionTerminals)
}

func (s *MongoTerminalStore) Create(ctx context.Context, t *entity.Terminal) error {
	if err := validateTerminal(t); err != nil {
		return err
	}

	count, err := s.collection().CountDocuments(ctx, bson.M{
		"company":  t.Company,
		"bankCode": t.BankCode,
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return apperr.Newf(apperr.KindConflict, "terminal for company %s at bank %s already exists", t.Company, t.BankCode)
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	if err := encryptTerminalSecrets(s.cipher, t); err != nil {
		return err
	}

	_, err = s.collection().InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Newf(apperr.KindConflict, "terminal for company %s at bank %s already exists", t.Company, t.BankCode)
	}
	return err
}

func (s *MongoTerminalStore) FindByID(ctx context.Context, id string) (*entity.Terminal, error) {
	var t entity.Terminal
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "terminal %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoTerminalStore) FindForSelection(ctx context.Context, company string, currency entity.Currency) ([]*entity.Terminal, error) {
	filter := bson.M{
		"company":    company,
		"status":     true,
		"currencies": currency,
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "createdAt", Value: 1},
	})

	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var terminals []*entity.Terminal
	if err := cursor.All(ctx, &terminals); err != nil {
		return nil, err
	}
	return terminals, nil
}

func (s *MongoTerminalStore) List(ctx context.Context, company string) ([]*entity.Terminal, error) {
	cursor, err := s.collection().Find(ctx, bson.M{"company": company},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var terminals []*entity.Terminal
	if err := cursor.All(ctx, &terminals); err != nil {
		return nil, err
	}
	return terminals, nil
}

func (s *MongoTerminalStore) Update(ctx context.Context, t *entity.Terminal) error {
	if err := validateTerminal(t); err != nil {
		return err
	}
	if err := encryptTerminalSecrets(s.cipher, t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := s.collection().ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "terminal %s not found", t.ID)
	}
	return nil
}

func (s *MongoTerminalStore) SetDefaultForCurrency(ctx context.Context, id string, currency entity.Currency) error {
	if !entity.ValidCurrency(currency) {
		return apperr.Newf(apperr.KindValidation, "unknown currency %q", currency)
	}

	target, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !target.SupportsCurrency(currency) {
		return apperr.Newf(apperr.KindValidation, "terminal %s does not support %s", id, currency)
	}

	// clear the currency from company peers, then add it to the target
	_, err = s.collection().UpdateMany(ctx,
		bson.M{"company": target.Company, "_id": bson.M{"$ne": id}},
		bson.M{"$pull": bson.M{"defaultForCurrencies": currency}},
	)
	if err != nil {
		return err
	}

	_, err = s.collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"defaultForCurrencies": currency}},
	)
	return err
}

func (s *MongoTerminalStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "terminal %s not found", id)
	}
	return nil
}

func (s *MongoTerminalStore) Credentials(t *entity.Terminal) (*entity.DecryptedCredentials, error) {
	return decryptTerminalSecrets(s.cipher, t)
}

func validateTerminal(t *entity.Terminal) error {
	if t.Company == "" {
		return apperr.New(apperr.KindValidation, "terminal company is required")
	}
	if t.BankCode == "" {
		return apperr.New(apperr.KindValidation, "terminal bankCode is required")
	}
	if t.Provider == "" {
		return apperr.New(apperr.KindValidation, "terminal provider is required")
	}
	if len(t.Currencies) == 0 {
		return apperr.New(apperr.KindValidation, "terminal must support at least one currency")
	}
	for _, c := range t.Currencies {
		if !entity.ValidCurrency(c) {
			return apperr.Newf(apperr.KindValidation, "unknown currency %q", c)
		}
	}
	for _, c := range t.DefaultForCurrencies {
		if !t.SupportsCurrency(c) {
			return apperr.Newf(apperr.KindValidation, "default currency %q is not among supported currencies", c)
		}
	}
	return nil
}
