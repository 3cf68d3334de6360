package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
)

const collectionTransactions = "transactions"

// MongoTransactionStore is the MongoDB-backed transaction store
type MongoTransactionStore struct {
	db     *mongo.Database
	cipher *crypto.FieldCipher
}

// NewMongoTransactionStore creates a transaction store over db
func NewMongoTransactionStore(db *mongo.Database, cipher *crypto.FieldCipher) *MongoTransactionStore {
	return &MongoTransactionStore{db: db, cipher: cipher}
}

func (s *MongoTransactionStore) collection() *mongo.Collection {
	return s.db.Collection(collectionTransactions)
}

func (s *MongoTransactionStore) Create(ctx context.Context, tx *entity.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Installment < 1 {
		tx.Installment = 1
	}
	tx.Status = entity.StatusPending
	tx.CreatedAt = time.Now().UTC()

	if err := encryptCardFields(s.cipher, &tx.Card); err != nil {
		return err
	}

	_, err := s.collection().InsertOne(ctx, tx)
	return err
}

func (s *MongoTransactionStore) FindByID(ctx context.Context, id string) (*entity.Transaction, error) {
	var tx entity.Transaction
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MongoTransactionStore) AppendLog(ctx context.Context, id string, e entity.LogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{"logs": e}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	return nil
}

func (s *MongoTransactionStore) UpdateStatus(ctx context.Context, id string, status entity.TransactionStatus) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	return nil
}

func (s *MongoTransactionStore) UpdateStatusFrom(ctx context.Context, id string, from, to entity.TransactionStatus) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindState, "transaction %s is not in status %s", id, from)
	}
	return nil
}

// SaveSecure persists the adapter-owned subtree in one update. The secure
// bundle is written whole; a field diff would silently drop nested mutations
// across its provider-specific shapes.
func (s *MongoTransactionStore) SaveSecure(ctx context.Context, tx *entity.Transaction) error {
	set := bson.M{
		"secure":  tx.Secure,
		"status":  tx.Status,
		"orderId": tx.OrderID,
	}
	if tx.Result != nil {
		set["result"] = tx.Result
	}
	if tx.CompletedAt != nil {
		set["completedAt"] = tx.CompletedAt
	}
	if tx.RefundedAt != nil {
		set["refundedAt"] = tx.RefundedAt
	}
	if tx.CancelledAt != nil {
		set["cancelledAt"] = tx.CancelledAt
	}

	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": tx.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", tx.ID)
	}
	return nil
}

func (s *MongoTransactionStore) ClearCVV(ctx context.Context, id string) error {
	res, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"card.cvv": ""}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	return nil
}

func (s *MongoTransactionStore) DecryptedCard(tx *entity.Transaction) (entity.Card, error) {
	return decryptCardFields(s.cipher, tx.Card)
}
