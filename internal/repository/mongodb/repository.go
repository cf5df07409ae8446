package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/repository"
)

const (
	transactionsCollection = "transactions"
	countersCollection     = "counters"
	vehiclesCollection     = "vehicles"
	scaleTaresCollection   = "scale_tares"

	ticketCounter = "ticket"
)

// MongoDBRepository stores committed transactions, the ticket counter and
// tare records in MongoDB.
type MongoDBRepository struct {
	client      *mongo.Client
	dbName      string
	firstTicket int64
	now         func() time.Time
}

// NewMongoDBRepository creates a new MongoDB repository and makes sure the
// session_id unique index exists.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoDBRepository{
		client:      client,
		dbName:      dbName,
		firstTicket: repository.FirstTicketNumber,
		now:         time.Now,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return r, nil
}

func (r *MongoDBRepository) collection(name string) *mongo.Collection {
	return r.client.Database(r.dbName).Collection(name)
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.collection(transactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}
	return nil
}

// Commit inserts the transaction for draft.SessionID unless one exists, in
// which case the stored one is returned.
func (r *MongoDBRepository) Commit(ctx context.Context, draft models.Transaction) (models.Transaction, error) {
	if strings.TrimSpace(draft.SessionID) == "" {
		return models.Transaction{}, &models.ValidationError{Field: "session_id", Reason: "is required"}
	}

	if existing, err := r.FindBySession(ctx, draft.SessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return models.Transaction{}, err
	}

	seq, err := r.nextTicket(ctx)
	if err != nil {
		return models.Transaction{}, err
	}

	tx := draft
	tx.CommittedAt = r.now().UTC().Truncate(time.Millisecond)
	tx.TicketID = repository.TicketID(seq)
	tx.InvoiceRef = repository.InvoiceRef(tx.CommittedAt, seq)
	tx.NetKg = tx.GrossKg - tx.TareKg

	// A concurrent commit for the same session wins the upsert; its document
	// is what gets returned and this ticket number is skipped.
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored models.Transaction
	err = r.collection(transactionsCollection).FindOneAndUpdate(ctx,
		bson.M{"session_id": tx.SessionID},
		bson.M{"$setOnInsert": tx},
		opts,
	).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		return r.FindBySession(ctx, tx.SessionID)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

// FindBySession returns the transaction committed for sessionID.
func (r *MongoDBRepository) FindBySession(ctx context.Context, sessionID string) (models.Transaction, error) {
	var tx models.Transaction
	err := r.collection(transactionsCollection).FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Transaction{}, repository.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to load transaction: %w", err)
	}
	return tx, nil
}

func (r *MongoDBRepository) nextTicket(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": ticketCounter},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate ticket number: %w", err)
	}
	return r.firstTicket - 1 + counter.Seq, nil
}

// LookupTare prefers the vehicle master record and falls back to the scale's
// configured pre-tare.
func (r *MongoDBRepository) LookupTare(ctx context.Context, scaleID int, plate string) (float64, models.TareSource, bool, error) {
	if plate = strings.ToUpper(strings.TrimSpace(plate)); plate != "" {
		var vehicle models.Vehicle
		err := r.collection(vehiclesCollection).FindOne(ctx, bson.M{"plate_number": plate}).Decode(&vehicle)
		switch {
		case err == nil:
			return vehicle.DefaultTare, models.TareVehicle, true, nil
		case !errors.Is(err, mongo.ErrNoDocuments):
			return 0, "", false, fmt.Errorf("failed to load vehicle %s: %w", plate, err)
		}
	}

	var record struct {
		TareKg float64 `bson:"tare_kg"`
	}
	err := r.collection(scaleTaresCollection).FindOne(ctx, bson.M{"scale_id": scaleID}).Decode(&record)
	switch {
	case err == nil:
		return record.TareKg, models.TareScale, true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("failed to load tare for scale %d: %w", scaleID, err)
	}
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
