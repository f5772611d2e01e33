package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo dials uri and verifies the connection with a short ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("storage: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

// ---------- evidence archive (raw encrypted database blobs) ----------

type MongoBlobStore struct {
	coll *mongo.Collection
}

func NewMongoBlobStore(cli *mongo.Client, dbName, collName string) *MongoBlobStore {
	return &MongoBlobStore{coll: cli.Database(dbName).Collection(collName)}
}

func (m *MongoBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidID
	}
	_, err := m.coll.UpdateByID(
		ctx,
		id,
		bson.M{
			"$set": bson.M{
				"data":      data,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return doc.Data, err
}

func (m *MongoBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// ---------- pass reports ----------

// Report is the persisted summary of one monitoring pass. It mirrors
// monitor.Report without importing it.
type Report struct {
	PassID    string    `bson:"pass_id" json:"pass_id"`
	Directory string    `bson:"directory" json:"directory"`
	State     string    `bson:"state" json:"state"`
	Added     []string  `bson:"added,omitempty" json:"added,omitempty"`
	Removed   []string  `bson:"removed,omitempty" json:"removed,omitempty"`
	Altered   []string  `bson:"altered,omitempty" json:"altered,omitempty"`
	Evidence  string    `bson:"evidence,omitempty" json:"evidence,omitempty"`
	Started   time.Time `bson:"started" json:"started"`
	Finished  time.Time `bson:"finished" json:"finished"`
}

type ReportStore interface {
	PutReport(ctx context.Context, r Report) error
	ListReports(ctx context.Context, directory string, limit int64) ([]Report, error)
}

type MongoReportStore struct {
	coll *mongo.Collection
}

func NewMongoReportStore(ctx context.Context, cli *mongo.Client, dbName, collName string) (*MongoReportStore, error) {
	coll := cli.Database(dbName).Collection(collName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pass_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoReportStore{coll: coll}, nil
}

func (m *MongoReportStore) PutReport(ctx context.Context, r Report) error {
	if r.PassID == "" {
		return errors.New("storage: empty pass id")
	}
	_, err := m.coll.UpdateOne(
		ctx,
		bson.M{"pass_id": r.PassID},
		bson.M{"$set": r},
		options.Update().SetUpsert(true),
	)
	return err
}

// ListReports returns the newest reports for directory first.
func (m *MongoReportStore) ListReports(ctx context.Context, directory string, limit int64) ([]Report, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := m.coll.Find(ctx, bson.M{"directory": directory}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	return decodeReports(ctx, cur)
}

// cursor is the part of *mongo.Cursor that decodeReports reads.
type cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
}

func decodeReports(ctx context.Context, cur cursor) ([]Report, error) {
	var out []Report
	for cur.Next(ctx) {
		var r Report
		if err := cur.Decode(&r); err != nil {
			return nil, fmt.Errorf("storage: decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, cur.Err()
}
