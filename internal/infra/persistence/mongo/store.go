// Package mongo provides the document-store repository. Joins run server side as
// aggregation pipelines over the chain, assay, sample and patient collections.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"clonefreq/pkg/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Compile-time contract assertion ensuring the store satisfies the repository interface.
var _ domain.Repository = (*Store)(nil)

// Driver is the storage driver name reported by the document-store repository.
const Driver = "mongo"

const (
	defaultHost           = "localhost"
	defaultPort           = 27017
	defaultDatabase       = "immds"
	defaultConnectTimeout = 10 * time.Second
)

// Options describes how to reach the server.
type Options struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	ConnectTimeout time.Duration
	// URI overrides Host and Port when set.
	URI string
}

// URIFor renders the connection string for the options.
func (o Options) URIFor() string {
	if o.URI != "" {
		return o.URI
	}
	host := o.Host
	if host == "" {
		host = defaultHost
	}
	port := o.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("mongodb://%s:%d", host, port)
}

// Store is a repository over one database. *mongo.Client pools connections and
// is safe for concurrent use.
type Store struct {
	client *driver.Client
	db     *driver.Database
}

// NewStore connects, authenticates when credentials are given and pings the
// primary before returning.
func NewStore(ctx context.Context, o Options) (*Store, error) {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	clientOpts := options.Client().ApplyURI(o.URIFor()).SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	if o.User != "" && o.Password != "" {
		clientOpts.SetAuth(options.Credential{Username: o.User, Password: o.Password})
	}
	client, err := driver.Connect(ctx, clientOpts)
	if err != nil {
		return nil, &domain.ConnectionError{Driver: Driver, Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &domain.ConnectionError{Driver: Driver, Err: err}
	}
	name := o.Database
	if name == "" {
		name = defaultDatabase
	}
	return &Store{client: client, db: client.Database(name)}, nil
}

// Driver reports the backend name.
func (s *Store) Driver() string { return Driver }

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

type groupedKey struct {
	ID domain.Clonotype `bson:"_id"`
}

// DistinctClonotypes runs a $group over the study's chain collection.
func (s *Store) DistinctClonotypes(ctx context.Context, study domain.Study) ([]domain.Clonotype, error) {
	cur, err := s.db.Collection(study.ChainCollection).Aggregate(ctx, distinctPipeline())
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", study.ChainCollection, err)
	}
	var groups []groupedKey
	if err := cur.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("read groups of %s: %w", study.ChainCollection, err)
	}
	keys := make([]domain.Clonotype, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, g.ID)
	}
	domain.SortClonotypes(keys)
	return keys, nil
}

// ResolveSampleIDs runs the join pipeline and stringifies sample ids.
func (s *Store) ResolveSampleIDs(ctx context.Context, study domain.Study, vgene, aaSeqCDR3, cancerTypeID string) ([]string, error) {
	cur, err := s.db.Collection(study.ChainCollection).Aggregate(ctx, resolvePipeline(vgene, aaSeqCDR3, cancerTypeID))
	if err != nil {
		return nil, fmt.Errorf("resolve samples in %s: %w", study.ChainCollection, err)
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("read samples of %s: %w", study.ChainCollection, err)
	}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		seen[idString(row["_id"])] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CountSamples aggregates the sample collection against patients of studyID.
func (s *Store) CountSamples(ctx context.Context, studyID, cancerTypeID string) (int, error) {
	cur, err := s.db.Collection(sampleCollection).Aggregate(ctx, cohortPipeline(studyID, cancerTypeID))
	if err != nil {
		return 0, fmt.Errorf("count samples for %s: %w", studyID, err)
	}
	var rows []struct {
		N int `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("read sample count for %s: %w", studyID, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

// InsertFrequency inserts one document into the study's frequency collection.
func (s *Store) InsertFrequency(ctx context.Context, study domain.Study, rec domain.FrequencyRecord) error {
	if rec.SampleIDs == nil {
		rec.SampleIDs = []string{}
	}
	if _, err := s.db.Collection(study.FrequencyCollection).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert frequency %s: %w", rec.ID, err)
	}
	return nil
}

// FindFrequencies filters by case-insensitive VGene prefix and minimum count.
func (s *Store) FindFrequencies(ctx context.Context, study domain.Study, q domain.FrequencyQuery) ([]domain.FrequencyRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "VGene", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(study.FrequencyCollection).Find(ctx, frequencyFilter(q.VGenePrefix, q.MinCount), opts)
	if err != nil {
		return nil, fmt.Errorf("find frequencies in %s: %w", study.FrequencyCollection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read frequencies of %s: %w", study.FrequencyCollection, err)
	}
	out := make([]domain.FrequencyRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeFrequency(doc)
		if err != nil {
			return nil, fmt.Errorf("decode frequency in %s: %w", study.FrequencyCollection, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Load upserts every document by _id with unordered bulk writes.
func (s *Store) Load(ctx context.Context, study domain.Study, data domain.Dataset) error {
	writes := []struct {
		collection string
		docs       []any
		ids        []string
	}{
		{collection: patientCollection},
		{collection: sampleCollection},
		{collection: assayCollection},
		{collection: study.ChainCollection},
	}
	for _, p := range data.Patients {
		writes[0].docs, writes[0].ids = append(writes[0].docs, p), append(writes[0].ids, p.ID)
	}
	for _, smp := range data.Samples {
		writes[1].docs, writes[1].ids = append(writes[1].docs, smp), append(writes[1].ids, smp.ID)
	}
	for _, a := range data.Assays {
		writes[2].docs, writes[2].ids = append(writes[2].docs, a), append(writes[2].ids, a.ID)
	}
	for _, c := range data.Chains {
		if c.ID == "" {
			c.ID = primitive.NewObjectID().Hex()
		}
		writes[3].docs, writes[3].ids = append(writes[3].docs, c), append(writes[3].ids, c.ID)
	}
	for _, w := range writes {
		if len(w.docs) == 0 {
			continue
		}
		models := make([]driver.WriteModel, len(w.docs))
		for i, doc := range w.docs {
			models[i] = driver.NewReplaceOneModel().SetFilter(bson.D{{Key: "_id", Value: w.ids[i]}}).SetReplacement(doc).SetUpsert(true)
		}
		if _, err := s.db.Collection(w.collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("load %s: %w", w.collection, err)
		}
	}
	return nil
}

// idString renders an _id that may be an ObjectID or a plain string.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// decodeFrequency reads a frequency document. Older documents store count and
// sample_size as strings; both encodings are accepted.
func decodeFrequency(doc bson.M) (domain.FrequencyRecord, error) {
	rec := domain.FrequencyRecord{
		ID:        idString(doc["_id"]),
		VGene:     stringField(doc, "VGene"),
		AASeqCDR3: stringField(doc, "aaSeqCDR3"),
		NSeqCDR3:  stringField(doc, "nSeqCDR3"),
	}
	var err error
	if rec.Count, err = intField(doc, "count"); err != nil {
		return rec, err
	}
	if rec.SampleSize, err = intField(doc, "sample_size"); err != nil {
		return rec, err
	}
	switch ids := doc["sample_ids"].(type) {
	case bson.A:
		rec.SampleIDs = make([]string, 0, len(ids))
		for _, id := range ids {
			rec.SampleIDs = append(rec.SampleIDs, idString(id))
		}
	case nil:
		rec.SampleIDs = []string{}
	default:
		return rec, fmt.Errorf("record %s: sample_ids has type %T", rec.ID, ids)
	}
	return rec, nil
}

func stringField(doc bson.M, key string) string {
	s, _ := doc[key].(string)
	return s
}

var errMissingField = errors.New("missing field")

func intField(doc bson.M, key string) (int, error) {
	switch v := doc[key].(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s: %w", key, errMissingField)
	default:
		return 0, fmt.Errorf("%s has type %T", key, v)
	}
}
