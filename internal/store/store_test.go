package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"premium_gate_bot/internal/config"
)

func TestNewManagerConnectsAndExposesCollections(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	cfg := config.Config{
		MongoURI: "mongodb://stub-host:27017",
		MongoDB:  "premium_gate_test",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	manager, err := NewManager(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if manager.Database().Name() != cfg.MongoDB {
		t.Fatalf("expected database %s, got %s", cfg.MongoDB, manager.Database().Name())
	}

	if len(fake.databaseRequests) != 1 || fake.databaseRequests[0] != cfg.MongoDB {
		t.Fatalf("expected database request for %s, got %v", cfg.MongoDB, fake.databaseRequests)
	}

	if manager.Subscriptions().Name() != CollectionSubscriptions {
		t.Fatalf("expected subscriptions collection name %s, got %s", CollectionSubscriptions, manager.Subscriptions().Name())
	}

	if manager.Channels().Name() != CollectionChannels {
		t.Fatalf("expected channels collection name %s, got %s", CollectionChannels, manager.Channels().Name())
	}

	if err := manager.Close(ctx); err != nil {
		t.Fatalf("expected clean disconnect, got %v", err)
	}

	if !fake.disconnectCalled {
		t.Fatalf("expected disconnect to be called")
	}
}

func TestNewManagerBoundsConnectionPool(t *testing.T) {
	fake := newFakeMongoClient(t)

	var got *options.ClientOptions
	prev := connectMongo
	connectMongo = func(_ context.Context, opts *options.ClientOptions) (mongoClient, error) {
		got = opts
		return fake, nil
	}
	t.Cleanup(func() { connectMongo = prev })

	cfg := config.Config{
		MongoURI:         "mongodb://stub-host:27017",
		MongoDB:          "premium_gate_test",
		MongoMaxPoolSize: 10,
	}

	if _, err := NewManager(context.Background(), cfg, nil); err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if got == nil || got.MaxPoolSize == nil || *got.MaxPoolSize != 10 {
		t.Fatalf("expected max pool size 10, got %v", got)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "stub-host:27017" {
		t.Fatalf("expected URI hosts to be applied, got %v", got.Hosts)
	}
}

func TestNewManagerFailsOnPingAndCleansUp(t *testing.T) {
	fake := newFakeMongoClient(t)
	fake.pingErr = errors.New("ping failed")

	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewManager(ctx, config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err == nil {
		t.Fatalf("expected ping error")
	}

	if !fake.disconnectCalled {
		t.Fatalf("expected disconnect after ping failure")
	}
}

func TestNewManagerPropagatesConnectError(t *testing.T) {
	restore := stubConnect(nil, errors.New("connect failed"))
	t.Cleanup(restore)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewManager(ctx, config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestNewManagerValidatesContext(t *testing.T) {
	_, err := NewManager(nil, config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestManagerCloseRequiresContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.Close(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestManagerPingChecksConnectivity(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.Ping(ctx); err != nil {
		t.Fatalf("expected ping to succeed, got error: %v", err)
	}

	if fake.pingCalls < 2 {
		t.Fatalf("expected ping to be invoked at least twice (init + explicit), got %d", fake.pingCalls)
	}
	if fake.lastReadPref != "primary" {
		t.Fatalf("expected ping to use primary read preference, got %q", fake.lastReadPref)
	}
}

func TestManagerPingPropagatesErrors(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	errPing := errors.New("ping failed")
	fake.pingErr = errPing

	if err := manager.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail")
	} else if !errors.Is(err, errPing) {
		t.Fatalf("expected ping error to wrap ping failed, got %v", err)
	}
}

func TestManagerPingValidatesContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.Ping(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestEnsureBaseIndexesCreatesUniqueIndexes(t *testing.T) {
	fake := newFakeMongoClient(t)
	restoreConnect := stubConnect(fake, nil)
	t.Cleanup(restoreConnect)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	recorder := newIndexRecorder(t, "")
	restoreIndexes := recorder.stub()
	t.Cleanup(restoreIndexes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.EnsureBaseIndexes(ctx); err != nil {
		t.Fatalf("expected indexes to be created, got error: %v", err)
	}

	if len(recorder.calls) != 2 {
		t.Fatalf("expected 2 index creation calls, got %d", len(recorder.calls))
	}

	subscriptionCall := recorder.calls[0]
	if subscriptionCall.collection != CollectionSubscriptions {
		t.Fatalf("expected first collection %s, got %s", CollectionSubscriptions, subscriptionCall.collection)
	}
	if len(subscriptionCall.models) != 2 {
		t.Fatalf("expected 2 subscription index models, got %d", len(subscriptionCall.models))
	}
	assertUniqueIndex(t, subscriptionCall.models[0], "user_id", "user_id_unique")
	assertIndexKey(t, subscriptionCall.models[1], "expiry_date", "expiry_date_idx")

	channelCall := recorder.calls[1]
	if channelCall.collection != CollectionChannels {
		t.Fatalf("expected second collection %s, got %s", CollectionChannels, channelCall.collection)
	}
	if len(channelCall.models) != 1 {
		t.Fatalf("expected 1 channel index model, got %d", len(channelCall.models))
	}
	assertUniqueIndex(t, channelCall.models[0], "chat_id", "chat_id_unique")
}

func TestEnsureBaseIndexesFailsFastOnErrors(t *testing.T) {
	fake := newFakeMongoClient(t)
	restoreConnect := stubConnect(fake, nil)
	t.Cleanup(restoreConnect)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	recorder := newIndexRecorder(t, CollectionSubscriptions)
	restoreIndexes := recorder.stub()
	t.Cleanup(restoreIndexes)

	err = manager.EnsureBaseIndexes(context.Background())
	if err == nil {
		t.Fatalf("expected error from index creation")
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("expected to stop after first failure, got %d calls", len(recorder.calls))
	}
	if !errors.Is(err, errIndexFailure) {
		t.Fatalf("expected error to wrap index failure, got %v", err)
	}
}

func TestEnsureBaseIndexesValidatesContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restoreConnect := stubConnect(fake, nil)
	t.Cleanup(restoreConnect)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "premium_gate_test"}, nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.EnsureBaseIndexes(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestNewManagerRetriesTransientPingFailures(t *testing.T) {
	fake := newFakeMongoClient(t)
	fake.pingErrs = []error{networkError(), networkError()}
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	hookLogger, hook := logtest.NewNullLogger()
	cfg := config.Config{
		MongoURI:           "mongodb://stub",
		MongoDB:            "premium_gate_test",
		StoreRetryAttempts: 3,
		StoreRetryBackoff:  time.Millisecond,
	}

	manager, err := NewManager(context.Background(), cfg, logrus.NewEntry(hookLogger))
	if err != nil {
		t.Fatalf("expected manager to initialize after retries, got error: %v", err)
	}
	if manager.Retry().Attempts != 3 {
		t.Fatalf("expected retry policy with 3 attempts, got %d", manager.Retry().Attempts)
	}

	if fake.pingCalls != 3 {
		t.Fatalf("expected 3 ping attempts, got %d", fake.pingCalls)
	}

	retries := 0
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "store_retry" {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("expected 2 store_retry log entries, got %d", retries)
	}
}

func TestNewManagerGivesUpAfterRetryBudget(t *testing.T) {
	fake := newFakeMongoClient(t)
	fake.pingErr = networkError()
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	cfg := config.Config{
		MongoURI:           "mongodb://stub",
		MongoDB:            "premium_gate_test",
		StoreRetryAttempts: 2,
		StoreRetryBackoff:  time.Millisecond,
	}

	_, err := NewManager(context.Background(), cfg, nil)
	if err == nil {
		t.Fatalf("expected ping error after exhausting retries")
	}
	if !mongo.IsNetworkError(err) {
		t.Fatalf("expected network error to be preserved, got %v", err)
	}
	if fake.pingCalls != 2 {
		t.Fatalf("expected 2 ping attempts, got %d", fake.pingCalls)
	}
	if !fake.disconnectCalled {
		t.Fatalf("expected disconnect after ping failure")
	}
}

func TestRetryPolicyDoesNotRetryPermanentErrors(t *testing.T) {
	policy := NewRetryPolicy(5, time.Millisecond, nil)
	permanent := errors.New("bad filter")

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryPolicyStopsOnCanceledContext(t *testing.T) {
	policy := NewRetryPolicy(5, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return networkError()
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(networkError()) {
		t.Fatalf("expected labeled network error to be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatalf("expected plain error to be permanent")
	}
	if IsTransient(context.Canceled) || IsTransient(nil) {
		t.Fatalf("expected cancellation and nil to be permanent")
	}
}

func networkError() error {
	return mongo.CommandError{Code: 6, Message: "connection reset", Labels: []string{"NetworkError"}}
}

type fakeMongoClient struct {
	client           *mongo.Client
	pingErr          error
	pingErrs         []error
	disconnectErr    error
	disconnectCalled bool
	databaseRequests []string
	pingCalls        int
	lastReadPref     string
}

func newFakeMongoClient(t *testing.T) *fakeMongoClient {
	t.Helper()

	client, err := mongo.NewClient(options.Client().ApplyURI("mongodb://example.com:27017"))
	if err != nil {
		t.Fatalf("failed to build fake client: %v", err)
	}

	return &fakeMongoClient{client: client}
}

func (f *fakeMongoClient) Ping(_ context.Context, rp *readpref.ReadPref) error {
	f.pingCalls++
	if rp != nil {
		f.lastReadPref = rp.String()
	}
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		return err
	}
	return f.pingErr
}

func (f *fakeMongoClient) Database(name string, opts ...*options.DatabaseOptions) *mongo.Database {
	f.databaseRequests = append(f.databaseRequests, name)
	return f.client.Database(name, opts...)
}

func (f *fakeMongoClient) Disconnect(context.Context) error {
	f.disconnectCalled = true
	return f.disconnectErr
}

func stubConnect(fake mongoClient, err error) func() {
	prev := connectMongo
	connectMongo = func(context.Context, *options.ClientOptions) (mongoClient, error) {
		return fake, err
	}

	return func() {
		connectMongo = prev
	}
}

var errIndexFailure = errors.New("index failure")

type indexCall struct {
	collection string
	models     []mongo.IndexModel
}

type indexRecorder struct {
	t               *testing.T
	calls           []indexCall
	errorCollection string
}

func newIndexRecorder(t *testing.T, errorCollection string) *indexRecorder {
	t.Helper()
	return &indexRecorder{t: t, errorCollection: errorCollection}
}

func (r *indexRecorder) stub() func() {
	prev := createIndexes
	createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
		r.calls = append(r.calls, indexCall{collection: coll.Name(), models: models})
		if r.errorCollection == coll.Name() {
			return nil, errIndexFailure
		}
		return []string{coll.Name() + "_idx"}, nil
	}

	return func() {
		createIndexes = prev
	}
}

func assertUniqueIndex(t *testing.T, model mongo.IndexModel, key, name string) {
	t.Helper()

	assertIndexKey(t, model, key, name)

	if model.Options.Unique == nil || !*model.Options.Unique {
		t.Fatalf("expected unique option for %s", key)
	}
}

func assertIndexKey(t *testing.T, model mongo.IndexModel, key, name string) {
	t.Helper()

	keysDoc, ok := model.Keys.(bson.D)
	if !ok {
		t.Fatalf("expected bson.D keys, got %T", model.Keys)
	}

	if len(keysDoc) != 1 || keysDoc[0].Key != key {
		t.Fatalf("expected index key %s, got %v", key, keysDoc)
	}

	if model.Options == nil || model.Options.Name == nil || *model.Options.Name != name {
		t.Fatalf("expected index name %s, got %v", name, model.Options)
	}
}
