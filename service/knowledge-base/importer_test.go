package knowledgebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/mq"
	"knowledge-base-backend/service/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "kb-bucket"

type failingBroker struct {
	*mq.MemoryBroker
}

func (failingBroker) Submit(context.Context, string, any) error {
	return errors.New("broker unreachable")
}

func newTestImporter(broker mq.Broker) (*Importer, *progress.Ledger) {
	ledger := progress.NewLedger(progress.NewMemoryStore(), nil)
	collections := newFakeCollections(&model.Collection{
		TeamID:         testTeam,
		Name:           testColl,
		EmbeddingModel: testModel,
		Dimension:      testDim,
	})
	importer := NewImporter(collections, ledger, broker, testBucket, nil)
	importer.newID = func() string { return "generated-id" }
	return importer, ledger
}

func importRequest() *model.ImportMessage {
	return &model.ImportMessage{
		TeamID:         testTeam,
		UserID:         testUserID,
		CollectionName: testColl,
		FileURL:        "https://example.com/a.txt",
	}
}

func TestSubmitImport_CreatesTaskBeforeEnqueue(t *testing.T) {
	broker := mq.NewMemoryBroker()
	importer, ledger := newTestImporter(broker)
	ctx := context.Background()

	taskID, err := importer.SubmitImport(ctx, importRequest())
	require.NoError(t, err)
	assert.Equal(t, "generated-id", taskID)

	task, err := ledger.GetTask(ctx, testTeam, testColl, taskID)
	require.NoError(t, err)
	assert.Empty(t, task.Events)
	assert.False(t, task.Terminal())

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	delivery, err := broker.Consume(consumeCtx, mq.QueueProcessFile)
	require.NoError(t, err)
	delivery.Ack()

	var msg model.ImportMessage
	require.NoError(t, json.Unmarshal(delivery.Body, &msg))
	assert.Equal(t, taskID, msg.TaskID)
	assert.Equal(t, "https://example.com/a.txt", msg.FileURL)
}

func TestSubmitImport_KeepsCallerTaskID(t *testing.T) {
	importer, _ := newTestImporter(mq.NewMemoryBroker())
	req := importRequest()
	req.TaskID = "caller-id"

	taskID, err := importer.SubmitImport(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "caller-id", taskID)
}

func TestSubmitImport_EnqueueFailureMarksTaskFailed(t *testing.T) {
	importer, ledger := newTestImporter(failingBroker{mq.NewMemoryBroker()})
	ctx := context.Background()

	taskID, err := importer.SubmitImport(ctx, importRequest())
	require.Error(t, err)

	task, err := ledger.GetTask(ctx, testTeam, testColl, taskID)
	require.NoError(t, err)
	require.Len(t, task.Events, 1)
	assert.Equal(t, model.TaskStatusFailed, task.Events[0].Status)
	assert.Contains(t, task.Events[0].Message, "enqueue")
}

func TestSubmitImport_Validation(t *testing.T) {
	broker := mq.NewMemoryBroker()
	importer, ledger := newTestImporter(broker)
	ctx := context.Background()

	noSource := importRequest()
	noSource.FileURL = ""
	_, err := importer.SubmitImport(ctx, noSource)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	unknown := importRequest()
	unknown.CollectionName = "missing"
	_, err = importer.SubmitImport(ctx, unknown)
	assert.ErrorIs(t, err, collection.ErrCollectionNotFound)

	tasks, err := ledger.ListTasks(ctx, testTeam, testColl)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, broker.Len(mq.QueueProcessFile))
}

func TestSubmitImport_RestrictsOSSToTeamPrefix(t *testing.T) {
	broker := mq.NewMemoryBroker()
	importer, ledger := newTestImporter(broker)
	ctx := context.Background()

	rejected := []*model.ImportMessage{
		{OSSObject: &model.OSSObject{Bucket: "other-bucket", ObjectName: testTeam + "/c1/a.txt"}},
		{OSSObject: &model.OSSObject{ObjectName: "team-2/c1/a.txt"}},
		{OSSObject: &model.OSSObject{ObjectName: testTeam + "/../team-2/a.txt"}},
		{OSSObject: &model.OSSObject{ObjectName: testTeam + "-evil/a.txt"}},
		{FileURL: "oss://other-bucket/" + testTeam + "/a.txt"},
		{FileURL: "oss://" + testBucket + "/team-2/a.txt"},
	}
	for _, req := range rejected {
		req.TeamID, req.UserID, req.CollectionName = testTeam, testUserID, testColl
		_, err := importer.SubmitImport(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "source %s", req.Source())
	}
	tasks, err := ledger.ListTasks(ctx, testTeam, testColl)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, broker.Len(mq.QueueProcessFile))

	allowed := []*model.ImportMessage{
		{OSSObject: &model.OSSObject{ObjectName: testTeam + "/c1/a.txt"}},
		{OSSObject: &model.OSSObject{Bucket: testBucket, ObjectName: testTeam + "/c1/b.txt"}},
		{FileURL: "oss://" + testBucket + "/" + testTeam + "/c1/c.txt"},
		{FileURL: "https://example.com/team-2/a.txt"},
	}
	for n, req := range allowed {
		req.TeamID, req.UserID, req.CollectionName = testTeam, testUserID, testColl
		req.TaskID = fmt.Sprintf("allowed-%d", n)
		_, err := importer.SubmitImport(ctx, req)
		assert.NoError(t, err, "source %s", req.Source())
	}
	assert.Equal(t, len(allowed), broker.Len(mq.QueueProcessFile))
}

func TestSubmitImport_RejectsOSSWithoutConfiguredBucket(t *testing.T) {
	importer, _ := newTestImporter(mq.NewMemoryBroker())
	importer.bucket = ""

	req := importRequest()
	req.FileURL = ""
	req.OSSObject = &model.OSSObject{Bucket: "any", ObjectName: testTeam + "/a.txt"}
	_, err := importer.SubmitImport(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
