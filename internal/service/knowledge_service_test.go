package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sitechat-go/internal/moderation"
	"sitechat-go/internal/pipeline"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/tokenizer"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/ai/aitest"
	"sitechat-go/pkg/tasks"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

type recordingQueue struct {
	tasks []tasks.EmbeddingTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task tasks.EmbeddingTask) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(repository.Models()...))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type knowledgeFixture struct {
	provider *aitest.Provider
	chunks   repository.ChunkRepository
	docs     repository.DocumentRepository
	queue    *recordingQueue
	svc      KnowledgeService
}

func newKnowledgeFixture(t *testing.T, maxChunks int64) *knowledgeFixture {
	t.Helper()
	db := newTestDB(t)
	rdb := newTestRedis(t)

	p := aitest.New()
	chunks := repository.NewChunkRepository(db)
	docs := repository.NewDocumentRepository(db)
	gate := moderation.NewGate(p, repository.NewCacheRepository(rdb), config.DefaultThresholds(), time.Minute)
	queue := &recordingQueue{}
	svc := NewKnowledgeService(docs, chunks, tokenizer.NewChunker(wordTokenizer{}, 12),
		gate, pipeline.NewProcessor(p, chunks, 16), queue, KnowledgeOptions{MaxChunks: maxChunks})
	return &knowledgeFixture{provider: p, chunks: chunks, docs: docs, queue: queue, svc: svc}
}

// 每句 5 个词，标题 1 个词；上限 12 时两句一块。
const threeSentences = "one two three four five. six seven eight nine ten. eleven twelve thirteen fourteen fifteen"

func TestAddData_IngestsAndEmbeds(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "42", Title: "Shipping", Content: "<p>We ship worldwide.</p>"})

	require.NoError(t, err)
	assert.Equal(t, "42", res.ContentID)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 0, res.Pending)
	assert.False(t, res.Verdict.Flagged())

	processed, err := f.chunks.GetByStatus(ctx, model.ChunkProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "We ship worldwide.", processed[0].Body)
	assert.NotNil(t, processed[0].Vector())

	doc, err := f.svc.GetData(ctx, "42")
	require.NoError(t, err)
	assert.True(t, doc.Added)
	assert.Equal(t, model.DocumentKindPost, doc.Kind)
	assert.Empty(t, f.queue.tasks)
}

func TestAddData_SplitsLongContent(t *testing.T) {
	f := newKnowledgeFixture(t, 0)

	res, err := f.svc.AddData(context.Background(), AddDataRequest{ContentID: "7", Title: "Doc", Content: threeSentences})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
}

func TestAddData_FlaggedIsRecordedNotIngested(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	f.provider.ModerationFunc = func(string) *ai.ModerationResult { return aitest.Flagged(map[string]float64{"violence": 0.9}) }
	ctx := context.Background()

	res, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "9", Title: "Bad", Content: "Something bad."})

	require.NoError(t, err)
	assert.True(t, res.Verdict.Flagged())
	assert.Equal(t, 0.9, res.Review["violence"])
	assert.Equal(t, 0, res.Chunks)

	n, err := f.chunks.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	doc, err := f.svc.GetData(ctx, "9")
	require.NoError(t, err)
	assert.True(t, doc.ModerationFailed)
	assert.False(t, doc.Added)
	assert.Equal(t, model.ChunkModerationFailed, doc.Status())

	// override 跳过审核强制入库
	res, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "9", Title: "Bad", Content: "Something bad.", Action: ActionOverride})
	require.NoError(t, err)
	assert.False(t, res.Verdict.Flagged())
	assert.Equal(t, 1, res.Chunks)

	doc, err = f.svc.GetData(ctx, "9")
	require.NoError(t, err)
	assert.False(t, doc.ModerationFailed)
	assert.True(t, doc.Added)
}

func TestAddData_FlaggedUpdateKeepsLiveChunks(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "5", Title: "Shipping", Content: "We ship worldwide."})
	require.NoError(t, err)

	f.provider.ModerationFunc = func(string) *ai.ModerationResult { return aitest.Flagged(map[string]float64{"hate": 0.8}) }
	res, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "5", Title: "Shipping", Content: "Something hateful.", Action: ActionUpdate})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Flagged())

	processed, err := f.chunks.GetByStatus(ctx, model.ChunkProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "We ship worldwide.", processed[0].Body)

	doc, err := f.svc.GetData(ctx, "5")
	require.NoError(t, err)
	assert.True(t, doc.ModerationFailed)
	assert.True(t, doc.Added)
}

func TestAddData_ModerationErrorAborts(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	f.provider.ModerateErrs = []error{errors.New("moderation down")}

	_, err := f.svc.AddData(context.Background(), AddDataRequest{ContentID: "1", Title: "T", Content: "Body."})

	assert.Error(t, err)
	_, err = f.svc.GetData(context.Background(), "1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAddData_UpdateReplacesChunks(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "5", Title: "Doc", Content: threeSentences})
	require.NoError(t, err)
	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "5", Title: "Doc", Content: "Short now.", Action: ActionUpdate})
	require.NoError(t, err)

	n, err := f.chunks.CountByDocument(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	processed, err := f.chunks.GetByStatus(ctx, model.ChunkProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, "Short now.", processed[0].Body)
}

func TestAddData_CorpusCeiling(t *testing.T) {
	f := newKnowledgeFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "a", Title: "Doc", Content: threeSentences})
	require.NoError(t, err)

	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "b", Title: "Other", Content: "One more."})
	assert.ErrorIs(t, err, ErrCorpusFull)

	// 替换自身的分块不计入已有数量
	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "a", Title: "Doc", Content: "Replaced.", Action: ActionUpdate})
	require.NoError(t, err)
	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "b", Title: "Other", Content: "One more."})
	assert.NoError(t, err)
}

func TestAddData_EmbeddingFailureEnqueuesRetry(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	f.provider.EmbedErrs = []error{errors.New("rate limited")}
	ctx := context.Background()

	res, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "3", Title: "Doc", Content: "Body text."})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "3", f.queue.tasks[0].ContentID)

	pending, err := f.chunks.GetByStatus(ctx, model.ChunkPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestAddData_Validation(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "1", Title: " ", Content: "x"})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "1", Title: "T", Content: "x", Action: "replace"})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = f.svc.AddData(ctx, AddDataRequest{ContentID: "1", Title: "T", Content: "<br/>"})
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestDeleteData(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()
	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "8", Title: "Doc", Content: threeSentences})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteData(ctx, "8"))

	n, err := f.chunks.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.svc.GetData(ctx, "8")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestMarkNeedsUpdate_RemovesChunksFromSearch(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()
	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "4", Title: "Doc", Content: "Body text."})
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkNeedsUpdate(ctx, "4"))

	processed, err := f.chunks.GetByStatus(ctx, model.ChunkProcessed)
	require.NoError(t, err)
	assert.Empty(t, processed)
	stale, err := f.chunks.GetByStatus(ctx, model.ChunkNeedsUpdate)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	doc, err := f.svc.GetData(ctx, "4")
	require.NoError(t, err)
	assert.True(t, doc.NeedsUpdate)

	assert.ErrorIs(t, f.svc.MarkNeedsUpdate(ctx, "missing"), ErrDocumentNotFound)
}

func TestListData_ReportsTotalChunks(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()
	_, err := f.svc.AddData(ctx, AddDataRequest{ContentID: "1", Title: "Doc", Content: threeSentences})
	require.NoError(t, err)
	_, err = f.svc.AddKnowledge(ctx, "FAQ", "Opening hours are nine to five.")
	require.NoError(t, err)

	page, err := f.svc.ListData(ctx, repository.DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, int64(3), page.TotalChunks)

	page, err = f.svc.ListData(ctx, repository.DocumentFilter{Kind: model.DocumentKindKnowledge})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "FAQ", page.Items[0].Title)
}

func TestKnowledgeEntries(t *testing.T) {
	f := newKnowledgeFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.AddKnowledge(ctx, "FAQ", "Opening hours are nine to five.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.ContentID, "k_"))

	_, err = f.svc.UpdateKnowledge(ctx, res.ContentID, "FAQ", "Opening hours are eight to six.")
	require.NoError(t, err)

	doc, err := f.svc.GetData(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentKindKnowledge, doc.Kind)
	assert.Equal(t, "Opening hours are eight to six.", doc.Content)

	_, err = f.svc.UpdateKnowledge(ctx, "k_missing", "T", "C")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
