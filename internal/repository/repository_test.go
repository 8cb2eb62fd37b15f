package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitechat-go/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestChunkRepository_Lifecycle(t *testing.T) {
	repo := NewChunkRepository(newTestDB(t))
	ctx := context.Background()

	err := repo.Insert(ctx, []*model.ContentChunk{
		{ContentID: "1", Title: "A", Body: "first", TokenCount: 3, Status: model.ChunkProcessed},
		{ContentID: "1", Title: "A", Body: "second", TokenCount: 3},
		{ContentID: "2", Title: "B", Body: "third", TokenCount: 3},
	})
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	pending, err := repo.GetByStatus(ctx, model.ChunkPending)
	require.NoError(t, err)
	require.Len(t, pending, 3, "inserted chunks always start pending")
	assert.Equal(t, []string{"first", "second", "third"}, []string{pending[0].Body, pending[1].Body, pending[2].Body})

	require.NoError(t, repo.MarkProcessed(ctx, pending[1].ID, []float32{0.5, 0.25}))
	processed, err := repo.GetByStatus(ctx, model.ChunkProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, []float32{0.5, 0.25}, processed[0].Vector())

	require.NoError(t, repo.DeleteByDocument(ctx, "1"))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestChunkRepository_MarkProcessedRejectsEmptyEmbedding(t *testing.T) {
	repo := NewChunkRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, []*model.ContentChunk{{ContentID: "1", Body: "x"}}))

	assert.Error(t, repo.MarkProcessed(ctx, 1, nil))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, 99, []float32{1}), gorm.ErrRecordNotFound)

	pending, err := repo.GetByStatus(ctx, model.ChunkPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestChunkRepository_UpdateStatusByDocument(t *testing.T) {
	repo := NewChunkRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, []*model.ContentChunk{{ContentID: "1", Body: "x"}, {ContentID: "2", Body: "y"}}))

	require.NoError(t, repo.UpdateStatusByDocument(ctx, "1", model.ChunkNeedsUpdate))

	stale, err := repo.GetByStatus(ctx, model.ChunkNeedsUpdate)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "1", stale[0].ContentID)
}

func TestDocumentRepository_SaveListDelete(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "1", Kind: model.DocumentKindPost, Title: "Hello", Added: true}))
	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "2", Kind: model.DocumentKindPost, Title: "Spam", ModerationFailed: true,
		ModerationReview: map[string]interface{}{"violence": 0.9}}))
	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "k1", Kind: model.DocumentKindKnowledge, Title: "FAQ"}))

	included, total, err := repo.List(ctx, DocumentFilter{Status: "included"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "1", included[0].ContentID)

	flagged, _, err := repo.List(ctx, DocumentFilter{Status: "moderation"})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.InDelta(t, 0.9, flagged[0].ModerationReview["violence"], 1e-9)

	pending, _, err := repo.List(ctx, DocumentFilter{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k1", pending[0].ContentID)

	knowledge, _, err := repo.List(ctx, DocumentFilter{Kind: model.DocumentKindKnowledge})
	require.NoError(t, err)
	assert.Len(t, knowledge, 1)

	// 再次保存同一 id 时覆盖
	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "2", Kind: model.DocumentKindPost, Title: "Spam", Added: true}))
	doc, err := repo.Get(ctx, "2")
	require.NoError(t, err)
	assert.True(t, doc.Added)
	assert.False(t, doc.ModerationFailed)

	require.NoError(t, repo.SetNeedsUpdate(ctx, "1", true))
	doc, err = repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, doc.NeedsUpdate)
	assert.Equal(t, model.ChunkNeedsUpdate, doc.Status())

	require.NoError(t, repo.Delete(ctx, "1"))
	_, err = repo.Get(ctx, "1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDocumentRepository_SaveKeepsCreatedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "1", Kind: model.DocumentKindPost, Title: "Old"}))
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.Model(&model.SourceDocument{}).Where("content_id = ?", "1").UpdateColumn("created_at", created).Error)

	require.NoError(t, repo.Save(ctx, &model.SourceDocument{ContentID: "1", Kind: model.DocumentKindPost, Title: "New", Added: true}))

	doc, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "New", doc.Title)
	assert.True(t, doc.Added)
	assert.True(t, doc.CreatedAt.Equal(created), "created_at = %v", doc.CreatedAt)
	assert.True(t, doc.UpdatedAt.After(created))
}

func TestCacheRepository_Verdicts(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewCacheRepository(rdb)
	ctx := context.Background()

	v, err := repo.GetVerdict(ctx, "5", "abc")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, repo.SetVerdict(ctx, "5", "abc", model.FlaggedVerdict(map[string]float64{"hate": 0.8}), time.Minute))
	require.NoError(t, repo.SetVerdict(ctx, "5", "def", model.ClearVerdict(), time.Minute))

	v, err = repo.GetVerdict(ctx, "5", "abc")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.Flagged())
	assert.Equal(t, 0.8, v.Scores["hate"])

	require.NoError(t, repo.InvalidateVerdicts(ctx, "5"))
	assert.False(t, mr.Exists("moderation:doc:5:abc"))
	assert.False(t, mr.Exists("moderation:doc:5:def"))
	assert.False(t, mr.Exists("moderation:doc:5:digests"))
}

func TestCacheRepository_InvalidateIgnoresGlobCharacters(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewCacheRepository(rdb)
	ctx := context.Background()

	require.NoError(t, repo.SetVerdict(ctx, "5", "abc", model.ClearVerdict(), time.Minute))
	require.NoError(t, repo.SetVerdict(ctx, "50", "abc", model.ClearVerdict(), time.Minute))
	require.NoError(t, repo.SetVerdict(ctx, "5*", "def", model.ClearVerdict(), time.Minute))

	require.NoError(t, repo.InvalidateVerdicts(ctx, "5*"))
	assert.False(t, mr.Exists("moderation:doc:5*:def"))
	assert.True(t, mr.Exists("moderation:doc:5:abc"))
	assert.True(t, mr.Exists("moderation:doc:50:abc"))

	// 没有任何缓存的文档
	require.NoError(t, repo.InvalidateVerdicts(ctx, "missing"))
}

func TestCacheRepository_QueryVectorTTL(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewCacheRepository(rdb)
	ctx := context.Background()

	require.NoError(t, repo.SetQueryVector(ctx, "Where Are You?", []float32{1, 2}, time.Minute))
	vec, err := repo.GetQueryVector(ctx, "where are you?")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)

	mr.FastForward(61 * time.Second)
	vec, err = repo.GetQueryVector(ctx, "where are you?")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestSessionRepository_KeepsRecentMessages(t *testing.T) {
	rdb, _ := newTestRedis(t)
	repo := NewSessionRepository(rdb, 3, time.Hour)
	ctx := context.Background()

	session := &model.ChatSession{ThreadID: "thread_1", RunID: "run_5", State: model.StateRunQueued}
	for i := 0; i < 5; i++ {
		session.Messages = append(session.Messages, model.ChatMessage{Role: "user", Content: string(rune('a' + i))})
	}
	require.NoError(t, repo.SaveSession(ctx, session))

	got, err := repo.GetSession(ctx, "thread_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StateRunQueued, got.State)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "c", got.Messages[0].Content)

	require.NoError(t, repo.DeleteSession(ctx, "thread_1"))
	got, err = repo.GetSession(ctx, "thread_1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, repo.SaveSession(ctx, &model.ChatSession{}))
}

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.User{Username: "admin", Password: "hash", Role: model.RoleAdmin}))
	u, err := repo.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)

	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
