package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/mdad-elec/cv-analysis-system/internal/index"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/storage/models"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, doc *models.CVDocument) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

func (m *mockStore) FindByID(ctx context.Context, id string) (*models.CVDocument, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*models.CVDocument)
	return doc, args.Error(1)
}

func (m *mockStore) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	return m.Called(ctx, id, fields).Error(0)
}

func (m *mockStore) FindAll(ctx context.Context, limit int) ([]models.CVDocument, error) {
	args := m.Called(ctx, limit)
	docs, _ := args.Get(0).([]models.CVDocument)
	return docs, args.Error(1)
}

func (m *mockStore) FindByStatus(ctx context.Context, status string) ([]models.CVDocument, error) {
	args := m.Called(ctx, status)
	docs, _ := args.Get(0).([]models.CVDocument)
	return docs, args.Error(1)
}

func (m *mockStore) DeleteByID(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockTextExtractor struct {
	mock.Mock
}

func (m *mockTextExtractor) Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(types.ExtractedText), args.Error(1)
}

type mockProfileExtractor struct {
	mock.Mock
}

func (m *mockProfileExtractor) Enhance(ctx context.Context, base *types.CandidateProfile) (*types.CandidateProfile, error) {
	args := m.Called(ctx, base)
	p, _ := args.Get(0).(*types.CandidateProfile)
	return p, args.Error(1)
}

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) DownloadFile(ctx context.Context, objectKey string) ([]byte, error) {
	args := m.Called(ctx, objectKey)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) UpsertProfile(ctx context.Context, documentID string, vector []float64, payload map[string]interface{}) error {
	return m.Called(ctx, documentID, vector, payload).Error(0)
}

func (m *mockMirror) DeleteByDocument(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

func (m *mockMirror) GetVectors(ctx context.Context, documentIDs []string) (map[string][]float64, error) {
	args := m.Called(ctx, documentIDs)
	v, _ := args.Get(0).(map[string][]float64)
	return v, args.Error(1)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	args := m.Called(ctx, lockKey, expiration)
	return args.String(0), args.Error(1)
}

func (m *mockLocker) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	args := m.Called(ctx, lockKey, lockValue)
	return args.Bool(0), args.Error(1)
}

// keywordEmbedder 统计关键词出现次数作为向量
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		out[i] = []float64{float64(strings.Count(lower, "go")), float64(strings.Count(lower, "java"))}
	}
	return out, nil
}

func (keywordEmbedder) GetDimensions() int { return 2 }

const annLeeText = "Ann Lee\nann.lee@mail.com\nSenior Go engineer at Acme since 2019."

func statusIs(status types.DocumentStatus) interface{} {
	return mock.MatchedBy(func(f map[string]any) bool { return f["status"] == string(status) })
}

type fixture struct {
	store     *mockStore
	extractor *mockTextExtractor
	profiles  *mockProfileExtractor
	blobs     *mockBlobs
	mirror    *mockMirror
	index     *index.FlatIndex
	proc      *CVProcessor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     new(mockStore),
		extractor: new(mockTextExtractor),
		profiles:  new(mockProfileExtractor),
		blobs:     new(mockBlobs),
		mirror:    new(mockMirror),
		index:     index.NewFlatIndex(index.WithLogger(zerolog.Nop())),
	}
	f.index.AttachEmbedder(keywordEmbedder{})
	base := []Option{
		WithBlobReader(f.blobs),
		WithVectorMirror(f.mirror),
		WithIndex(f.index),
		WithLogger(zerolog.Nop()),
	}
	f.proc = NewCVProcessor(f.extractor, f.profiles, f.store, append(base, opts...)...)
	return f
}

func pendingDoc() *models.CVDocument {
	return &models.CVDocument{
		ID:       "doc-1",
		Filename: "ann_lee.pdf",
		FileType: "pdf",
		FilePath: "cv/doc-1/original.pdf",
		Status:   string(types.StatusPending),
	}
}

func TestProcess_Completed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusProcessing)).Return(nil).Once()
	f.blobs.On("DownloadFile", mock.Anything, "cv/doc-1/original.pdf").Return([]byte("%PDF"), nil)
	f.extractor.On("Extract", mock.Anything, mock.MatchedBy(func(d types.RawDocument) bool {
		return d.Type == types.DocumentTypePDF && d.Name == "ann_lee.pdf"
	})).Return(types.ExtractedText{Text: annLeeText, Provenance: types.ProvenanceDirect, Pages: 1}, nil)
	f.profiles.On("Enhance", mock.Anything, mock.MatchedBy(func(p *types.CandidateProfile) bool {
		return p.ID == "doc-1" && p.PersonalInfo.Email != nil && *p.PersonalInfo.Email == "ann.lee@mail.com"
	})).Return(func() *types.CandidateProfile {
		p := &types.CandidateProfile{ID: "doc-1", RawText: annLeeText}
		p.PersonalInfo.Name = utils.StringPtr("Ann Lee")
		p.Skills = []types.Skill{{Name: "Go"}}
		return p
	}(), nil)

	var completed map[string]any
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusCompleted)).
		Run(func(args mock.Arguments) { completed = args.Get(2).(map[string]any) }).
		Return(nil).Once()
	f.mirror.On("UpsertProfile", mock.Anything, "doc-1", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, f.proc.Process(ctx, storage.CVUploadMessage{DocumentID: "doc-1"}))

	assert.Equal(t, "direct", completed["provenance"])
	var stored types.CandidateProfile
	require.NoError(t, json.Unmarshal(completed["parsed_data"].(datatypes.JSON), &stored))
	assert.Equal(t, "Ann Lee", stored.Name())
	assert.Empty(t, stored.Embedding)

	assert.Equal(t, 1, f.proc.Pool().Len())
	assert.Equal(t, 1, f.index.Size())
	_, ok := f.proc.Resolver().Lookup("Ann Lee")
	assert.True(t, ok)
	assert.Len(t, f.proc.Resolver().Resolve("A. Lee", f.proc.Pool().Profiles()), 1)

	f.store.AssertExpectations(t)
	f.mirror.AssertExpectations(t)
}

func TestProcess_ExtractionFailureMarksFailed(t *testing.T) {
	f := newFixture(t)

	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusProcessing)).Return(nil)
	f.blobs.On("DownloadFile", mock.Anything, mock.Anything).Return([]byte("%PDF"), nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(types.ExtractedText{Provenance: types.ProvenanceNone}, nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["status"] == "failed" && fields["error_message"] == "Failed to extract text from document"
	})).Return(nil).Once()

	err := f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTextExtractionFailed))

	var perr *CVProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "extract", perr.Op)
	assert.Equal(t, "doc-1", perr.DocumentID)

	f.profiles.AssertNotCalled(t, "Enhance", mock.Anything, mock.Anything)
	f.store.AssertExpectations(t)
	assert.Equal(t, 0, f.proc.Pool().Len())
}

func TestProcess_ProviderFailureMarksFailed(t *testing.T) {
	f := newFixture(t)

	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusProcessing)).Return(nil)
	f.blobs.On("DownloadFile", mock.Anything, mock.Anything).Return([]byte("%PDF"), nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(types.ExtractedText{Text: annLeeText, Provenance: types.ProvenanceOCR}, nil)
	f.profiles.On("Enhance", mock.Anything, mock.Anything).Return(nil, errors.New("retries exhausted"))
	f.store.On("UpdateFields", mock.Anything, "doc-1", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["status"] == "failed" && fields["provenance"] == "ocr" &&
			strings.Contains(fields["error_message"].(string), "retries exhausted")
	})).Return(nil).Once()

	err := f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrProfileExtraction)
	f.store.AssertExpectations(t)
}

func TestProcess_SkipsCompletedDocument(t *testing.T) {
	f := newFixture(t)
	doc := pendingDoc()
	doc.Status = string(types.StatusCompleted)
	f.store.On("FindByID", mock.Anything, "doc-1").Return(doc, nil)

	require.NoError(t, f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"}))
	f.store.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_LockHeldElsewhere(t *testing.T) {
	locker := new(mockLocker)
	locker.On("AcquireLock", mock.Anything, "app:document:lock:doc-1", mock.Anything).Return("", nil)
	f := newFixture(t, WithLocker(locker))

	err := f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrDocumentBusy)

	body, _ := json.Marshal(storage.CVUploadMessage{DocumentID: "doc-1"})
	assert.True(t, f.proc.HandleDelivery(body))
	f.store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestProcessUpload_UsesInMemoryData(t *testing.T) {
	locker := new(mockLocker)
	locker.On("AcquireLock", mock.Anything, "app:document:lock:doc-1", mock.Anything).Return("token", nil)
	locker.On("ReleaseLock", mock.Anything, "app:document:lock:doc-1", "token").Return(true, nil).Once()
	f := newFixture(t, WithLocker(locker))

	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", mock.Anything).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.MatchedBy(func(d types.RawDocument) bool {
		return string(d.Data) == "inline"
	})).Return(types.ExtractedText{Text: annLeeText, Provenance: types.ProvenanceDirect}, nil)
	f.profiles.On("Enhance", mock.Anything, mock.Anything).Return(&types.CandidateProfile{RawText: annLeeText}, nil)
	f.mirror.On("UpsertProfile", mock.Anything, "doc-1", mock.Anything, mock.Anything).Return(errors.New("qdrant down"))

	require.NoError(t, f.proc.ProcessUpload(context.Background(), "doc-1", []byte("inline")))
	f.blobs.AssertNotCalled(t, "DownloadFile", mock.Anything, mock.Anything)
	locker.AssertExpectations(t)

	p, ok := f.proc.Pool().Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "doc-1", p.ID)
}

func TestHandleDelivery(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.proc.HandleDelivery([]byte("not json")))

	f.store.On("FindByID", mock.Anything, "doc-2").Return(nil, errors.New("connection refused"))
	body, _ := json.Marshal(storage.CVUploadMessage{DocumentID: "doc-2"})
	assert.False(t, f.proc.HandleDelivery(body))
}

func TestWarmUp_RestoresAndFillsVectors(t *testing.T) {
	f := newFixture(t)

	profile := func(id, name, skill string) datatypes.JSON {
		p := types.CandidateProfile{ID: id, RawText: name, Skills: []types.Skill{{Name: skill}}}
		p.PersonalInfo.Name = utils.StringPtr(name)
		data, _ := json.Marshal(p)
		return data
	}
	f.store.On("FindByStatus", mock.Anything, "completed").Return([]models.CVDocument{
		{ID: "a", Status: "completed", ParsedData: profile("a", "Ann Lee", "Go")},
		{ID: "b", Status: "completed", ParsedData: profile("b", "Bob Stone", "Java")},
		{ID: "c", Status: "completed"},
	}, nil)
	f.mirror.On("GetVectors", mock.Anything, []string{"a", "b"}).Return(map[string][]float64{"a": {5, 0}}, nil)
	f.mirror.On("UpsertProfile", mock.Anything, "b", mock.Anything, mock.Anything).Return(nil).Once()

	n, err := f.proc.WarmUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.index.Size())

	a, _ := f.proc.Pool().Get("a")
	assert.Equal(t, []float64{5, 0}, a.Embedding)
	b, _ := f.proc.Pool().Get("b")
	assert.NotEmpty(t, b.Embedding)

	_, ok := f.proc.Resolver().Lookup("Bob Stone")
	assert.True(t, ok)
	f.mirror.AssertExpectations(t)
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	p := &types.CandidateProfile{ID: "a", Embedding: []float64{1, 0}}
	f.proc.Pool().Put(p)
	require.NoError(t, f.proc.RebuildIndex(context.Background()))
	require.Equal(t, 1, f.index.Size())

	f.mirror.On("DeleteByDocument", mock.Anything, "a").Return(nil).Twice()
	require.NoError(t, f.proc.Forget(context.Background(), "a"))
	assert.Equal(t, 0, f.index.Size())
	require.NoError(t, f.proc.Forget(context.Background(), "a"))
	f.mirror.AssertExpectations(t)
}

func TestCVProcessError(t *testing.T) {
	err := NewDownloadError("doc-9", "timeout")
	assert.ErrorIs(t, err, ErrDocumentDownload)
	assert.Equal(t, "下载原始文件失败 (操作:download, 文档:doc-9): timeout", err.Error())
	assert.Equal(t, "下载原始文件失败: timeout", failureReason(err))
	assert.Equal(t, "Failed to extract text from document", failureReason(NewExtractionError("doc-9", "no pages")))
}

// stubEnhanced 让抽取和结构化都成功，返回 Ann Lee 的档案
func (f *fixture) stubEnhanced() {
	f.blobs.On("DownloadFile", mock.Anything, mock.Anything).Return([]byte("%PDF"), nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(types.ExtractedText{Text: annLeeText, Provenance: types.ProvenanceDirect}, nil)
	f.profiles.On("Enhance", mock.Anything, mock.Anything).Return(func() *types.CandidateProfile {
		p := &types.CandidateProfile{ID: "doc-1", RawText: annLeeText}
		p.PersonalInfo.Name = utils.StringPtr("Ann Lee")
		return p
	}(), nil)
}

func TestProcess_DeletedBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindByID", mock.Anything, "doc-1").Return(nil, storage.ErrDocumentNotFound)

	body, _ := json.Marshal(storage.CVUploadMessage{DocumentID: "doc-1"})
	assert.True(t, f.proc.HandleDelivery(body))
	f.store.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_DeletedWhileProcessing(t *testing.T) {
	f := newFixture(t)
	f.stubEnhanced()
	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil)
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusProcessing)).Return(nil).Once()
	f.store.On("UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusCompleted)).Return(storage.ErrDocumentNotFound).Once()

	require.NoError(t, f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"}))
	assert.Equal(t, 0, f.proc.Pool().Len())
	assert.Equal(t, 0, f.index.Size())
	f.mirror.AssertNotCalled(t, "UpsertProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "UpdateFields", mock.Anything, "doc-1", statusIs(types.StatusFailed))
}

func TestProcess_DeletedBetweenSaveAndPublish(t *testing.T) {
	f := newFixture(t)
	f.stubEnhanced()
	f.store.On("FindByID", mock.Anything, "doc-1").Return(pendingDoc(), nil).Once()
	f.store.On("UpdateFields", mock.Anything, "doc-1", mock.Anything).Return(nil)
	// 结果写入后、放入档案池前记录被删除
	f.store.On("FindByID", mock.Anything, "doc-1").Return(nil, storage.ErrDocumentNotFound)

	require.NoError(t, f.proc.Process(context.Background(), storage.CVUploadMessage{DocumentID: "doc-1"}))
	_, ok := f.proc.Pool().Get("doc-1")
	assert.False(t, ok)
	f.mirror.AssertNotCalled(t, "UpsertProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
