package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/assets"
	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/media"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/news"
	"github.com/ifuryst/quickbyte/internal/prompt"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/scraper"
	"github.com/ifuryst/quickbyte/internal/service"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/internal/testutil"
	"github.com/ifuryst/quickbyte/internal/throttle"
	"github.com/ifuryst/quickbyte/internal/uploader"
	"github.com/ifuryst/quickbyte/internal/vectorindex"
)

type fakeProvider struct {
	created  [][]batch.Request
	statuses map[string]*batch.Status
	results  map[string]*batch.Results
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: map[string]*batch.Status{}, results: map[string]*batch.Results{}}
}

func (f *fakeProvider) CreateBatch(ctx context.Context, requests []batch.Request, endpoint string) (*batch.Status, error) {
	f.created = append(f.created, requests)
	id := fmt.Sprintf("batch_%d", len(f.created))
	s := &batch.Status{ID: id, Status: models.BatchValidating, InputFileID: "file_" + id, Total: len(requests)}
	f.statuses[id] = s
	return s, nil
}

func (f *fakeProvider) GetStatus(ctx context.Context, id string) (*batch.Status, error) {
	s, ok := f.statuses[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (f *fakeProvider) DownloadResults(ctx context.Context, id string) (*batch.Results, error) {
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return &batch.Results{}, nil
}

// finish marks the batch completed with the given lines.
func (f *fakeProvider) finish(id string, output []batch.Result, errs []batch.Result) {
	f.statuses[id].Status = models.BatchCompleted
	f.statuses[id].OutputFileID = "out_" + id
	f.results[id] = &batch.Results{Output: output, Errors: errs}
}

type fakeFetcher struct {
	items []news.Item
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]news.Item, error) {
	return f.items, nil
}

type fakeScraper struct {
	err   error
	block bool
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*scraper.Article, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &scraper.Article{Title: "Full story", Text: "The full body of " + url}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return "  A short summary.  ", nil
}

type fakeAssets struct {
	mu     sync.Mutex
	scenes []uint
	err    error
}

func (f *fakeAssets) GenerateScene(ctx context.Context, sceneID uint, only models.AssetType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes = append(f.scenes, sceneID)
	return f.err
}

func (f *fakeAssets) ProcessQueued(ctx context.Context) (assets.QueuedReport, error) {
	return assets.QueuedReport{}, nil
}

func (f *fakeAssets) ReadyScripts(ctx context.Context) ([]uint, error) {
	return nil, nil
}

type fakeComposer struct {
	store    *storage.Local
	inputs   []media.SceneInput
	music    string
	calls    int
	rendered string
	onRender func()
}

func (f *fakeComposer) Render(ctx context.Context, scenes []media.SceneInput, musicPath string) (string, error) {
	f.calls++
	f.inputs = scenes
	f.music = musicPath
	rel := f.store.TempPath("render_", "mp4")
	if err := f.store.PutBytes(rel, []byte("video")); err != nil {
		return "", err
	}
	f.rendered = rel
	if f.onRender != nil {
		f.onRender()
	}
	return rel, nil
}

type fakeScheduler struct {
	db    *gorm.DB
	calls int
}

func (f *fakeScheduler) ScheduleScript(ctx context.Context, script *models.Script) ([]models.ScheduledUpload, error) {
	f.calls++
	var platforms []models.Platform
	if err := f.db.Find(&platforms).Error; err != nil {
		return nil, err
	}
	var uploads []models.ScheduledUpload
	for _, p := range platforms {
		u := models.ScheduledUpload{
			ScriptID:    &script.ID,
			Title:       script.Title,
			FilePath:    *script.VideoPath,
			PlatformID:  p.ID,
			ScheduledAt: time.Now().Add(time.Hour),
			Timezone:    "UTC",
			Status:      models.UploadPending,
		}
		if err := f.db.Create(&u).Error; err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

type fakeUploader struct {
	slug  string
	err   error
	calls int
}

func (f *fakeUploader) Slug() string { return f.slug }

func (f *fakeUploader) Upload(ctx context.Context, u *models.ScheduledUpload) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"id":"vid-1"}`), nil
}

type fakeUploaders map[string]*fakeUploader

func (f fakeUploaders) Get(slug string) (uploader.Uploader, bool) {
	u, ok := f[slug]
	if !ok {
		return nil, false
	}
	return u, true
}

type harness struct {
	db        *gorm.DB
	queue     *queue.Queue
	pipeline  *Pipeline
	provider  *fakeProvider
	fetcher   *fakeFetcher
	scraper   *fakeScraper
	assets    *fakeAssets
	composer  *fakeComposer
	scheduler *fakeScheduler
	uploaders fakeUploaders
	store     *storage.Local
	index     *vectorindex.Local
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	logger := testutil.NewLogger()

	h := &harness{
		db:        db,
		provider:  newFakeProvider(),
		fetcher:   &fakeFetcher{},
		scraper:   &fakeScraper{},
		assets:    &fakeAssets{},
		store:     storage.NewLocal(t.TempDir()),
		uploaders: fakeUploaders{},
		index:     vectorindex.NewLocal(db, logger),
		scheduler: &fakeScheduler{db: db},
	}
	h.composer = &fakeComposer{store: h.store}
	h.queue = queue.New(db, queue.Options{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	}, logger)

	h.pipeline = New(Deps{
		DB:         db,
		Queue:      h.queue,
		Batches:    batch.NewOrchestrator(db, h.provider, logger),
		Fetcher:    h.fetcher,
		Index:      h.index,
		Scraper:    h.scraper,
		Summarizer: fakeSummarizer{},
		Assets:     h.assets,
		Composer:   h.composer,
		Store:      h.store,
		Scheduler:  h.scheduler,
		Uploaders:  h.uploaders,
		Monitor:    service.NewMonitoringService(db, logger),
	}, config.PipelineConfig{
		PageSize:          10,
		NoveltyThreshold:  0.9,
		NoveltyTopK:       5,
		ClassifyChunkSize: 2,
		ClassifySelect:    1,
		ScriptsPerRun:     2,
		ScheduleMode:      "weekly",
		VectorNamespace:   "news",
	}, config.OpenAIConfig{
		EmbeddingModel: "text-embedding-3-small",
		ClassifyModel:  "gpt-4o-mini",
		ScriptModel:    "gpt-4o",
	}, logger)
	h.pipeline.Register()
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, h.queue.Drain(context.Background()))
}

func (h *harness) trigger(t *testing.T, job string, payload interface{}) {
	t.Helper()
	_, err := h.pipeline.Trigger(context.Background(), job, payload)
	require.NoError(t, err)
}

func (h *harness) news(t *testing.T, id uint) models.News {
	t.Helper()
	var n models.News
	require.NoError(t, h.db.First(&n, id).Error)
	return n
}

func (h *harness) jobs(t *testing.T, name string, status models.JobStatus) []models.Job {
	t.Helper()
	var jobs []models.Job
	require.NoError(t, h.db.Where("name = ? AND status = ?", name, status).Order("id").Find(&jobs).Error)
	return jobs
}

func jobWith(t *testing.T, name string, payload interface{}) *models.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.Job{ID: 1, Name: name, Payload: datatypes.JSON(raw)}
}

func embeddingResult(newsID uint, vector []float32) batch.Result {
	body, _ := json.Marshal(map[string]interface{}{
		"data": []map[string]interface{}{{"embedding": vector}},
	})
	return batch.Result{
		CustomID: strconv.FormatUint(uint64(newsID), 10),
		Response: &batch.ResultResponse{StatusCode: 200, Body: body},
	}
}

func chatResult(customID, content string) batch.Result {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return batch.Result{CustomID: customID, Response: &batch.ResultResponse{StatusCode: 200, Body: body}}
}

const generatedScript = `{
  "metadata": {"title": "Chips get faster", "description": "A new node ships.", "hashtags": ["#tech"]},
  "hook": "You will not believe this chip.",
  "background_music": "Tech",
  "scenes": [
    {"headline": "New node", "visual": "A wafer under light", "voiceover": "A new node ships today.", "transition": "fade", "sound_effect": "Whoosh"},
    {"headline": "Why it matters", "visual": "A phone lighting up", "voiceover": "Phones get faster."}
  ]
}`

func TestGraphJobsAreRegistered(t *testing.T) {
	h := newHarness(t)
	names := h.queue.Names()

	g := Graph()
	assert.Len(t, g.Stages, 7)
	for _, r := range g.Routes {
		assert.Contains(t, names, r.Job, "route %s", r.Message)
	}
	for _, tr := range g.Triggers {
		assert.Contains(t, names, tr.Job)
	}

	job, ok := JobFor(MsgVideoAssembled)
	assert.True(t, ok)
	assert.Equal(t, JobScheduleUploads, job)
	_, ok = JobFor(Message("unknown"))
	assert.False(t, ok)
}

func TestAdvanceAndClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := testutil.CreateNews(t, h.db, models.StageNew)

	ok, err := Claim(ctx, h.db, n.ID, models.StageNew)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Claim(ctx, h.db, n.ID, models.StageNew)
	require.NoError(t, err)
	assert.False(t, ok)

	err = Advance(ctx, h.db, n.ID, models.StageNew, models.StageArticleFetched, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStageChanged)

	err = Advance(ctx, h.db, n.ID, models.StageNew, models.StageNoveltyFiltered, nil)
	assert.ErrorIs(t, err, ErrStageChanged)

	require.NoError(t, Advance(ctx, h.db, n.ID, models.StageNew.Processing(), models.StageNoveltyFiltered, map[string]interface{}{"novelty_passed": true}))
	got := h.news(t, n.ID)
	assert.Equal(t, models.StageNoveltyFiltered, got.CurrentStage)

	assert.NoError(t, Release(ctx, h.db, n.ID, models.StageNew))
	assert.Equal(t, models.StageNoveltyFiltered, h.news(t, n.ID).CurrentStage)
}

func TestDecideNovelty(t *testing.T) {
	tests := []struct {
		name    string
		matches []vectorindex.Match
		novel   bool
		best    string
	}{
		{"empty index", nil, true, ""},
		{"below threshold", []vectorindex.Match{{ID: "2", Score: 0.5}}, true, "2"},
		{"at threshold", []vectorindex.Match{{ID: "2", Score: 0.9}}, false, "2"},
		{"self ignored", []vectorindex.Match{{ID: "7", Score: 1}, {ID: "3", Score: 0.2}}, true, "3"},
		{"best wins", []vectorindex.Match{{ID: "4", Score: 0.3}, {ID: "5", Score: 0.95}}, false, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideNovelty(tt.matches, "7", 0.9)
			assert.Equal(t, tt.novel, d.Novel)
			assert.Equal(t, tt.best, d.BestMatch)
		})
	}
}

func TestClassificationRequests(t *testing.T) {
	candidates := make([]prompt.Candidate, 5)
	for i := range candidates {
		candidates[i] = prompt.Candidate{Title: fmt.Sprintf("Headline %d", i), URL: fmt.Sprintf("https://a.test/%d", i)}
	}

	requests := ClassificationRequests("gpt-4o-mini", candidates, 2, 1, 7)
	require.Len(t, requests, 3)
	assert.Equal(t, "classify-7-0", requests[0].CustomID)
	assert.Equal(t, "classify-7-2", requests[2].CustomID)

	assert.Len(t, ClassificationRequests("gpt-4o-mini", candidates, 0, 1, 7), 1)
}

func TestFetchNewsClassifiesUnknownURLs(t *testing.T) {
	h := newHarness(t)
	known := testutil.CreateNews(t, h.db, models.StageNew)
	h.fetcher.items = []news.Item{
		{Source: "Example", Title: "Old", URL: known.URL},
		{Source: "Example", Title: "Fresh", URL: "https://a.test/1"},
		{Source: "Example", Title: "Fresh again", URL: "https://a.test/1"},
		{Source: "Example", Title: "Other", URL: "https://a.test/2"},
	}

	h.trigger(t, JobFetchNews, nil)
	h.drain(t)

	require.Len(t, h.provider.created, 1)
	assert.Len(t, h.provider.created[0], 1)

	var b models.OpenaiBatch
	require.NoError(t, h.db.First(&b).Error)
	assert.Equal(t, models.ActionClassifying, b.Action)
	assert.Len(t, h.jobs(t, JobClassifyNews, models.JobCompleted), 1)
}

func TestNewsFlowsFromEmbeddingToScripts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.index.Upsert(ctx, []vectorindex.Vector{{ID: "900", Values: []float32{0.99, 0.1}, Namespace: "news"}}))
	dup := testutil.CreateNews(t, h.db, models.StageNew)
	fresh := testutil.CreateNews(t, h.db, models.StageNew)

	h.trigger(t, JobEmbedNews, nil)
	h.drain(t)
	require.Len(t, h.provider.created, 1)
	assert.Len(t, h.provider.created[0], 2)
	assert.Equal(t, models.StageNew.Processing(), h.news(t, dup.ID).CurrentStage)

	h.provider.finish("batch_1", []batch.Result{
		embeddingResult(dup.ID, []float32{1, 0}),
		embeddingResult(fresh.ID, []float32{0, 1}),
	}, nil)
	h.trigger(t, JobPollBatches, nil)
	h.drain(t)

	rejected := h.news(t, dup.ID)
	assert.Equal(t, models.StageRejected, rejected.CurrentStage)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "duplicate", *rejected.RejectionReason)

	passed := h.news(t, fresh.ID)
	assert.Equal(t, models.StageSummaryFetched.Processing(), passed.CurrentStage)

	var article models.Article
	require.NoError(t, h.db.Where("news_id = ?", fresh.ID).First(&article).Error)
	assert.Equal(t, "Full story", article.Title)
	require.NotNil(t, article.Summary)
	assert.Equal(t, "A short summary.", *article.Summary)

	matches, err := h.index.Query(ctx, []float32{0, 1}, vectorindex.QueryOptions{TopK: 1, Namespace: "news"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, strconv.FormatUint(uint64(fresh.ID), 10), matches[0].ID)

	require.Len(t, h.provider.created, 2)
	require.Len(t, h.provider.created[1], 1)
	assert.Equal(t, strconv.FormatUint(uint64(article.ID), 10), h.provider.created[1][0].CustomID)

	h.provider.finish("batch_2", []batch.Result{chatResult(strconv.FormatUint(uint64(article.ID), 10), generatedScript)}, nil)
	h.trigger(t, JobPollBatches, nil)
	h.drain(t)

	assert.Equal(t, models.StageScriptGenerated, h.news(t, fresh.ID).CurrentStage)
	var script models.Script
	require.NoError(t, h.db.Preload("Scenes").Where("article_id = ?", article.ID).First(&script).Error)
	assert.Len(t, script.Scenes, 2)
	assert.Len(t, h.assets.scenes, 2)
	assert.Len(t, h.jobs(t, JobGenerateAssets, models.JobCompleted), 2)
}

func TestFilterNoveltyFailsMissingVector(t *testing.T) {
	h := newHarness(t)
	n := testutil.CreateNews(t, h.db, models.StageNew.Processing())

	err := h.pipeline.FilterNovelty(context.Background(), jobWith(t, JobFilterNovelty, embeddingsPayload{
		Embeddings: []embeddingItem{{NewsID: n.ID}, {NewsID: 999, Vector: []float32{1}}},
	}))
	require.NoError(t, err)

	got := h.news(t, n.ID)
	assert.Equal(t, models.StageFailed, got.CurrentStage)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "embedding_missing", *got.RejectionReason)
	assert.Empty(t, h.jobs(t, JobFetchArticles, models.JobPending))

	var logs int64
	h.db.Model(&models.ErrorLog{}).Where("news_id = ?", n.ID).Count(&logs)
	assert.EqualValues(t, 1, logs)
}

func TestFetchArticlesFailsOnScrapeError(t *testing.T) {
	h := newHarness(t)
	h.scraper.err = errors.New("403 forbidden")
	n := testutil.CreateNews(t, h.db, models.StageNoveltyFiltered)

	h.trigger(t, JobFetchArticles, nil)
	h.drain(t)

	got := h.news(t, n.ID)
	assert.Equal(t, models.StageFailed, got.CurrentStage)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "processing_failed:403 forbidden", *got.RejectionReason)
	assert.Empty(t, h.jobs(t, JobSummarizeArticles, models.JobCompleted))
}

func TestFailedBatchFailsHeldNews(t *testing.T) {
	h := newHarness(t)
	a := testutil.CreateNews(t, h.db, models.StageNew)
	b := testutil.CreateNews(t, h.db, models.StageNew)

	h.trigger(t, JobEmbedNews, nil)
	h.drain(t)

	h.provider.finish("batch_1", nil, []batch.Result{{
		CustomID: strconv.FormatUint(uint64(a.ID), 10),
		Error:    &batch.ResultError{Code: "server_error", Message: "boom"},
	}})
	h.trigger(t, JobPollBatches, nil)
	h.drain(t)

	for _, id := range []uint{a.ID, b.ID} {
		got := h.news(t, id)
		assert.Equal(t, models.StageFailed, got.CurrentStage)
		require.NotNil(t, got.RejectionReason)
		assert.Contains(t, *got.RejectionReason, "batch_failed:")
	}
	failed := h.jobs(t, JobProcessBatch, models.JobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempts)
}

func TestAbortedBatchReleasesNews(t *testing.T) {
	h := newHarness(t)
	n := testutil.CreateNews(t, h.db, models.StageNew)

	h.trigger(t, JobEmbedNews, nil)
	h.drain(t)
	assert.Equal(t, models.StageNew.Processing(), h.news(t, n.ID).CurrentStage)

	h.provider.statuses["batch_1"].Status = models.BatchExpired
	h.trigger(t, JobPollBatches, nil)
	h.drain(t)

	assert.Equal(t, models.StageNew, h.news(t, n.ID).CurrentStage)
	var warn models.ErrorLog
	require.NoError(t, h.db.Where("level = ?", "WARN").First(&warn).Error)
	assert.Equal(t, "batch", warn.Source)
}

func TestGenerateAssetsReleasedWhenThrottled(t *testing.T) {
	h := newHarness(t)
	h.assets.err = fmt.Errorf("voiceover of scene 5: %w", throttle.ErrTimeout)

	_, err := h.queue.Dispatch(context.Background(), JobGenerateAssets, scenePayload{SceneID: 5})
	require.NoError(t, err)
	h.drain(t)

	pending := h.jobs(t, JobGenerateAssets, models.JobPending)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempts)
	assert.True(t, pending[0].AvailableAt.After(time.Now()))
}

func readyScript(t *testing.T, h *harness) (*models.News, *models.Script) {
	t.Helper()
	n, script := testutil.CreateScript(t, h.db, models.StageScriptGenerated, 2)
	for _, scene := range script.Scenes {
		testutil.AddAsset(t, h.db, scene, models.AssetAudio, models.AssetCompleted)
		testutil.AddAsset(t, h.db, scene, models.AssetVisual, models.AssetCompleted)
	}
	require.NoError(t, h.db.Create(&models.SoundEffect{Title: "Whoosh", Path: "sfx/whoosh.mp3"}).Error)
	return n, script
}

func TestComposeVideo(t *testing.T) {
	h := newHarness(t)
	n, script := readyScript(t, h)

	category := models.MusicCategory{Name: "Tech"}
	require.NoError(t, h.db.Create(&category).Error)
	worn := models.MusicTrack{CategoryID: category.ID, Title: "Worn", Path: "music/worn.mp3", NoOfUses: 4}
	fresh := models.MusicTrack{CategoryID: category.ID, Title: "Fresh", Path: "music/fresh.mp3"}
	require.NoError(t, h.db.Create(&worn).Error)
	require.NoError(t, h.db.Create(&fresh).Error)

	require.NoError(t, h.pipeline.ComposeVideo(context.Background(), jobWith(t, JobComposeVideo, scriptPayload{ScriptID: script.ID})))

	assert.Equal(t, models.StageVideoAssembled, h.news(t, n.ID).CurrentStage)
	require.Len(t, h.composer.inputs, 2)
	assert.Equal(t, "sfx/whoosh.mp3", h.composer.inputs[0].SFXPath)
	assert.Equal(t, "fade", h.composer.inputs[1].Transition)
	assert.NotEmpty(t, h.composer.inputs[0].AudioPath)
	assert.Equal(t, "music/fresh.mp3", h.composer.music)

	var stored models.Script
	require.NoError(t, h.db.First(&stored, script.ID).Error)
	require.NotNil(t, stored.VideoPath)
	assert.True(t, h.store.Exists(*stored.VideoPath))

	var track models.MusicTrack
	require.NoError(t, h.db.First(&track, fresh.ID).Error)
	assert.Equal(t, 1, track.NoOfUses)

	assert.Len(t, h.jobs(t, JobScheduleUploads, models.JobPending), 1)

	require.NoError(t, h.pipeline.ComposeVideo(context.Background(), jobWith(t, JobComposeVideo, scriptPayload{ScriptID: script.ID})))
	assert.Equal(t, 1, h.composer.calls)
}

func TestComposeVideoDiscardsRenderWhenStageMoved(t *testing.T) {
	h := newHarness(t)
	n, script := readyScript(t, h)
	category := models.MusicCategory{Name: "Tech"}
	require.NoError(t, h.db.Create(&category).Error)
	track := models.MusicTrack{CategoryID: category.ID, Title: "Only", Path: "music/only.mp3"}
	require.NoError(t, h.db.Create(&track).Error)

	h.composer.onRender = func() {
		require.NoError(t, h.db.Model(&models.News{}).Where("id = ?", n.ID).Update("current_stage", models.StageFailed).Error)
	}

	require.NoError(t, h.pipeline.ComposeVideo(context.Background(), jobWith(t, JobComposeVideo, scriptPayload{ScriptID: script.ID})))
	assert.Equal(t, 1, h.composer.calls)
	assert.False(t, h.store.Exists(h.composer.rendered))
	assert.False(t, h.store.Exists(h.store.ScriptVideoPath(script.ID)))

	var stored models.Script
	require.NoError(t, h.db.First(&stored, script.ID).Error)
	assert.Nil(t, stored.VideoPath)
	var got models.MusicTrack
	require.NoError(t, h.db.First(&got, track.ID).Error)
	assert.Zero(t, got.NoOfUses)
	assert.Empty(t, h.jobs(t, JobScheduleUploads, models.JobPending))
}

func TestComposeVideoWaitsForAssets(t *testing.T) {
	h := newHarness(t)
	n, script := testutil.CreateScript(t, h.db, models.StageScriptGenerated, 1)
	testutil.AddAsset(t, h.db, script.Scenes[0], models.AssetAudio, models.AssetCompleted)
	testutil.AddAsset(t, h.db, script.Scenes[0], models.AssetVisual, models.AssetQueued)

	require.NoError(t, h.pipeline.ComposeVideo(context.Background(), jobWith(t, JobComposeVideo, scriptPayload{ScriptID: script.ID})))
	assert.Zero(t, h.composer.calls)
	assert.Equal(t, models.StageScriptGenerated, h.news(t, n.ID).CurrentStage)
}

func TestPickTrack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.pickTrack(ctx, "Tech")
	assert.ErrorIs(t, err, ErrNoMusic)

	calm := models.MusicCategory{Name: "Calm"}
	require.NoError(t, h.db.Create(&calm).Error)
	require.NoError(t, h.db.Create(&models.MusicTrack{CategoryID: calm.ID, Title: "Rain", Path: "music/rain.mp3"}).Error)

	track, err := h.pipeline.pickTrack(ctx, "Tech")
	require.NoError(t, err)
	assert.Equal(t, "Rain", track.Title)
}

func TestLeastUsed(t *testing.T) {
	assert.Nil(t, LeastUsed(nil))

	tracks := []models.MusicTrack{{ID: 1, NoOfUses: 3}, {ID: 2, NoOfUses: 1}, {ID: 3, NoOfUses: 1}, {ID: 4, NoOfUses: 5}}
	for i := 0; i < 20; i++ {
		assert.Contains(t, []uint{2, 3}, LeastUsed(tracks).ID)
	}
}

func TestScheduleUploadsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	n, script := testutil.CreateScript(t, h.db, models.StageVideoAssembled, 1)
	require.NoError(t, h.db.Model(script).Update("video_path", "scripts/1/generated_videos/final.mp4").Error)
	require.NoError(t, h.db.Create(&models.Platform{Name: "YouTube", Slug: "youtube", IsEnabled: true}).Error)

	job := jobWith(t, JobScheduleUploads, scriptPayload{ScriptID: script.ID})
	require.NoError(t, h.pipeline.ScheduleUploads(context.Background(), job))
	require.NoError(t, h.pipeline.ScheduleUploads(context.Background(), job))

	assert.Equal(t, 1, h.scheduler.calls)
	assert.Equal(t, models.StageScheduled, h.news(t, n.ID).CurrentStage)
	var uploads int64
	h.db.Model(&models.ScheduledUpload{}).Count(&uploads)
	assert.EqualValues(t, 1, uploads)
}

func TestSlotIsNow(t *testing.T) {
	slot := time.Date(2025, 3, 5, 18, 0, 30, 0, time.UTC)
	u := &models.ScheduledUpload{ScheduledAt: slot, Timezone: "America/New_York"}

	assert.True(t, SlotIsNow(u, time.Date(2025, 3, 5, 18, 0, 59, 0, time.UTC)))
	assert.False(t, SlotIsNow(u, time.Date(2025, 3, 5, 18, 1, 0, 0, time.UTC)))
}

func createUpload(t *testing.T, db *gorm.DB, scriptID uint, platform models.Platform, at time.Time) *models.ScheduledUpload {
	t.Helper()
	u := &models.ScheduledUpload{
		ScriptID:    &scriptID,
		Title:       "Chips get faster",
		FilePath:    "scripts/1/generated_videos/final.mp4",
		PlatformID:  platform.ID,
		ScheduledAt: at,
		Timezone:    "UTC",
		Status:      models.UploadPending,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func createPlatform(t *testing.T, db *gorm.DB, slug string, enabled bool) models.Platform {
	t.Helper()
	p := models.Platform{Name: slug, Slug: slug}
	require.NoError(t, db.Create(&p).Error)
	// gorm skips false on create because of the column default.
	require.NoError(t, db.Model(&p).Update("is_enabled", enabled).Error)
	p.IsEnabled = enabled
	return p
}

func TestProcessScheduledUploadsDispatchesDueSlots(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 3, 5, 18, 0, 0, 0, time.UTC)
	h.pipeline.now = func() time.Time { return now }

	_, script := testutil.CreateScript(t, h.db, models.StageScheduled, 1)
	youtube := createPlatform(t, h.db, "youtube", true)
	createUpload(t, h.db, script.ID, youtube, now)
	createUpload(t, h.db, script.ID, youtube, now.Add(time.Hour))

	require.NoError(t, h.pipeline.ProcessScheduledUploads(context.Background(), jobWith(t, JobProcessScheduledUploads, uploadsDuePayload{})))
	assert.Len(t, h.jobs(t, JobUploadVideo, models.JobPending), 1)

	require.NoError(t, h.pipeline.ProcessScheduledUploads(context.Background(), jobWith(t, JobProcessScheduledUploads, uploadsDuePayload{Force: true})))
	assert.Len(t, h.jobs(t, JobUploadVideo, models.JobPending), 2)
}

func TestUploadVideoPublishesWhenEnabledPlatformsAreDone(t *testing.T) {
	h := newHarness(t)
	n, script := testutil.CreateScript(t, h.db, models.StageScheduled, 1)
	youtube := createPlatform(t, h.db, "youtube", true)
	tiktok := createPlatform(t, h.db, "tiktok", false)
	yt := createUpload(t, h.db, script.ID, youtube, time.Now())
	tt := createUpload(t, h.db, script.ID, tiktok, time.Now())
	h.uploaders["youtube"] = &fakeUploader{slug: "youtube"}
	h.uploaders["tiktok"] = &fakeUploader{slug: "tiktok"}

	require.NoError(t, h.pipeline.UploadVideo(context.Background(), jobWith(t, JobUploadVideo, uploadPayload{UploadID: tt.ID})))
	assert.Zero(t, h.uploaders["tiktok"].calls)

	require.NoError(t, h.pipeline.UploadVideo(context.Background(), jobWith(t, JobUploadVideo, uploadPayload{UploadID: yt.ID})))

	var got models.ScheduledUpload
	require.NoError(t, h.db.First(&got, yt.ID).Error)
	assert.Equal(t, models.UploadUploaded, got.Status)
	assert.JSONEq(t, `{"id":"vid-1"}`, string(got.UploadResponse))
	assert.Equal(t, models.StagePublished, h.news(t, n.ID).CurrentStage)

	require.NoError(t, h.pipeline.UploadVideo(context.Background(), jobWith(t, JobUploadVideo, uploadPayload{UploadID: yt.ID})))
	assert.Equal(t, 1, h.uploaders["youtube"].calls)
}

func TestUploadVideoFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	n, script := testutil.CreateScript(t, h.db, models.StageScheduled, 1)
	youtube := createPlatform(t, h.db, "youtube", true)
	u := createUpload(t, h.db, script.ID, youtube, time.Now())
	h.uploaders["youtube"] = &fakeUploader{slug: "youtube", err: errors.New("quota exceeded")}

	_, err := h.queue.Dispatch(context.Background(), JobUploadVideo, uploadPayload{UploadID: u.ID})
	require.NoError(t, err)
	h.drain(t)

	failed := h.jobs(t, JobUploadVideo, models.JobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempts)

	var got models.ScheduledUpload
	require.NoError(t, h.db.First(&got, u.ID).Error)
	assert.Equal(t, models.UploadFailed, got.Status)
	assert.Contains(t, string(got.UploadResponse), "Error: quota exceeded")
	assert.Equal(t, models.StageScheduled, h.news(t, n.ID).CurrentStage)

	var log models.ErrorLog
	require.NoError(t, h.db.Where("source = ?", "uploader").First(&log).Error)
	assert.Equal(t, "youtube", log.PlatformSlug)
}
