package pipeline

import "github.com/ifuryst/quickbyte/internal/models"

// Job names registered on the queue.
const (
	JobFetchNews               = "fetch-news"
	JobClassifyNews            = "classify-news"
	JobPollBatches             = "poll-batches"
	JobProcessBatch            = "process-batch"
	JobEmbedNews               = "embed-news"
	JobFilterNovelty           = "filter-novelty"
	JobFetchArticles           = "fetch-articles"
	JobSummarizeArticles       = "summarize-articles"
	JobGenerateScripts         = "generate-scripts"
	JobGenerateAssets          = "generate-assets"
	JobCheckQueuedAssets       = "check-queued-assets"
	JobFindReadyScripts        = "find-ready-scripts"
	JobComposeVideo            = "compose-video"
	JobScheduleUploads         = "schedule-uploads"
	JobProcessScheduledUploads = "process-scheduled-uploads"
	JobUploadVideo             = "upload-video"
	JobReclaimStale            = "reclaim-stale"
)

// Message is the completion event a stage publishes.
type Message string

const (
	MsgNewsFetched      Message = "news_fetched"
	MsgBatchCompleted   Message = "batch_completed"
	MsgNewsClassified   Message = "news_classified"
	MsgNewsEmbedded     Message = "news_embedded"
	MsgNoveltyFiltered  Message = "novelty_filtered"
	MsgArticlesFetched  Message = "articles_fetched"
	MsgSummariesFetched Message = "summaries_fetched"
	MsgScriptStored     Message = "script_stored"
	MsgAssetRegenerate  Message = "asset_regenerate"
	MsgAssetsReady      Message = "assets_ready"
	MsgVideoAssembled   Message = "video_assembled"
	MsgUploadDue        Message = "upload_due"
)

// StageEdge is the job that moves news out of a stage.
type StageEdge struct {
	Stage models.NewsStage `json:"stage"`
	Job   string           `json:"job"`
	Next  models.NewsStage `json:"next"`
}

// Route binds a message to the job it triggers.
type Route struct {
	Message Message `json:"message"`
	Job     string  `json:"job"`
}

// Trigger is a job started by the clock rather than by a message.
type Trigger struct {
	Job         string `json:"job"`
	Description string `json:"description"`
}

// StageGraph describes how work flows through the pipeline.
type StageGraph struct {
	Stages   []StageEdge `json:"stages"`
	Routes   []Route     `json:"routes"`
	Triggers []Trigger   `json:"triggers"`
}

var stageEdges = []StageEdge{
	{Stage: models.StageNew, Job: JobFilterNovelty, Next: models.StageNoveltyFiltered},
	{Stage: models.StageNoveltyFiltered, Job: JobFetchArticles, Next: models.StageArticleFetched},
	{Stage: models.StageArticleFetched, Job: JobSummarizeArticles, Next: models.StageSummaryFetched},
	{Stage: models.StageSummaryFetched, Job: JobGenerateScripts, Next: models.StageScriptGenerated},
	{Stage: models.StageScriptGenerated, Job: JobComposeVideo, Next: models.StageVideoAssembled},
	{Stage: models.StageVideoAssembled, Job: JobScheduleUploads, Next: models.StageScheduled},
	{Stage: models.StageScheduled, Job: JobUploadVideo, Next: models.StagePublished},
}

var routes = map[Message]string{
	MsgNewsFetched:      JobClassifyNews,
	MsgBatchCompleted:   JobProcessBatch,
	MsgNewsClassified:   JobEmbedNews,
	MsgNewsEmbedded:     JobFilterNovelty,
	MsgNoveltyFiltered:  JobFetchArticles,
	MsgArticlesFetched:  JobSummarizeArticles,
	MsgSummariesFetched: JobGenerateScripts,
	MsgScriptStored:     JobGenerateAssets,
	MsgAssetRegenerate:  JobGenerateAssets,
	MsgAssetsReady:      JobComposeVideo,
	MsgVideoAssembled:   JobScheduleUploads,
	MsgUploadDue:        JobUploadVideo,
}

// routeOrder keeps Graph output stable.
var routeOrder = []Message{
	MsgNewsFetched,
	MsgBatchCompleted,
	MsgNewsClassified,
	MsgNewsEmbedded,
	MsgNoveltyFiltered,
	MsgArticlesFetched,
	MsgSummariesFetched,
	MsgScriptStored,
	MsgAssetRegenerate,
	MsgAssetsReady,
	MsgVideoAssembled,
	MsgUploadDue,
}

var triggers = []Trigger{
	{Job: JobFetchNews, Description: "collect headlines from every enabled source"},
	{Job: JobPollBatches, Description: "refresh running provider batches"},
	{Job: JobCheckQueuedAssets, Description: "poll long-running asset providers"},
	{Job: JobFindReadyScripts, Description: "hand scripts with every asset completed to the composer"},
	{Job: JobProcessScheduledUploads, Description: "start uploads whose slot is now"},
	{Job: JobReclaimStale, Description: "hand news held past the claim lease back to their stage"},
}

// Graph returns the stage table, the message routes and the clock triggers.
func Graph() StageGraph {
	g := StageGraph{
		Stages:   append([]StageEdge(nil), stageEdges...),
		Triggers: append([]Trigger(nil), triggers...),
	}
	for _, m := range routeOrder {
		g.Routes = append(g.Routes, Route{Message: m, Job: routes[m]})
	}
	return g
}

// JobFor returns the job a message triggers.
func JobFor(m Message) (string, bool) {
	job, ok := routes[m]
	return job, ok
}
