package constant

type UploadStatus string

const (
	UploadStatusReadyToUpload    UploadStatus = "ready_to_upload"
	UploadStatusUploaded         UploadStatus = "uploaded"
	UploadStatusNotReadyToUpload UploadStatus = "not_ready_to_upload"
)

// JobStatus is the normalized terminal state reported by an asynchronous
// compute job. THROTTLED is backpressure, not failure: the job can be
// resubmitted after the reported delay.
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusThrottled JobStatus = "THROTTLED"
)

type JobType string

const (
	JobTypeIngest     JobType = "ingest"
	JobTypeTranscribe JobType = "transcribe"
	JobTypeSummarize  JobType = "summarize"
	JobTypeUpload     JobType = "upload"
)

type EventType string

const (
	EventEpisodeUploadStatus   EventType = "EpisodeUploadStatus"
	EventStreamIngestionStatus EventType = "StreamIngestionStatus"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
