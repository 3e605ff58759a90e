package observability

const (
	AttrTask         = "train.task"
	AttrIteration    = "train.iteration"
	AttrModelType    = "train.model"
	AttrErrorType    = "error.type"
	AttrHTTPMethod   = "http.method"
	AttrHTTPPath     = "http.path"
	AttrHTTPStatus   = "http.status_code"
	AttrHTTPRespSize = "http.response_size"

	SpanTrainIteration = "train.iteration"
	SpanRollout        = "train.rollout"
	SpanEvaluation     = "train.evaluation"
	SpanCheckpoint     = "train.checkpoint"
	SpanHTTPRequest    = "http.request"

	DefaultServiceName  = "locodiff"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
	DefaultSamplingRate = 1.0
)
