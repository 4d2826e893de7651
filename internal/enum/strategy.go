package enum

type SyncStrategy string

const (
	SyncStrategyFull        SyncStrategy = "full"
	SyncStrategyIncremental SyncStrategy = "incremental"
	SyncStrategyRetryFailed SyncStrategy = "retry_failed"
)

func (t SyncStrategy) String() string {
	return string(t)
}
