package enum

type OperationType string

const (
	OperationSend         OperationType = "send"
	OperationDelete       OperationType = "delete"
	OperationMarkRead     OperationType = "mark-read"
	OperationMarkUnread   OperationType = "mark-unread"
	OperationStar         OperationType = "star"
	OperationUnstar       OperationType = "unstar"
	OperationMove         OperationType = "move"
	OperationCreateFolder OperationType = "create-folder"
	OperationDeleteFolder OperationType = "delete-folder"
)

var operationTypes = map[OperationType]struct{}{
	OperationSend:         {},
	OperationDelete:       {},
	OperationMarkRead:     {},
	OperationMarkUnread:   {},
	OperationStar:         {},
	OperationUnstar:       {},
	OperationMove:         {},
	OperationCreateFolder: {},
	OperationDeleteFolder: {},
}

func (t OperationType) String() string {
	return string(t)
}

func (t OperationType) IsValid() bool {
	_, ok := operationTypes[t]
	return ok
}
