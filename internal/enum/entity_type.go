package enum

type EntityType string

const (
	ACCOUNT   EntityType = "ACCOUNT"
	FOLDER    EntityType = "FOLDER"
	EMAIL     EntityType = "EMAIL"
	OPERATION EntityType = "OPERATION"
)

func (entityType EntityType) String() string {
	return string(entityType)
}
