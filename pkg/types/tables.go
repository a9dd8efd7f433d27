package types

import "fmt"

type TableName string

func (s TableName) Name() string {
	return fmt.Sprintf("%s%s", TABLE_PREFIX, s)
}

const TABLE_PREFIX = "quizlab_"

const (
	TABLE_USER         = TableName("user")
	TABLE_ACCESS_TOKEN = TableName("access_token")
	TABLE_QUIZ         = TableName("quiz")
	TABLE_SHARE_LINK   = TableName("share_link")
	TABLE_SHARE_USAGE  = TableName("share_usage")
)
