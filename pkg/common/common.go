package common

import (
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode *snowflake.Node
	idOnce sync.Once
)

// UUIDint64 returns a process-wide unique int64 id.
func UUIDint64() int64 {
	idOnce.Do(func() {
		node, err := snowflake.NewNode(int64(os.Getpid() % 1024))
		if err != nil {
			node, _ = snowflake.NewNode(1)
		}
		idNode = node
	})
	return idNode.Generate().Int64()
}
