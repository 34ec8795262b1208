package redis

import (
	"fmt"

	"github.com/crmflow/crmflow/core"
)

func definitionKey(prefix, id string, version int) string {
	return fmt.Sprintf("%vdefinition:%v:%v", prefix, id, version)
}

// activeDefinitionsKey returns the key of the SET holding "id:version"
// members for all active definitions of one (entity type, trigger event)
// pair.
func activeDefinitionsKey(prefix, entityType, event string) string {
	return fmt.Sprintf("%vactive-definitions:%v:%v", prefix, entityType, event)
}

func runKey(prefix, runID string) string {
	return fmt.Sprintf("%vrun:%v", prefix, runID)
}

// runsByRecordKey returns the key of the ZSET holding run ids for one
// record, scored by run start time.
func runsByRecordKey(prefix string, ref core.RecordRef) string {
	return fmt.Sprintf("%vruns-by-record:%v:%v", prefix, ref.EntityType, ref.ID)
}

// timersKey returns the key of the ZSET holding pending timers scored by
// fire time.
func timersKey(prefix string) string {
	return prefix + "timers"
}
