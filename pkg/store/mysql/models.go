package mysql

import "fleetscale/pkg/store/mysql/model"

// Re-export types from the model package so callers outside this package
// can reference mysql.ScalingEvent without importing the model package
// directly.
type (
	ScalingEvent = model.ScalingEvent
	Replica      = model.Replica

	JSONMap         = model.JSONMap
	JSONStringArray = model.JSONStringArray
)

var (
	StringMapToJSONMap = model.StringMapToJSONMap
	JSONMapToStringMap = model.JSONMapToStringMap
)
